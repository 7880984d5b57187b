package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLedger(t *testing.T) *FileLedger {
	t.Helper()
	return NewFileLedger(filepath.Join(t.TempDir(), "data", "expiry_data.json"))
}

func TestFileLedgerFreshStore(t *testing.T) {
	l := newTestFileLedger(t)
	ctx := context.Background()

	_, err := l.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoStore)
	// ErrNoStore is still an empty-ledger outcome.
	assert.ErrorIs(t, err, ErrNoRecords)

	count, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	records, err := l.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileLedgerAppendAndLatest(t *testing.T) {
	l := newTestFileLedger(t)
	ctx := context.Background()

	rec := NewRecord("banana", time.Now(), 3)
	require.NoError(t, l.Append(ctx, &rec))
	assert.Equal(t, int64(1), rec.Seq)

	got, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Fruit, got.Fruit)
	assert.Equal(t, rec.ExpiryDays, got.ExpiryDays)
	assert.True(t, got.AddedAt.Equal(rec.AddedAt.Time))
	assert.True(t, got.ExpiryAt.Equal(rec.ExpiryAt.Time))
	assert.Equal(t, rec.Seq, got.Seq)
}

func TestFileLedgerLatestIsLastAppended(t *testing.T) {
	l := newTestFileLedger(t)
	ctx := context.Background()

	for i, fruit := range []string{"apple", "banana", "kiwi"} {
		rec := NewRecord(fruit, time.Now(), 5)
		require.NoError(t, l.Append(ctx, &rec))
		assert.Equal(t, int64(i+1), rec.Seq)
	}

	got, err := l.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kiwi", got.Fruit)
	assert.Equal(t, int64(3), got.Seq)

	records, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "apple", records[0].Fruit)
	assert.Equal(t, "kiwi", records[2].Fruit)
}

func TestFileLedgerConcurrentAppends(t *testing.T) {
	l := newTestFileLedger(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := NewRecord(fmt.Sprintf("fruit-%d", i), time.Now(), 5)
			assert.NoError(t, l.Append(ctx, &rec))
		}(i)
	}
	wg.Wait()

	count, err := l.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, count)

	// No record lost and no duplicate sequence positions.
	records, err := l.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, writers)
	seen := make(map[string]bool)
	for i, rec := range records {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.False(t, seen[rec.Fruit], "duplicate record %s", rec.Fruit)
		seen[rec.Fruit] = true
	}
}

func TestFileLedgerCreatesDirectoryOnFirstWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "expiry_data.json")
	l := NewFileLedger(path)

	rec := NewRecord("orange", time.Now(), 10)
	require.NoError(t, l.Append(context.Background(), &rec))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestFileLedgerCorruptStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expiry_data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	l := NewFileLedger(path)
	ctx := context.Background()

	// A corrupt store is a persistence error, never silently treated as
	// empty: an append on top of it would truncate history.
	_, err := l.Latest(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRecords)

	rec := NewRecord("banana", time.Now(), 3)
	assert.Error(t, l.Append(ctx, &rec))
}

func TestFileLedgerEmptyFileIsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expiry_data.json")
	require.NoError(t, os.WriteFile(path, []byte{}, 0644))
	l := NewFileLedger(path)

	_, err := l.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.NotErrorIs(t, err, ErrNoStore)
}

func TestFileLedgerDiskFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expiry_data.json")
	l := NewFileLedger(path)

	rec := NewRecord("banana", time.Now(), 3)
	require.NoError(t, l.Append(context.Background(), &rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)

	assert.Equal(t, "banana", raw[0]["fruit"])
	assert.Equal(t, float64(3), raw[0]["expiry_days"])
	// Timestamps use the fixed YYYY-MM-DD HH:MM:SS layout.
	for _, field := range []string{"added_date", "expiry_date"} {
		val, ok := raw[0][field].(string)
		require.True(t, ok, "missing %s", field)
		_, err := time.Parse(TimeLayout, val)
		assert.NoError(t, err, "bad %s format: %s", field, val)
	}
	// The sequence number is storage-internal, not part of the wire format.
	_, hasSeq := raw[0]["Seq"]
	assert.False(t, hasSeq)
}
