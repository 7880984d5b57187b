package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger stores the ledger as a single JSON array file. Every append
// reloads the full history and rewrites the file, so the whole cycle runs
// under one mutex; Latest and All share it so they never see a half-written
// array. The write goes through a temp file and rename, which keeps the store
// intact if the process dies mid-write.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger creates a file-backed ledger at path. The file and its
// directory are created on first append, never earlier.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// load reads the full record history. A missing file returns ErrNoStore; a
// file that exists but cannot be parsed is a persistence error, not an empty
// ledger — silently treating it as empty would truncate history on the next
// append.
func (l *FileLedger) load() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoStore
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ledger file %s is corrupt: %w", l.path, err)
	}
	for i := range records {
		records[i].Seq = int64(i + 1)
	}
	return records, nil
}

// Append adds a record to the end of the ledger and assigns its Seq.
func (l *FileLedger) Append(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil && !errors.Is(err, ErrNoStore) {
		return err
	}

	rec.Seq = int64(len(records) + 1)
	records = append(records, *rec)

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close ledger file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Latest returns the chronologically last record. ErrNoStore means the store
// has never been written, ErrNoRecords that it exists but is empty.
func (l *FileLedger) Latest(_ context.Context) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNoRecords
	}
	return records[len(records)-1], nil
}

// All returns the full history in insertion order. An empty or missing store
// yields an empty slice, not an error.
func (l *FileLedger) All(_ context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if errors.Is(err, ErrNoStore) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Count returns the number of records.
func (l *FileLedger) Count(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if errors.Is(err, ErrNoStore) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Close is a no-op; the file is opened per operation.
func (l *FileLedger) Close() error {
	return nil
}
