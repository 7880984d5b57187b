package infer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/fridgevision/internal/classify"
	"github.com/a-marczewski/fridgevision/internal/ledger"
	"github.com/a-marczewski/fridgevision/internal/produce"
)

type stubClassifier struct {
	candidates []classify.Candidate
	err        error
}

func (s *stubClassifier) Classify(_ context.Context, _ *image.RGBA, topK int) ([]classify.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if topK > 0 && len(s.candidates) > topK {
		return s.candidates[:topK], nil
	}
	return s.candidates, nil
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, *ledger.Record) error { return errors.New("disk full") }
func (failingLedger) Latest(context.Context) (ledger.Record, error) {
	return ledger.Record{}, ledger.ErrNoRecords
}
func (failingLedger) All(context.Context) ([]ledger.Record, error) { return nil, nil }
func (failingLedger) Count(context.Context) (int, error)           { return 0, nil }
func (failingLedger) Close() error                                 { return nil }

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 220, G: 200, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, classifier classify.Classifier) (*Pipeline, ledger.Ledger) {
	t.Helper()
	store := ledger.NewFileLedger(filepath.Join(t.TempDir(), "data", "expiry_data.json"))
	policy := produce.NewPolicy(nil, 5)
	return NewPipeline(classifier, policy, store, 3, time.Second, zap.NewNop()), store
}

func TestPipelineRecordsTopCandidate(t *testing.T) {
	classifier := &stubClassifier{candidates: []classify.Candidate{
		{Label: "Banana", Description: "Banana", Confidence: 0.91},
		{Label: "Plantain", Description: "Plantain", Confidence: 0.06},
	}}
	p, store := newTestPipeline(t, classifier)

	candidates, rec, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Banana", candidates[0].Label)

	// Top label is normalized before policy lookup and persistence.
	assert.Equal(t, "banana", rec.Fruit)
	assert.Equal(t, 3, rec.ExpiryDays)
	assert.True(t, rec.ExpiryAt.Equal(rec.AddedAt.AddDate(0, 0, 3)))

	// The persisted record reads back field-for-field identical.
	got, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.Fruit, got.Fruit)
	assert.Equal(t, rec.ExpiryDays, got.ExpiryDays)
	assert.True(t, got.AddedAt.Equal(rec.AddedAt.Time))
	assert.True(t, got.ExpiryAt.Equal(rec.ExpiryAt.Time))
	assert.Equal(t, rec.Seq, got.Seq)
}

func TestPipelineUnknownLabelGetsDefault(t *testing.T) {
	classifier := &stubClassifier{candidates: []classify.Candidate{
		{Label: "Kiwi", Description: "Kiwi", Confidence: 0.8},
	}}
	p, _ := newTestPipeline(t, classifier)

	_, rec, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "kiwi", rec.Fruit)
	assert.Equal(t, 5, rec.ExpiryDays)
}

func TestPipelineDecodeFailure(t *testing.T) {
	p, store := newTestPipeline(t, &stubClassifier{})

	_, _, err := p.Run(context.Background(), bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, kind)
	assert.ErrorIs(t, err, classify.ErrDecode)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "failed request must not touch the ledger")
}

func TestPipelineClassifierFailure(t *testing.T) {
	p, store := newTestPipeline(t, &stubClassifier{err: errors.New("model unavailable")})

	_, _, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindClassifier, kind)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipelineEmptyCandidates(t *testing.T) {
	p, _ := newTestPipeline(t, &stubClassifier{})

	_, _, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindClassifier, kind)
	assert.ErrorIs(t, err, classify.ErrEmptyResult)
}

func TestPipelinePersistenceFailure(t *testing.T) {
	classifier := &stubClassifier{candidates: []classify.Candidate{
		{Label: "banana", Description: "Banana", Confidence: 0.9},
	}}
	p := NewPipeline(classifier, produce.NewPolicy(nil, 5), failingLedger{}, 3, time.Second, zap.NewNop())

	_, _, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindPersistence, kind)
}

func TestPipelineFixedClock(t *testing.T) {
	classifier := &stubClassifier{candidates: []classify.Candidate{
		{Label: "banana", Description: "Banana", Confidence: 0.9},
	}}
	p, _ := newTestPipeline(t, classifier)
	fixed := time.Date(2025, 8, 29, 12, 0, 0, 0, time.Local)
	p.now = func() time.Time { return fixed }

	_, rec, err := p.Run(context.Background(), bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, "2025-08-29 12:00:00", rec.AddedAt.String())
	assert.Equal(t, "2025-09-01 12:00:00", rec.ExpiryAt.String())
}
