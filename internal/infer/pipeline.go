// Package infer composes the classification-to-ledger pipeline: decode the
// uploaded image, classify it, map the top label to a shelf life, and append
// the resulting record to the ledger.
package infer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/fridgevision/internal/classify"
	"github.com/a-marczewski/fridgevision/internal/ledger"
	"github.com/a-marczewski/fridgevision/internal/produce"
)

// Kind identifies which pipeline step failed.
type Kind string

const (
	KindNoFile      Kind = "no_file"
	KindDecode      Kind = "decode"
	KindClassifier  Kind = "classifier"
	KindPersistence Kind = "persistence"
)

// Error is a pipeline failure tagged with the step it occurred in.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from a pipeline error.
func KindOf(err error) (Kind, bool) {
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind, true
	}
	return "", false
}

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Pipeline runs one classification request end to end. The classifier handle
// and ledger are shared across requests; the pipeline itself holds no mutable
// state, so requests only contend inside the ledger's append.
type Pipeline struct {
	classifier classify.Classifier
	policy     *produce.Policy
	store      ledger.Ledger
	topK       int
	timeout    time.Duration
	logger     *zap.Logger

	now func() time.Time
}

// NewPipeline wires the pipeline dependencies.
func NewPipeline(classifier classify.Classifier, policy *produce.Policy, store ledger.Ledger, topK int, timeout time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		policy:     policy,
		store:      store,
		topK:       topK,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Run decodes the image, classifies it, and appends an expiry record for the
// normalized top candidate. It returns the ranked candidates and the record
// that was persisted. A failed append fails the whole request; the caller
// gets no predictions from a request whose record was not durably written.
func (p *Pipeline) Run(ctx context.Context, imageData io.Reader) ([]classify.Candidate, ledger.Record, error) {
	img, err := classify.DecodeRGB(imageData)
	if err != nil {
		return nil, ledger.Record{}, fail(KindDecode, err)
	}

	// The classifier call is bounded so a stalled backend cannot pin the
	// request forever. It holds no ledger lock.
	classifyCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	candidates, err := p.classifier.Classify(classifyCtx, img, p.topK)
	if err != nil {
		return nil, ledger.Record{}, fail(KindClassifier, err)
	}
	if len(candidates) == 0 {
		return nil, ledger.Record{}, fail(KindClassifier, classify.ErrEmptyResult)
	}

	fruit := produce.Normalize(candidates[0].Label)
	days := p.policy.ExpiryDays(fruit)
	rec := ledger.NewRecord(fruit, p.now(), days)

	if err := p.store.Append(ctx, &rec); err != nil {
		p.logger.Error("Failed to append expiry record",
			zap.String("fruit", fruit),
			zap.Error(err))
		return nil, ledger.Record{}, fail(KindPersistence, err)
	}

	p.logger.Info("Recorded classification",
		zap.String("fruit", fruit),
		zap.Int("expiry_days", days),
		zap.Int64("seq", rec.Seq),
		zap.Float64("confidence", candidates[0].Confidence))

	return candidates, rec, nil
}
