package classify

import (
	"context"
	"image"
)

// StaticClassifier always answers with a fixed label at full confidence.
// It exists for offline development and as the test double.
type StaticClassifier struct {
	Label string
}

// Classify returns the configured label as the sole candidate.
func (s *StaticClassifier) Classify(_ context.Context, _ *image.RGBA, topK int) ([]Candidate, error) {
	if s.Label == "" {
		return nil, ErrEmptyResult
	}
	return rank([]Candidate{{Label: s.Label, Description: s.Label, Confidence: 1.0}}, topK), nil
}
