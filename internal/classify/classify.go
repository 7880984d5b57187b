// Package classify turns uploaded image bytes into a ranked list of produce
// candidates via an external classifier capability.
package classify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"

	// Registered decoders for the upload formats we accept.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// InputSize is the fixed square input dimension expected by the classifier.
const InputSize = 224

// ErrDecode is returned when the payload is not a decodable image.
var ErrDecode = errors.New("could not decode image")

// ErrEmptyResult is returned when the classifier produces no candidates.
// A result is never fabricated in that case.
var ErrEmptyResult = errors.New("classifier returned no candidates")

// Candidate is one ranked classification guess. The JSON field names are the
// wire format of the /predict response.
type Candidate struct {
	Label       string  `json:"class"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Classifier is the external classification capability. Implementations must
// return candidates sorted by descending confidence, at most topK of them,
// and an error rather than an empty list.
type Classifier interface {
	Classify(ctx context.Context, img *image.RGBA, topK int) ([]Candidate, error)
}

// DecodeRGB decodes the payload and stretch-resizes it to the classifier's
// InputSize x InputSize RGB input. The resize ignores aspect ratio on
// purpose: non-square inputs are distorted rather than cropped.
func DecodeRGB(r io.Reader) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// rank sorts candidates by descending confidence and bounds the list to topK.
func rank(candidates []Candidate, topK int) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}
