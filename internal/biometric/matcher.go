// Package biometric enrolls and verifies faces. Extraction is delegated to an
// Extractor; the package owns normalisation, similarity scoring, the match
// threshold and sealing embeddings at rest. Images are never stored.
package biometric

import (
	"context"
	"fmt"
	"math"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
)

const DefaultThreshold = 0.80

type Matcher struct {
	extractor Extractor
	sealer    *Sealer
	threshold float64
}

func NewMatcher(extractor Extractor, sealer *Sealer, threshold float64) (*Matcher, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	return &Matcher{extractor: extractor, sealer: sealer, threshold: threshold}, nil
}

// Enroll extracts the face in image and returns its sealed embedding.
func (m *Matcher) Enroll(ctx context.Context, accountNumber string, image []byte) ([]byte, error) {
	embedding, err := m.extract(ctx, image)
	if err != nil {
		return nil, err
	}
	return m.sealer.Seal(embedding, accountNumber)
}

// Verify scores image against a sealed embedding. The score is in [0, 1].
func (m *Matcher) Verify(ctx context.Context, accountNumber string, sealed, image []byte) (float64, error) {
	stored, err := m.sealer.Open(sealed, accountNumber)
	if err != nil {
		return 0, err
	}
	candidate, err := m.extract(ctx, image)
	if err != nil {
		return 0, err
	}
	return Similarity(stored, candidate)
}

func (m *Matcher) Matches(score float64) bool {
	return score >= m.threshold
}

func (m *Matcher) extract(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, errors.NewValidationError("image", "must be non-empty")
	}
	embedding, err := m.extractor.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	normalized, ok := normalize(embedding)
	if !ok {
		return nil, errors.ErrNoFaceDetected
	}
	return normalized, nil
}

// normalize scales v to unit length. It reports false for a zero vector.
func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out, true
}

// Similarity is the cosine similarity of a and b, with negative values
// clamped to 0.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d", errors.ErrEmbeddingMismatch, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}

	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case score < 0:
		return 0, nil
	case score > 1:
		return 1, nil
	}
	return score, nil
}
