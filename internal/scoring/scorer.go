// Package scoring turns flow feature vectors into anomaly scores.
package scoring

import (
	"errors"
	"fmt"

	"AegisNet/internal/model"
)

// Scorer produces an anomaly score for a feature vector. Implementations must
// be deterministic and safe for concurrent use.
type Scorer interface {
	// Fields returns the feature names the scorer requires, in model order.
	Fields() []string
	Score(fv model.FeatureVector) (float64, error)
	// ScoreBatch scores every vector independently, preserving input order.
	ScoreBatch(fvs []model.FeatureVector) []BatchResult
}

// BatchResult is the outcome of scoring one item of a batch.
type BatchResult struct {
	Score float64
	Err   error
}

// ErrNotLoaded is returned when the model or its normalization statistics are absent.
var ErrNotLoaded = fmt.Errorf("%w: scoring model not loaded", model.ErrFatal)

// ValidationError reports a feature vector the scorer cannot accept.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feature %q: %s", e.Field, e.Reason)
}

// Unwrap classifies validation errors as malformed input.
func (e *ValidationError) Unwrap() error {
	return model.ErrMalformed
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// scoreEach is the shared ScoreBatch implementation.
func scoreEach(s Scorer, fvs []model.FeatureVector) []BatchResult {
	out := make([]BatchResult, len(fvs))
	for i, fv := range fvs {
		score, err := s.Score(fv)
		out[i] = BatchResult{Score: score, Err: err}
	}
	return out
}
