package models

import "errors"

var (
	// ErrValidation marks malformed boundary input (odds, probabilities, budgets).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown calibration id, jackpot, ticket set or task.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientData marks a batch job that had too few samples to produce output.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrConcurrencyConflict marks a lost compare-and-swap; callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Kind returns a stable short name for err's class, "internal" when unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	default:
		return "internal"
	}
}
