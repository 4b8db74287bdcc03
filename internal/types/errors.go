package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers branch with errors.Is.
var (
	// ErrNotFound means an unknown record id. Always surfaced, never retried.
	ErrNotFound = errors.New("record not found")

	// ErrConflict covers merges on fewer than two records and archive/delete
	// racing a concurrent deletion.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable means a summarizer/embedder backend is unreachable.
	// Recovered locally via fallback; logged, never surfaced as a hard failure.
	ErrUnavailable = errors.New("external service unavailable")
)

// ValidationError reports malformed metadata with field-level detail.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
