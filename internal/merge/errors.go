package merge

import (
	"errors"
	"fmt"
)

// Sentinel errors for conflict handling.
var (
	// ErrMalformedConflict indicates a conflict file with unbalanced or
	// nested markers.
	ErrMalformedConflict = errors.New("malformed conflict file")

	// ErrNoConflictFile indicates that no side-car exists for a path.
	ErrNoConflictFile = errors.New("no conflict file")

	// ErrUnknownSide indicates a side name other than ours or theirs.
	ErrUnknownSide = errors.New("unknown conflict side")
)

// MalformedConflictError reports the line where conflict parsing failed.
type MalformedConflictError struct {
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *MalformedConflictError) Error() string {
	return fmt.Sprintf("malformed conflict file at line %d: %s", e.Line, e.Reason)
}

// Unwrap returns ErrMalformedConflict.
func (e *MalformedConflictError) Unwrap() error {
	return ErrMalformedConflict
}
