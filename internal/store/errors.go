package store

import (
	"errors"
	"fmt"
)

// Errors returned by store operations.
var (
	// ErrRefMismatch indicates a ref did not hold the expected old value.
	ErrRefMismatch = errors.New("ref does not hold the expected value")

	// ErrCorrupt indicates the object database is damaged or unreadable.
	ErrCorrupt = errors.New("object store corrupt")

	// ErrNotFound indicates a missing object.
	ErrNotFound = errors.New("object not found")

	// ErrWrongType indicates an object of another kind than requested.
	ErrWrongType = errors.New("object has the wrong type")

	// ErrInvalidPath indicates a tree path that cannot be stored.
	ErrInvalidPath = errors.New("invalid tree path")
)

// RefMismatchError reports the first ref whose current value differed from
// the expected one during UpdateRefs. No ref was changed.
type RefMismatchError struct {
	Ref      string
	Expected ID
	Actual   ID
}

// Error implements the error interface.
func (e *RefMismatchError) Error() string {
	return fmt.Sprintf("ref %s: expected %s, found %s", e.Ref, e.Expected.orNone(), e.Actual.orNone())
}

// Unwrap returns ErrRefMismatch.
func (e *RefMismatchError) Unwrap() error {
	return ErrRefMismatch
}
