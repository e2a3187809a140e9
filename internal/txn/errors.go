package txn

import (
	"errors"
	"fmt"

	"github.com/dshills/stratum/internal/store"
)

// Errors returned by transactions and recovery.
var (
	// ErrEmptyTransaction indicates Commit on a transaction with no updates.
	ErrEmptyTransaction = errors.New("transaction has no updates")

	// ErrNotBuilding indicates a change to a transaction that was already
	// committed, rolled back or aborted.
	ErrNotBuilding = errors.New("transaction is no longer building")

	// ErrDuplicateRef indicates a second update for the same ref.
	ErrDuplicateRef = errors.New("ref already in transaction")

	// ErrOldValueMismatch indicates a ref moved after it was observed.
	ErrOldValueMismatch = errors.New("ref moved since it was observed")

	// ErrRepairRequired indicates a damaged log or store that recovery will
	// not resolve on its own.
	ErrRepairRequired = errors.New("repair required")
)

// OldValueMismatchError reports a ref whose current value differs from the
// value observed when it was added. Retry by re-reading state.
type OldValueMismatchError struct {
	Ref      string
	Expected store.ID
	Actual   store.ID

	// Err is the store error when the store itself rejected the update.
	Err error
}

// Error implements the error interface.
func (e *OldValueMismatchError) Error() string {
	return fmt.Sprintf("ref %s moved: expected %s, found %s", e.Ref, orNone(e.Expected), orNone(e.Actual))
}

// Unwrap returns the store error if any, and ErrOldValueMismatch.
func (e *OldValueMismatchError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOldValueMismatch, e.Err}
	}
	return []error{ErrOldValueMismatch}
}

// RepairRequiredError reports a transaction log or store state that needs
// manual repair. The log is left in place.
type RepairRequiredError struct {
	ID     string
	Path   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *RepairRequiredError) Error() string {
	msg := fmt.Sprintf("repair required for transaction %s (%s): %s", e.ID, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrRepairRequired and the cause.
func (e *RepairRequiredError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRepairRequired, e.Err}
	}
	return []error{ErrRepairRequired}
}

func orNone(id store.ID) string {
	if id.IsZero() {
		return "(none)"
	}
	return id.String()
}
