package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure returned by the store wraps exactly one of
// these sentinels, so callers can branch with errors.Is regardless of the
// operation that produced it.
var (
	// ErrValidation is returned for empty or contradictory input: an empty
	// chunk set, a duplicate chunk index, an empty vector map, a malformed
	// filter key, a hybrid query with neither arm supplied.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage is returned on a backend write failure. The enclosing
	// transaction has been rolled back; nothing was partially applied.
	ErrStorage = errors.New("storage failure")

	// ErrConsistency marks an index/row count mismatch detected at open.
	// It is repaired by rebuilding the text index and logged, never
	// surfaced from Open; it exists so the repair path is testable.
	ErrConsistency = errors.New("index inconsistency")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidDimension is returned when a vector's length does not match
	// the store dimension. It is a validation failure.
	ErrInvalidDimension = fmt.Errorf("%w: invalid vector dimension", ErrValidation)
)

// StoreError carries the failing operation alongside the underlying error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("chunkstore: %v", e.Err)
	}
	return fmt.Sprintf("chunkstore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// wrapError attaches operation context, preserving errors.Is chains.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// validationf builds an ErrValidation failure from a format string.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storagef wraps a backend error as ErrStorage, keeping the cause in the
// chain for diagnostics.
func storagef(err error, context string) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, context, err)
}
