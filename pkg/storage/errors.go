package storage

import (
	"errors"
	"fmt"
)

// Error kinds reported by every VectorStore implementation.
var (
	// ErrUnavailable indicates that the store could not be reached or the
	// operation failed inside the store.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrInvalidFilter indicates a malformed filter condition tree.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrDimensionMismatch indicates a vector whose size differs from the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollection indicates a collection name that cannot be used.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidPoint indicates a point violating the payload invariants.
	ErrInvalidPoint = errors.New("invalid memory point")
)

// OpError records the failed store operation and the collection it targeted.
type OpError struct {
	// Op is the store operation, e.g. "Upsert" or "Search".
	Op string

	// Collection is the collection the operation targeted.
	Collection string

	// Kind is one of the package error kinds.
	Kind error

	// Err is the underlying driver error, if any.
	Err error
}

// Error returns "<op> <collection>: <kind>: <err>".
func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Collection, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the driver error to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps a driver error as ErrUnavailable for op on collection.
func Unavailable(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if hasKind(err) {
		return err
	}
	return &OpError{Op: op, Collection: collection, Kind: ErrUnavailable, Err: err}
}

// hasKind reports whether err already carries one of the package kinds.
func hasKind(err error) bool {
	for _, kind := range []error{ErrUnavailable, ErrInvalidFilter, ErrDimensionMismatch, ErrInvalidCollection, ErrInvalidPoint} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
