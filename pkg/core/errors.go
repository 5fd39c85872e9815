// Package core provides the memory client: the point builder, the
// deduplication guard and the add/search façade every feature calls.
package core

import (
	"errors"
	"fmt"

	"github.com/orion-hub/orion-memory-go/pkg/embedder"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// Predefined errors for common failure scenarios. All of them can be matched
// with errors.Is through any wrapping added by the client.
var (
	// ErrValidation indicates empty text or a missing source id.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateMemory indicates that the exact text is already stored.
	ErrDuplicateMemory = errors.New("duplicate memory detected")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates that the embedding provider failed or
	// returned malformed output.
	ErrEmbeddingFailed = embedder.ErrProviderFailed

	// ErrStoreUnavailable indicates that the vector store could not be reached.
	ErrStoreUnavailable = storage.ErrUnavailable

	// ErrInvalidFilter indicates a malformed filter.
	ErrInvalidFilter = storage.ErrInvalidFilter

	// ErrDimensionMismatch indicates that vectors and collection disagree on size.
	ErrDimensionMismatch = storage.ErrDimensionMismatch
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "AddMemory",
//	    Err: ErrDuplicateMemory,
//	}
//	// Error() returns: "orion-memory: AddMemory: duplicate memory detected"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "orion-memory: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("orion-memory: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("AddMemory", err)
//	}
//
// Returns a MemoryError, or nil if err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// validationError wraps ErrValidation with a reason.
func validationError(op, reason string) error {
	return NewMemoryError(op, fmt.Errorf("%w: %s", ErrValidation, reason))
}
