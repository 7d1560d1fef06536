package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the indexing and retrieval packages.
var (
	ErrInvalidDocument   = errors.New("invalid document")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrEmptyQuery        = errors.New("empty query")
	ErrNotSupported      = errors.New("not supported")
	ErrNoEmbeddings      = errors.New("no embeddings produced")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
