package domain

import (
	"fmt"
	"strings"
)

// ValidateDocument checks that every metadata value is a scalar and every key
// is non-empty. Empty content is allowed.
func ValidateDocument(doc Document) error {
	for _, f := range doc.Metadata.fields {
		if strings.TrimSpace(f.Key) == "" {
			return NewValidationError("metadata", f.Key, ErrInvalidDocument)
		}
		if !IsScalar(f.Value) {
			return NewValidationError("metadata."+f.Key, fmt.Sprintf("%T", f.Value), ErrInvalidDocument)
		}
	}
	return nil
}

// ValidateQuery rejects blank query text.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	return nil
}
