// Package repo defines a generic keyed repository and a Neo4j implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entity has the id.
var ErrNotFound = errors.New("not found")

// Repository is a generic keyed store.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entities ...T) error
	Delete(ctx context.Context, id ID) error
	DeleteAll(ctx context.Context) error
}

// ListOpts controls pagination and filtering for List operations.
// Limit <= 0 lists everything.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
