// Package repository defines the remote-service boundary implemented by concrete backends.
package repository

import (
	"context"
)

// Filter holds column = value equality predicates, ANDed together.
// An empty filter selects every row.
type Filter map[string]any

// Table provides per-collection access to remote rows of type T.
type Table[T any] interface {
	// Select returns rows matching every predicate in f.
	Select(ctx context.Context, f Filter) ([]T, error)
	// Insert stores rec, generating an id when empty, and returns the stored row.
	Insert(ctx context.Context, rec T) (T, error)
	// Update sets the given columns on the row with id.
	Update(ctx context.Context, id string, partial map[string]any) error
	// Delete removes the row with id.
	Delete(ctx context.Context, id string) error
}
