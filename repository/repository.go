// Package repository exposes typed finders over the entity store, one
// repository per model type.
package repository

import (
	"context"

	"github.com/jacentio/tendril/store"
)

// Page is a typed store.Page.
type Page[T store.Entity] struct {
	Items  []T
	Number int
	Size   int
	Total  int
}

// TotalPages returns the number of pages of the full result.
func (p Page[T]) TotalPages() int {
	return store.Page{Size: p.Size, Total: p.Total}.TotalPages()
}

// HasNext reports whether a page follows this one.
func (p Page[T]) HasNext() bool {
	return store.Page{Number: p.Number, Size: p.Size, Total: p.Total}.HasNext()
}

func pageOf[T store.Entity](p store.Page) Page[T] {
	return Page[T]{Items: store.Collect[T](p.Items), Number: p.Number, Size: p.Size, Total: p.Total}
}

func findByID[T store.Entity](ctx context.Context, s *store.Store, keyspace, id string, opts []store.ReadOption) (T, bool, error) {
	var zero T
	e, ok, err := s.FindByID(ctx, keyspace, id, opts...)
	if err != nil || !ok {
		return zero, false, err
	}
	t, ok := e.(T)
	return t, ok, nil
}

func find[T store.Entity](ctx context.Context, s *store.Store, q store.Query) ([]T, error) {
	found, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.Collect[T](found), nil
}
