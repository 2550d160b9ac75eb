package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a fetch function when the source has no record.
// Services return it (wrapped) instead of a value; the memory service can
// remember missing records.
var ErrNotFound = errors.New("cache: record not found")

// KeySerializer builds a cache key from a method name and its arguments.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn loads a value from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService is a read-through cache.
type CacheService interface {
	// GetOrFetch returns the cached value of key, or calls fetchFn (a
	// FetchFn[T]) and caches its result.
	GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error)
	Delete(ctx context.Context, key string) error
}

// GetOrFetch is the typed form of CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T
	result, err := service.GetOrFetch(ctx, key, fetchFn)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}
