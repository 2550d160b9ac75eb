package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viccon/sturdyc"
)

// MemoryService caches values in process with sturdyc. Concurrent fetches of
// one key are deduplicated by sturdyc.
type MemoryService struct {
	client *sturdyc.Client[any]
}

var _ CacheService = (*MemoryService)(nil)

// NewMemoryService validates cfg and creates the sturdyc client.
func NewMemoryService(cfg Config) (*MemoryService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[any](cfg.Capacity, cfg.Shards, cfg.TTL, cfg.EvictPercent, cfg.options()...)
	return &MemoryService{client: client}, nil
}

func (s *MemoryService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}
	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := callFetch(ctx, fetchFn)
		if errors.Is(err, ErrNotFound) {
			return nil, sturdyc.ErrNotFound
		}
		return v, err
	})
	if errors.Is(err, sturdyc.ErrNotFound) || errors.Is(err, sturdyc.ErrMissingRecord) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return v, err
}

func (s *MemoryService) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix drops every entry whose key starts with prefix.
func (s *MemoryService) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Size returns the number of cached entries.
func (s *MemoryService) Size() int {
	return s.client.Size()
}
