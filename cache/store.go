package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/jacentio/tendril/kv"
)

// KeyPrefix prefixes every entry written by StoreService.
const KeyPrefix = "cache:"

// StoreService caches msgpack-encoded values as strings in a kv.Store, so
// entries are shared between processes and expire with the store's TTL.
type StoreService struct {
	kv    kv.Store
	ttl   time.Duration
	log   *slog.Logger
	group singleflight.Group
}

var _ CacheService = (*StoreService)(nil)

// NewStoreService creates a StoreService writing entries that live for cfg.TTL.
func NewStoreService(store kv.Store, cfg Config, logger *slog.Logger) (*StoreService, error) {
	if err := validation.Validate(cfg.TTL, validation.Required, validation.Min(time.Millisecond)); err != nil {
		return nil, fmt.Errorf("cache: ttl: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{kv: store, ttl: cfg.TTL, log: logger}, nil
}

func (s *StoreService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	if err := validateFetchFn(fetchFn); err != nil {
		return nil, err
	}
	k := KeyPrefix + key
	typ := resultType(fetchFn)

	raw, ok, err := s.kv.Get(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", k, err)
	}
	if ok {
		v, err := decode(raw, typ)
		if err == nil {
			return v, nil
		}
		s.log.WarnContext(ctx, "dropping undecodable cache entry", "key", k, "error", err)
	}

	v, err, _ := s.group.Do(k, func() (any, error) {
		v, err := callFetch(ctx, fetchFn)
		if err != nil {
			return nil, err
		}
		enc, err := encode(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", k, err)
		}
		if err := s.kv.Set(ctx, k, enc, s.ttl); err != nil {
			return nil, fmt.Errorf("cache: write %s: %w", k, err)
		}
		return v, nil
	})
	return v, err
}

func (s *StoreService) Delete(ctx context.Context, key string) error {
	if err := s.kv.Del(ctx, KeyPrefix+key); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix drops every entry whose key starts with prefix.
func (s *StoreService) DeleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := s.kv.Keys(ctx, KeyPrefix+prefix)
	if err != nil {
		return fmt.Errorf("cache: list %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache: delete %s*: %w", prefix, err)
	}
	s.log.DebugContext(ctx, "dropped cache entries", "prefix", prefix, "count", len(keys))
	return nil
}

// encode packs v with msgpack and base64 so every backend can hold it as a
// string.
func encode(v any) (string, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(raw string, typ reflect.Type) (any, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(typ)
	if err := msgpack.Unmarshal(b, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
