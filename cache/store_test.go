package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/kv/memkv"
)

type cachedOrder struct {
	ID    string
	When  time.Time
	Items []string
}

func TestStoreService_GetOrFetch(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := memkv.New(memkv.WithClock(func() time.Time { return now }))
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	svc, err := NewStoreService(mem, cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	want := &cachedOrder{ID: "1", When: now, Items: []string{"iPad", "iPhone 11"}}
	calls := 0
	fetch := func(context.Context) (*cachedOrder, error) {
		calls++
		return want, nil
	}

	got, err := GetOrFetch(ctx, svc, "OrderService.ByID::1", fetch)
	require.NoError(t, err)
	assert.Same(t, want, got)

	raw, ok, err := mem.Get(ctx, "cache:OrderService.ByID::1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, raw)

	got, err = GetOrFetch(ctx, svc, "OrderService.ByID::1", fetch)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.When.Equal(got.When))
	assert.Equal(t, want.Items, got.Items)
	assert.Equal(t, 1, calls)

	// Entries expire with the configured TTL.
	now = now.Add(2 * time.Minute)
	_, err = GetOrFetch(ctx, svc, "OrderService.ByID::1", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestStoreService_FetchErrorIsNotCached(t *testing.T) {
	svc, err := NewStoreService(memkv.New(), DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = GetOrFetch(ctx, svc, "k", func(context.Context) (string, error) {
		return "", ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)

	got, err := GetOrFetch(ctx, svc, "k", func(context.Context) (string, error) {
		return "found", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "found", got)
}

func TestStoreService_UndecodableEntryIsRefetched(t *testing.T) {
	mem := memkv.New()
	svc, err := NewStoreService(mem, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "cache:k", "%%% not base64", 0))

	got, err := GetOrFetch(ctx, svc, "k", func(context.Context) (int, error) { return 9, nil })
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestStoreService_Delete(t *testing.T) {
	mem := memkv.New()
	svc, err := NewStoreService(mem, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a::1", "a::2", "b::1"} {
		_, err := GetOrFetch(ctx, svc, k, func(context.Context) (string, error) { return k, nil })
		require.NoError(t, err)
	}

	require.NoError(t, svc.Delete(ctx, "b::1"))
	require.NoError(t, svc.DeleteByPrefix(ctx, "a::"))

	left, err := mem.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStoreService_NotConnected(t *testing.T) {
	mem := memkv.New()
	svc, err := NewStoreService(mem, DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	_, err = GetOrFetch(context.Background(), svc, "k", func(context.Context) (int, error) { return 1, nil })
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewStoreService_RequiresTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0
	_, err := NewStoreService(memkv.New(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: ttl")
}
