package di_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/cache"
	"github.com/jacentio/tendril/di"
	"github.com/jacentio/tendril/kv/memkv"
	"github.com/jacentio/tendril/model"
)

func memoryConfig() di.Config {
	cfg := di.DefaultConfig()
	cfg.Store.Backend = di.BackendMemory
	return cfg
}

func TestNew_Memory(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	c, err := di.New(ctx, memoryConfig(), di.WithRegisterer(reg))
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &cache.MemoryService{}, c.Cache)
	require.NotNil(t, c.Publisher)
	require.NotNil(t, c.Listener)
	assert.Nil(t, c.Expiry)
	assert.Equal(t, []string{model.KeyspaceLineItems, model.KeyspaceOrders, model.KeyspacePersons}, c.Registry.Keyspaces())

	p := model.NewPerson("arya", "stark", model.Female)
	require.NoError(t, c.Persons.Save(ctx, p))
	found, err := c.Persons.FindByLastname(ctx, "stark")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_StoreCacheOnProvidedKV(t *testing.T) {
	ctx := context.Background()
	mem := memkv.New()
	cfg := memoryConfig()
	cfg.Cache.Backend = di.CacheStore

	c, err := di.New(ctx, cfg, di.WithKV(mem))
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, mem, c.KV)
	assert.IsType(t, &cache.StoreService{}, c.Cache)

	_, ok, err := c.OrderService.ByID(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_SmallRefreshingMemoryCache(t *testing.T) {
	cfg := memoryConfig()
	cfg.Cache.Capacity = 8
	cfg.Cache.RefreshAfter = cfg.Cache.TTL / 2

	c, err := di.New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &cache.MemoryService{}, c.Cache)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "cassandra"

	_, err := di.New(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		m := miniredis.RunT(t)
		port, err := strconv.Atoi(m.Port())
		require.NoError(t, err)

		cfg := di.DefaultConfig().Store
		cfg.Redis.Host = m.Host()
		cfg.Redis.Port = port

		s, err := di.OpenBackend(ctx, cfg)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Set(ctx, "k", "v", 0))
		assert.True(t, m.Exists("k"))
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := di.DefaultConfig().Store
		cfg.Backend = di.BackendSQLite
		cfg.SQLite.Path = filepath.Join(t.TempDir(), "tendril.db")

		s, err := di.OpenBackend(ctx, cfg)
		require.NoError(t, err)
		defer s.Close()
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		m := miniredis.RunT(t)
		port, err := strconv.Atoi(m.Port())
		require.NoError(t, err)
		m.Close()

		cfg := di.DefaultConfig().Store
		cfg.Redis.Host = m.Host()
		cfg.Redis.Port = port
		cfg.Redis.MaxRetries = -1

		_, err = di.OpenBackend(ctx, cfg)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := di.OpenBackend(ctx, di.StoreConfig{Backend: "cassandra"})
		assert.Error(t, err)
	})
}
