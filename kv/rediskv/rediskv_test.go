package rediskv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/kv"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1}), DefaultConfig())
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

func TestConfig_Validate(t *testing.T) {
	c := Config{}
	c.validate()
	assert.Equal(t, DefaultConfig(), c)
	assert.Equal(t, "localhost:6379", c.Addr())
}

func TestHash(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)

	require.NoError(t, s.HSet(ctx, "persons:1", kv.Hash{"firstname": "eddard", "lastname": "stark"}))
	assert.Equal(t, "stark", m.HGet("persons:1", "lastname"))

	require.NoError(t, s.HDel(ctx, "persons:1", "firstname"))
	h, err := s.HGetAll(ctx, "persons:1")
	require.NoError(t, err)
	assert.Equal(t, kv.Hash{"lastname": "stark"}, h)

	h, err = s.HGetAll(ctx, "persons:missing")
	require.NoError(t, err)
	assert.Empty(t, h)

	require.NoError(t, s.Del(ctx, "persons:1"))
	ok, err := s.Exists(ctx, "persons:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SAdd(ctx, "persons:lastname:stark", "1", "2", "3"))
	require.NoError(t, s.SRem(ctx, "persons:lastname:stark", "2"))

	members, err := s.SMembers(ctx, "persons:lastname:stark")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"1", "3"}, members)

	ok, err := s.SIsMember(ctx, "persons:lastname:stark", "3")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.SCard(ctx, "persons:lastname:stark")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// empty argument lists are no-ops rather than protocol errors
	assert.NoError(t, s.SAdd(ctx, "x"))
	assert.NoError(t, s.SRem(ctx, "x"))
	assert.NoError(t, s.HDel(ctx, "x"))
	assert.NoError(t, s.Del(ctx))
}

func TestStringAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)

	require.NoError(t, s.Set(ctx, "cache:a", "v", time.Minute))
	v, ok, err := s.Get(ctx, "cache:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	m.FastForward(time.Minute)
	_, ok, err = s.Get(ctx, "cache:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HSet(ctx, "orders:1", kv.Hash{"_id": "1"}))
	require.NoError(t, s.Expire(ctx, "orders:1", time.Second))
	assert.Equal(t, time.Second, m.TTL("orders:1"))
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SAdd(ctx, "persons", "1"))
	require.NoError(t, s.HSet(ctx, "persons:1", kv.Hash{"_id": "1"}))
	require.NoError(t, s.SAdd(ctx, "persons:lastname:stark", "1"))
	require.NoError(t, s.Set(ctx, "orders:x", "y", 0))
	require.NoError(t, s.Set(ctx, "odd*key", "y", 0))
	require.NoError(t, s.Set(ctx, "oddball", "y", 0))

	keys, err := s.Keys(ctx, "persons:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"persons:1", "persons:lastname:stark"}, keys)

	keys, err = s.Keys(ctx, "odd*")
	require.NoError(t, err)
	assert.Equal(t, []string{"odd*key"}, keys)
}

func TestPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newTestStore(t)

	sub, err := s.Subscribe(ctx, "chat")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "chat", "hello"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, kv.Message{Channel: "chat", Payload: "hello"}, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	s, m := newTestStore(t)
	m.Close()

	err := s.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, kv.ErrNotConnected)

	_, err = s.HGetAll(ctx, "persons:1")
	assert.ErrorIs(t, err, kv.ErrNotConnected)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]\\`, escapeGlob(`a*b?c[d]\`))
	assert.Equal(t, "persons:", escapeGlob("persons:"))
}
