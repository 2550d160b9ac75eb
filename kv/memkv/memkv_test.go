package memkv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/kv"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestHash(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.HSet(ctx, "persons:1", kv.Hash{"firstname": "eddard", "lastname": "stark"}))
	require.NoError(t, s.HSet(ctx, "persons:1", kv.Hash{"firstname": "ned"}))

	h, err := s.HGetAll(ctx, "persons:1")
	require.NoError(t, err)
	assert.Equal(t, kv.Hash{"firstname": "ned", "lastname": "stark"}, h)

	require.NoError(t, s.HDel(ctx, "persons:1", "firstname", "lastname"))
	ok, err := s.Exists(ctx, "persons:1")
	require.NoError(t, err)
	assert.False(t, ok, "hash without fields must disappear")

	h, err = s.HGetAll(ctx, "persons:missing")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestHGetAllReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.HSet(ctx, "k", kv.Hash{"a": "1"}))

	h, err := s.HGetAll(ctx, "k")
	require.NoError(t, err)
	h["a"] = "2"

	h, err = s.HGetAll(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", h["a"])
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SAdd(ctx, "persons", "1", "2", "2", "3"))
	n, err := s.SCard(ctx, "persons")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err := s.SIsMember(ctx, "persons", "2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SRem(ctx, "persons", "2"))
	members, err := s.SMembers(ctx, "persons")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"1", "3"}, members)

	require.NoError(t, s.SRem(ctx, "persons", "1", "3"))
	exists, err := s.Exists(ctx, "persons")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStringAndExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))

	require.NoError(t, s.Set(ctx, "cache:a", "v", time.Minute))
	v, ok, err := s.Get(ctx, "cache:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "cache:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HSet(ctx, "orders:1", kv.Hash{"_id": "1"}))
	require.NoError(t, s.Expire(ctx, "orders:1", time.Second))
	keys, err := s.Keys(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders:1"}, keys)

	clock.Advance(2 * time.Second)
	keys, err = s.Keys(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.SAdd(ctx, "persons", "1"))
	require.NoError(t, s.HSet(ctx, "persons:1", kv.Hash{"_id": "1"}))
	require.NoError(t, s.SAdd(ctx, "persons:lastname:stark", "1"))
	require.NoError(t, s.Set(ctx, "orders:x", "y", 0))

	keys, err := s.Keys(ctx, "persons:")
	require.NoError(t, err)
	assert.Equal(t, []string{"persons:1", "persons:lastname:stark"}, keys)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	err := s.HSet(ctx, "k", kv.Hash{"a": "b"})
	assert.ErrorIs(t, err, kv.ErrNotConnected)
	assert.ErrorIs(t, s.Ping(ctx), kv.ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()

	sub, err := s.Subscribe(ctx, "chat")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "other", "ignored"))
	require.NoError(t, s.Publish(ctx, "chat", "hello"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, kv.Message{Channel: "chat", Payload: "hello"}, msg)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, open := <-sub.Messages():
		assert.False(t, open, "subscription must close with its context")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}
