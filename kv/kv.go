// Package kv defines the key-value primitives the entity mapper is built on.
//
// A Store exposes hashes, sets, plain string values and key expiry. Backends
// live in sub-packages:
//
//   - rediskv: Redis via go-redis
//   - dynamokv: a single DynamoDB table
//   - sqlitekv: an SQLite database file
//   - memkv: process memory, for tests and demos
//
// Every set mutation is a single atomic store operation in each backend.
// Transport failures are reported wrapping [ErrNotConnected].
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned when the backend cannot be reached or has been closed.
	ErrNotConnected = errors.New("kv: not connected")

	// ErrPubSubUnsupported is returned by backends without a publish/subscribe facility.
	ErrPubSubUnsupported = errors.New("kv: publish/subscribe not supported by backend")
)

// Hash is a flat field to value mapping stored under one key.
type Hash map[string]string

// Clone returns a copy of h.
func (h Hash) Clone() Hash {
	out := make(Hash, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Store is the key-value boundary used by the mapper.
type Store interface {
	// HGetAll returns all fields of the hash at key. A missing key yields an empty hash.
	HGetAll(ctx context.Context, key string) (Hash, error)

	// HSet sets the given fields, leaving other fields of the hash untouched.
	HSet(ctx context.Context, key string, fields Hash) error

	// HDel removes fields from the hash at key.
	HDel(ctx context.Context, key string, fields ...string) error

	// Del removes keys of any type.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key holds a value of any type.
	Exists(ctx context.Context, key string) (bool, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key. Empty sets disappear.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns the members of the set at key in no particular order.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SIsMember reports whether member belongs to the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SCard returns the size of the set at key.
	SCard(ctx context.Context, key string) (int64, error)

	// Get returns the string value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a string value. A positive ttl expires the key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire sets a time to live on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// PubSub is implemented by backends that can publish and subscribe to channels.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}
