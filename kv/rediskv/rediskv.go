// Package rediskv implements kv.Store and kv.PubSub on Redis using go-redis.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/tendril/kv"
)

// Config holds connection settings.
type Config struct {
	// Host is the Redis host. Default: "localhost"
	Host string

	// Port is the Redis port. Default: 6379
	Port int

	// Password is optional.
	Password string

	// DB is the logical database number.
	DB int

	// MaxRetries bounds the client's own retry of failed commands.
	// Default: 3. Use -1 to disable retries.
	MaxRetries int

	// ScanCount is the COUNT hint for SCAN. Default: 100
	ScanCount int64
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       6379,
		MaxRetries: 3,
		ScanCount:  100,
	}
}

func (c *Config) validate() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port <= 0 {
		c.Port = 6379
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Store is a Redis backed kv.Store.
type Store struct {
	client *redis.Client
	config Config
}

var (
	_ kv.Store  = (*Store)(nil)
	_ kv.PubSub = (*Store)(nil)
)

// New connects lazily; use Ping to verify connectivity.
func New(config Config) *Store {
	config.validate()
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:       config.Addr(),
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
	}), config)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config}
}

// Client returns the underlying go-redis client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// DB returns the logical database number, as used in keyspace event channels.
func (s *Store) DB() int {
	return s.config.DB
}

// EnableKeyspaceEvents turns on expired-key notifications.
func (s *Store) EnableKeyspaceEvents(ctx context.Context) error {
	return wrap("config set", s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err())
}

func (s *Store) HGetAll(ctx context.Context, key string) (kv.Hash, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrap("hgetall", err)
	}
	return kv.Hash(m), nil
}

func (s *Store) HSet(ctx context.Context, key string, fields kv.Hash) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return wrap("hset", s.client.HSet(ctx, key, args...).Err())
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return wrap("hdel", s.client.HDel(ctx, key, fields...).Err())
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", s.client.Del(ctx, keys...).Err())
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", err)
	}
	return n > 0, nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap("sadd", s.client.SAdd(ctx, key, toArgs(members)...).Err())
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap("srem", s.client.SRem(ctx, key, toArgs(members)...).Err())
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap("smembers", err)
	}
	return members, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap("sismember", err)
	}
	return ok, nil
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("scard", err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", s.client.Expire(ctx, key, ttl).Err())
}

// Keys walks the keyspace with SCAN rather than KEYS.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", s.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	return wrap("publish", s.client.Publish(ctx, channel, payload).Err())
}

// Subscribe waits for the subscription to be confirmed before returning.
func (s *Store) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	ps := s.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrap("subscribe", err)
	}

	sub := &subscription{ps: ps, ch: make(chan kv.Message)}
	go sub.forward(ctx)
	return sub, nil
}

type subscription struct {
	ps *redis.PubSub
	ch chan kv.Message
}

func (s *subscription) forward(ctx context.Context) {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.ps.Close()
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- kv.Message{Channel: m.Channel, Payload: m.Payload}:
			case <-ctx.Done():
				_ = s.ps.Close()
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan kv.Message { return s.ch }

func (s *subscription) Close() error { return s.ps.Close() }

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

// wrap maps transport failures to kv.ErrNotConnected.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return fmt.Errorf("redis %s: %w: %v", op, kv.ErrNotConnected, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}
