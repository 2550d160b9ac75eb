// Package memkv is an in-process implementation of kv.Store and kv.PubSub.
package memkv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jacentio/tendril/kv"
)

// Store keeps hashes, sets and strings in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	hashes  map[string]kv.Hash
	sets    map[string]map[string]struct{}
	strings map[string]string
	expiry  map[string]time.Time
	subs    map[*subscription]struct{}
	closed  bool

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		hashes:  make(map[string]kv.Hash),
		sets:    make(map[string]map[string]struct{}),
		strings: make(map[string]string),
		expiry:  make(map[string]time.Time),
		subs:    make(map[*subscription]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ kv.Store  = (*Store)(nil)
	_ kv.PubSub = (*Store)(nil)
)

// lock acquires the mutex and evicts key if expired. Callers must unlock.
func (s *Store) lock(op string, keys ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("memkv %s: %w", op, kv.ErrNotConnected)
	}
	for _, k := range keys {
		s.evictIfExpired(k)
	}
	return nil
}

func (s *Store) evictIfExpired(key string) {
	at, ok := s.expiry[key]
	if !ok || s.now().Before(at) {
		return
	}
	s.remove(key)
}

func (s *Store) remove(key string) {
	delete(s.hashes, key)
	delete(s.sets, key)
	delete(s.strings, key)
	delete(s.expiry, key)
}

func (s *Store) HGetAll(_ context.Context, key string) (kv.Hash, error) {
	if err := s.lock("hgetall", key); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return kv.Hash{}, nil
	}
	return h.Clone(), nil
}

func (s *Store) HSet(_ context.Context, key string, fields kv.Hash) error {
	if err := s.lock("hset", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}
	h, ok := s.hashes[key]
	if !ok {
		h = make(kv.Hash, len(fields))
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	if err := s.lock("hdel", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		s.remove(key)
	}
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	if err := s.lock("del"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for _, k := range keys {
		s.remove(k)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	if err := s.lock("exists", key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	return s.exists(key), nil
}

func (s *Store) exists(key string) bool {
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.strings[key]
	return ok
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	if err := s.lock("sadd", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if len(members) == 0 {
		return nil
	}
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	if err := s.lock("srem", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		s.remove(key)
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	if err := s.lock("smembers", key); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) SIsMember(_ context.Context, key, member string) (bool, error) {
	if err := s.lock("sismember", key); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *Store) SCard(_ context.Context, key string) (int64, error) {
	if err := s.lock("scard", key); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	return int64(len(s.sets[key])), nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if err := s.lock("get", key); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := s.lock("set", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.remove(key)
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	}
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	if err := s.lock("expire", key); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if !s.exists(key) {
		return nil
	}
	if ttl <= 0 {
		s.remove(key)
		return nil
	}
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

// Keys returns matching keys in lexical order.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	if err := s.lock("keys"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	collect := func(k string) {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	for k := range s.hashes {
		collect(k)
	}
	for k := range s.sets {
		collect(k)
	}
	for k := range s.strings {
		collect(k)
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		s.evictIfExpired(k)
		if s.exists(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Ping(context.Context) error {
	if err := s.lock("ping"); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

// Close drops all subscriptions. Later calls fail with kv.ErrNotConnected.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		sub.closeLocked()
	}
	s.subs = nil
	return nil
}

// Publish delivers payload to every subscription on channel. Slow
// subscribers lose messages once their buffer is full.
func (s *Store) Publish(_ context.Context, channel, payload string) error {
	if err := s.lock("publish"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	msg := kv.Message{Channel: channel, Payload: payload}
	for sub := range s.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that ends on Close or when ctx is done.
func (s *Store) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	if err := s.lock("subscribe"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	sub := &subscription{
		store:    s,
		ch:       make(chan kv.Message, 64),
		stop:     make(chan struct{}),
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, c := range channels {
		sub.channels[c] = struct{}{}
	}
	s.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.stop:
		}
	}()
	return sub, nil
}

type subscription struct {
	store    *Store
	ch       chan kv.Message
	stop     chan struct{}
	channels map[string]struct{}
	done     bool
}

func (s *subscription) Messages() <-chan kv.Message { return s.ch }

func (s *subscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	if s.store.subs != nil {
		delete(s.store.subs, s)
	}
	close(s.stop)
	close(s.ch)
}
