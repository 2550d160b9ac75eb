package store_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/tendril/kv"
	"github.com/jacentio/tendril/kv/memkv"
	"github.com/jacentio/tendril/store"
)

// --- Test Entities ---

type address struct {
	City    string
	Country string
}

type person struct {
	ID        string
	Firstname string
	Lastname  string
	Gender    string
	Address   *address
	Children  []*person
}

func (p *person) Keyspace() string      { return "people" }
func (p *person) EntityID() string      { return p.ID }
func (p *person) SetEntityID(id string) { p.ID = id }

func (p *person) MarshalHash(w *store.HashWriter) error {
	w.Put("firstname", p.Firstname)
	w.Put("lastname", p.Lastname)
	w.Put("gender", p.Gender)
	if p.Address != nil {
		w.Embed("address", func(w *store.HashWriter) error {
			w.Put("city", p.Address.City)
			w.Put("country", p.Address.Country)
			return nil
		})
	}
	w.Ref("children", store.EntitiesOf(p.Children...)...)
	return nil
}

func (p *person) UnmarshalHash(r *store.HashReader) error {
	p.Firstname = r.String("firstname")
	p.Lastname = r.String("lastname")
	p.Gender = r.String("gender")
	if r.HasEmbedded("address") {
		a := r.Embedded("address")
		p.Address = &address{City: a.String("city"), Country: a.String("country")}
	}
	return nil
}

func (p *person) UnmarshalRefs(name string, targets []store.Entity) error {
	if name == "children" {
		p.Children = store.Collect[*person](targets)
	}
	return nil
}

type node struct {
	ID   string
	Name string
	Next []*node
}

func (n *node) Keyspace() string      { return "nodes" }
func (n *node) EntityID() string      { return n.ID }
func (n *node) SetEntityID(id string) { n.ID = id }

func (n *node) MarshalHash(w *store.HashWriter) error {
	w.Put("name", n.Name)
	w.Ref("next", store.EntitiesOf(n.Next...)...)
	return nil
}

func (n *node) UnmarshalHash(r *store.HashReader) error {
	n.Name = r.String("name")
	return nil
}

func (n *node) UnmarshalRefs(name string, targets []store.Entity) error {
	n.Next = store.Collect[*node](targets)
	return nil
}

type session struct {
	ID    string
	User  string
	Valid time.Duration
}

func (s *session) Keyspace() string          { return "sessions" }
func (s *session) EntityID() string          { return s.ID }
func (s *session) SetEntityID(id string)     { s.ID = id }
func (s *session) TimeToLive() time.Duration { return s.Valid }

func (s *session) MarshalHash(w *store.HashWriter) error {
	w.Put("user", s.User)
	return nil
}

func (s *session) UnmarshalHash(r *store.HashReader) error {
	s.User = r.String("user")
	return nil
}

// broken carries a value the codec cannot encode.
type broken struct {
	ID   string
	Meta any
}

func (b *broken) Keyspace() string                      { return "people" }
func (b *broken) EntityID() string                      { return b.ID }
func (b *broken) SetEntityID(id string)                 { b.ID = id }
func (b *broken) UnmarshalHash(*store.HashReader) error { return nil }

func (b *broken) MarshalHash(w *store.HashWriter) error {
	w.Put("firstname", "ok")
	w.Put("meta", b.Meta)
	return nil
}

// --- Fixtures ---

type starks struct {
	eddard, robb, sansa, arya, bran, rickon, jon *person
}

func newStarks() *starks {
	return &starks{
		eddard: &person{Firstname: "eddard", Lastname: "stark", Gender: "MALE"},
		robb:   &person{Firstname: "robb", Lastname: "stark", Gender: "MALE"},
		sansa:  &person{Firstname: "sansa", Lastname: "stark", Gender: "FEMALE"},
		arya:   &person{Firstname: "arya", Lastname: "stark", Gender: "FEMALE"},
		bran:   &person{Firstname: "bran", Lastname: "stark", Gender: "MALE"},
		rickon: &person{Firstname: "rickon", Lastname: "stark", Gender: "MALE"},
		jon:    &person{Firstname: "jon", Lastname: "snow", Gender: "MALE"},
	}
}

func (f *starks) all() []*person {
	return []*person{f.eddard, f.robb, f.sansa, f.arya, f.bran, f.rickon, f.jon}
}

func newRegistry() *store.Registry {
	return store.NewRegistry().MustRegister(
		store.Schema{
			Keyspace: "people",
			Indexes:  []string{"firstname", "lastname", "address.city"},
			New:      func() store.Entity { return &person{} },
		},
		store.Schema{
			Keyspace: "nodes",
			New:      func() store.Entity { return &node{} },
		},
		store.Schema{
			Keyspace: "sessions",
			Indexes:  []string{"user"},
			New:      func() store.Entity { return &session{} },
		},
	)
}

func newTestStore(t *testing.T, opts ...memkv.Option) (*store.Store, *memkv.Store) {
	t.Helper()
	mem := memkv.New(opts...)
	return store.New(mem, newRegistry(), store.DefaultConfig()), mem
}

func saveStarks(t *testing.T, s *store.Store) *starks {
	t.Helper()
	f := newStarks()
	require.NoError(t, s.SaveAll(context.Background(), store.EntitiesOf(f.all()...)...))
	return f
}

// snapshot captures every key with its content, for comparing store states.
func snapshot(t *testing.T, mem *memkv.Store) map[string]any {
	t.Helper()
	ctx := context.Background()
	keys, err := mem.Keys(ctx, "")
	require.NoError(t, err)

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		h, err := mem.HGetAll(ctx, k)
		require.NoError(t, err)
		if len(h) > 0 {
			out[k] = h
			continue
		}
		members, err := mem.SMembers(ctx, k)
		require.NoError(t, err)
		sort.Strings(members)
		out[k] = members
	}
	return out
}

func firstnames(entities []store.Entity) []string {
	var out []string
	for _, p := range store.Collect[*person](entities) {
		out = append(out, p.Firstname)
	}
	sort.Strings(out)
	return out
}

func hashOf(t *testing.T, mem kv.Store, key string) kv.Hash {
	t.Helper()
	h, err := mem.HGetAll(context.Background(), key)
	require.NoError(t, err)
	return h
}

func membersOf(t *testing.T, mem kv.Store, key string) []string {
	t.Helper()
	members, err := mem.SMembers(context.Background(), key)
	require.NoError(t, err)
	sort.Strings(members)
	return members
}
