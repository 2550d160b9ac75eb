package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jacentio/tendril/internal/keys"
)

// ReadOption adjusts a read.
type ReadOption func(*readOptions)

type readOptions struct {
	depth int
}

// WithDepth sets how many reference hops the read hydrates. Zero hands
// references over as ID-only stubs.
func WithDepth(depth int) ReadOption {
	return func(o *readOptions) {
		if depth >= 0 {
			o.depth = depth
		}
	}
}

func (s *Store) readOptions(opts []ReadOption) readOptions {
	o := readOptions{depth: s.config.ResolveDepth}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// graph is the per-call set of entities already materialised, keyed by
// entity key. Reaching an entity twice yields the same instance, which is
// what terminates reference cycles.
type graph map[string]Entity

// load reads one entity and hydrates its references to depth.
func (s *Store) load(ctx context.Context, ks, id string, depth int, seen graph) (Entity, bool, error) {
	key := keys.Entity(ks, id)
	if e, ok := seen[key]; ok {
		return e, true, nil
	}
	schema, err := s.schema(ks)
	if err != nil {
		return nil, false, err
	}

	h, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if len(h) == 0 {
		return nil, false, nil
	}

	e := schema.New()
	e.SetEntityID(id)
	seen[key] = e

	r := newHashReader(key, h)
	if err := e.UnmarshalHash(r); err != nil {
		return nil, false, err
	}
	if err := r.Err(); err != nil {
		return nil, false, err
	}
	if err := s.hydrate(ctx, e, r, depth, seen); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// hydrate hands every reference list of the hash behind r to e.
func (s *Store) hydrate(ctx context.Context, e Entity, r *HashReader, depth int, seen graph) error {
	ru, ok := e.(RefUnmarshaler)
	if !ok {
		return nil
	}

	lists := refsOf(r.fields)
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		targets := make([]Entity, 0, len(lists[name]))
		for _, t := range lists[name] {
			te, ok, err := s.target(ctx, t, depth, seen)
			if err != nil {
				return err
			}
			if ok {
				targets = append(targets, te)
			}
		}
		if err := ru.UnmarshalRefs(name, targets); err != nil {
			return fmt.Errorf("tendril: %s: references %q: %w", Key(e), name, err)
		}
	}
	return nil
}

// target materialises one link. Past the depth limit the link becomes a stub
// carrying only its ID, unless the entity was already loaded in this call.
func (s *Store) target(ctx context.Context, key string, depth int, seen graph) (Entity, bool, error) {
	ks, id, ok := keys.Split(key)
	if !ok {
		return nil, false, nil
	}
	if depth > 0 {
		return s.load(ctx, ks, id, depth-1, seen)
	}
	if e, ok := seen[key]; ok {
		return e, true, nil
	}
	schema, known := s.registry.Lookup(ks)
	if !known {
		return nil, false, nil
	}
	stub := schema.New()
	stub.SetEntityID(id)
	return stub, true, nil
}

// Resolve re-reads the stored links of e and hands them to e hydrated to
// depth. Reference fields with no stored links are left as they are.
func (s *Store) Resolve(ctx context.Context, e Entity, depth int) (err error) {
	start := time.Now()
	ks := e.Keyspace()
	defer func() { err = s.finish("resolve", ks, start, err) }()

	if err := checkID(e.EntityID()); err != nil {
		return err
	}
	if _, err := s.schema(ks); err != nil {
		return err
	}
	if depth < 0 {
		depth = 0
	}

	key := Key(e)
	h, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	seen := graph{key: e}
	return s.hydrate(ctx, e, newHashReader(key, h), depth, seen)
}
