package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/tendril/internal/keys"
	"github.com/jacentio/tendril/kv"
)

// Store maps entities to hashes in a kv.Store and keeps their indexes and
// back-references consistent.
type Store struct {
	kv       kv.Store
	registry *Registry
	config   Config
	log      *slog.Logger
	metrics  *metrics
}

// New creates a new Store instance.
func New(store kv.Store, registry *Registry, config Config) *Store {
	config.validate()
	return &Store{
		kv:       store,
		registry: registry,
		config:   config,
		log:      config.Logger,
		metrics:  newMetrics(config.Registerer),
	}
}

// Registry returns the schema registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// KV returns the underlying key-value store.
func (s *Store) KV() kv.Store {
	return s.kv
}

// finish classifies err and records the operation. Use with a named error
// result: defer func() { err = s.finish(op, ks, start, err) }().
func (s *Store) finish(op, keyspace string, start time.Time, err error) error {
	err = storeErr(op, err)
	s.metrics.observe(op, keyspace, start, err)
	return err
}

func (s *Store) schema(keyspace string) (Schema, error) {
	schema, ok := s.registry.Lookup(keyspace)
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownKeyspace, keyspace)
	}
	return schema, nil
}

func encode(e Entity) (encoded, error) {
	w := newHashWriter(e.Keyspace())
	if err := e.MarshalHash(w); err != nil {
		return encoded{}, err
	}
	if err := w.Err(); err != nil {
		return encoded{}, err
	}
	return *w.enc, nil
}

// Save writes e and assigns an ID when it has none. Re-saving replaces the
// stored fields; indexes and back-references are diffed against what is
// stored. Encoding problems fail before anything is written.
func (s *Store) Save(ctx context.Context, e Entity) (err error) {
	start := time.Now()
	ks := e.Keyspace()
	defer func() { err = s.finish("save", ks, start, err) }()

	schema, err := s.schema(ks)
	if err != nil {
		return err
	}
	enc, err := encode(e)
	if err != nil {
		return err
	}

	id := e.EntityID()
	switch {
	case id == "":
		if id, err = s.newID(ctx, ks); err != nil {
			return err
		}
		e.SetEntityID(id)
	case !keys.ValidID(id):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	key := keys.Entity(ks, id)

	old, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	fields := enc.hash()
	var stale []string
	for f := range old {
		if _, ok := fields[f]; !ok && f != idField {
			stale = append(stale, f)
		}
	}
	if err := s.kv.HDel(ctx, key, stale...); err != nil {
		return fmt.Errorf("remove stale fields of %s: %w", key, err)
	}
	fields[idField] = id
	if err := s.kv.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.kv.SAdd(ctx, ks, id); err != nil {
		return fmt.Errorf("add %s to keyspace: %w", key, err)
	}

	added, removed, err := s.syncIndexes(ctx, schema, id, enc.scalars)
	if err != nil {
		return err
	}
	linked, unlinked, err := s.syncBackRefs(ctx, key, refTargets(old), enc.targets())
	if err != nil {
		return err
	}

	if exp, ok := e.(Expirer); ok {
		if ttl := exp.TimeToLive(); ttl > 0 {
			if err := s.kv.Expire(ctx, key, ttl); err != nil {
				return fmt.Errorf("expire %s: %w", key, err)
			}
		}
	}

	s.log.DebugContext(ctx, "saved entity",
		"key", key,
		"fields", len(fields),
		"indexes_added", added,
		"indexes_removed", removed,
		"refs_linked", linked,
		"refs_unlinked", unlinked,
	)
	return nil
}

// SaveAll saves entities in order and stops at the first error.
func (s *Store) SaveAll(ctx context.Context, entities ...Entity) error {
	for _, e := range entities {
		if err := s.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) newID(ctx context.Context, ks string) (string, error) {
	for i := 0; i < s.config.IDAttempts; i++ {
		id := s.config.NewID()
		if !keys.ValidID(id) {
			continue
		}
		member, err := s.kv.SIsMember(ctx, ks, id)
		if err != nil {
			return "", fmt.Errorf("check id: %w", err)
		}
		if member {
			continue
		}
		exists, err := s.kv.Exists(ctx, keys.Entity(ks, id))
		if err != nil {
			return "", fmt.Errorf("check id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: keyspace %q after %d attempts", ErrIDExhausted, ks, s.config.IDAttempts)
}

// syncIndexes makes the entity's index memberships match its current field
// values, using the helper set as the record of what it is indexed under.
func (s *Store) syncIndexes(ctx context.Context, schema Schema, id string, scalars kv.Hash) (added, removed int, err error) {
	ks := schema.Keyspace
	helper := keys.Helper(ks, id)

	want := make(map[string]struct{}, len(schema.Indexes))
	for _, field := range schema.Indexes {
		if v, ok := scalars[field]; ok {
			want[keys.Index(ks, field, v)] = struct{}{}
		}
	}
	have, err := s.kv.SMembers(ctx, helper)
	if err != nil {
		return 0, 0, fmt.Errorf("read index helper %s: %w", helper, err)
	}

	for _, idx := range have {
		if _, ok := want[idx]; ok {
			delete(want, idx)
			continue
		}
		if err := s.kv.SRem(ctx, idx, id); err != nil {
			return added, removed, fmt.Errorf("unindex %s: %w", idx, err)
		}
		if err := s.kv.SRem(ctx, helper, idx); err != nil {
			return added, removed, fmt.Errorf("unindex %s: %w", idx, err)
		}
		removed++
	}
	for idx := range want {
		if err := s.kv.SAdd(ctx, idx, id); err != nil {
			return added, removed, fmt.Errorf("index %s: %w", idx, err)
		}
		if err := s.kv.SAdd(ctx, helper, idx); err != nil {
			return added, removed, fmt.Errorf("index %s: %w", idx, err)
		}
		added++
	}
	return added, removed, nil
}

// syncBackRefs records key in the back-reference set of every entity it now
// links to and removes it from those it no longer links to.
func (s *Store) syncBackRefs(ctx context.Context, key string, before, after map[string]struct{}) (linked, unlinked int, err error) {
	for t := range before {
		if _, ok := after[t]; ok {
			continue
		}
		if err := s.kv.SRem(ctx, keys.BackRefsOf(t), key); err != nil {
			return linked, unlinked, fmt.Errorf("unlink %s -> %s: %w", key, t, err)
		}
		unlinked++
	}
	for t := range after {
		if _, ok := before[t]; ok {
			continue
		}
		if err := s.kv.SAdd(ctx, keys.BackRefsOf(t), key); err != nil {
			return linked, unlinked, fmt.Errorf("link %s -> %s: %w", key, t, err)
		}
		linked++
	}
	return linked, unlinked, nil
}

// checkID validates an ID passed in by the caller.
func checkID(id string) error {
	if id == "" {
		return ErrMissingID
	}
	if !keys.ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// refTargets returns the entity keys linked from h. Values that are not
// entity keys are dropped.
func refTargets(h kv.Hash) map[string]struct{} {
	out := make(map[string]struct{})
	for _, targets := range refsOf(h) {
		for _, t := range targets {
			if _, _, ok := keys.Split(t); ok {
				out[t] = struct{}{}
			}
		}
	}
	return out
}

// Delete removes an entity with its index entries and unlinks it from every
// entity referencing it. Deleting an unknown ID is a no-op.
func (s *Store) Delete(ctx context.Context, keyspace, id string) (err error) {
	start := time.Now()
	defer func() { err = s.finish("delete", keyspace, start, err) }()

	if _, err := s.schema(keyspace); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}

	key := keys.Entity(keyspace, id)
	member, err := s.kv.SIsMember(ctx, keyspace, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if !member {
		exists, err := s.kv.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check %s: %w", key, err)
		}
		if !exists {
			return nil
		}
	}
	return s.cleanup(ctx, keyspace, id)
}

// DeleteAll deletes the given IDs, or every entity of the keyspace when no
// ID is given.
func (s *Store) DeleteAll(ctx context.Context, keyspace string, ids ...string) error {
	if len(ids) == 0 {
		members, err := s.kv.SMembers(ctx, keyspace)
		if err != nil {
			return storeErr("delete", fmt.Errorf("list %s: %w", keyspace, err))
		}
		ids = members
	}
	for _, id := range ids {
		if err := s.Delete(ctx, keyspace, id); err != nil {
			return err
		}
	}
	return nil
}

// Purge runs the delete cleanup for an entity whose hash has expired or was
// removed outside the mapper. Keys of unknown keyspaces, non-entity keys and
// entities whose hash exists again are ignored.
func (s *Store) Purge(ctx context.Context, key string) (err error) {
	ks, id, ok := keys.Split(key)
	if !ok {
		return nil
	}
	if _, known := s.registry.Lookup(ks); !known {
		return nil
	}

	start := time.Now()
	defer func() { err = s.finish("purge", ks, start, err) }()

	exists, err := s.kv.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		return nil
	}
	return s.cleanup(ctx, ks, id)
}

func (s *Store) cleanup(ctx context.Context, ks, id string) error {
	key := keys.Entity(ks, id)

	helper := keys.Helper(ks, id)
	indexes, err := s.kv.SMembers(ctx, helper)
	if err != nil {
		return fmt.Errorf("read index helper %s: %w", helper, err)
	}
	for _, idx := range indexes {
		if err := s.kv.SRem(ctx, idx, id); err != nil {
			return fmt.Errorf("unindex %s: %w", idx, err)
		}
	}
	if err := s.kv.Del(ctx, helper); err != nil {
		return fmt.Errorf("remove index helper %s: %w", helper, err)
	}

	h, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	for t := range refTargets(h) {
		if err := s.kv.SRem(ctx, keys.BackRefsOf(t), key); err != nil {
			return fmt.Errorf("unlink %s -> %s: %w", key, t, err)
		}
	}

	refs := keys.BackRefs(ks, id)
	referrers, err := s.kv.SMembers(ctx, refs)
	if err != nil {
		return fmt.Errorf("read back-references %s: %w", refs, err)
	}
	for _, r := range referrers {
		if r == key {
			continue
		}
		if err := s.unlinkFrom(ctx, r, key); err != nil {
			return err
		}
	}

	if err := s.kv.Del(ctx, refs, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if err := s.kv.SRem(ctx, ks, id); err != nil {
		return fmt.Errorf("remove %s from keyspace: %w", key, err)
	}

	s.log.DebugContext(ctx, "deleted entity",
		"key", key,
		"indexes", len(indexes),
		"referrers", len(referrers),
	)
	return nil
}

// unlinkFrom rewrites every reference list of referrer without target,
// keeping the remaining targets in order.
func (s *Store) unlinkFrom(ctx context.Context, referrer, target string) error {
	h, err := s.kv.HGetAll(ctx, referrer)
	if err != nil {
		return fmt.Errorf("read %s: %w", referrer, err)
	}
	if len(h) == 0 {
		return nil
	}

	for name, targets := range refsOf(h) {
		kept := make([]string, 0, len(targets))
		for _, t := range targets {
			if t != target {
				kept = append(kept, t)
			}
		}
		if len(kept) == len(targets) {
			continue
		}

		old := make([]string, len(targets))
		for i := range targets {
			old[i] = refField(name, i)
		}
		if err := s.kv.HDel(ctx, referrer, old...); err != nil {
			return fmt.Errorf("unlink %s from %s: %w", target, referrer, err)
		}
		fields := make(kv.Hash, len(kept))
		for i, t := range kept {
			fields[refField(name, i)] = t
		}
		if err := s.kv.HSet(ctx, referrer, fields); err != nil {
			return fmt.Errorf("unlink %s from %s: %w", target, referrer, err)
		}
	}
	return nil
}
