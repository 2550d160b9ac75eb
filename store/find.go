package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jacentio/tendril/internal/keys"
)

// FindByID loads one entity. A missing hash is reported as not found, not
// as an error.
func (s *Store) FindByID(ctx context.Context, keyspace, id string, opts ...ReadOption) (_ Entity, _ bool, err error) {
	start := time.Now()
	defer func() { err = s.finish("find_by_id", keyspace, start, err) }()

	if err := checkID(id); err != nil {
		return nil, false, err
	}
	return s.load(ctx, keyspace, id, s.readOptions(opts).depth, graph{})
}

// FindAll loads every entity of keyspace, ordered by ID.
func (s *Store) FindAll(ctx context.Context, keyspace string, opts ...ReadOption) ([]Entity, error) {
	return s.Find(ctx, Query{Keyspace: keyspace}, opts...)
}

// Count returns the number of IDs in keyspace. Entities whose hash expired
// are counted until purged.
func (s *Store) Count(ctx context.Context, keyspace string) (_ int64, err error) {
	start := time.Now()
	defer func() { err = s.finish("count", keyspace, start, err) }()

	if _, err := s.schema(keyspace); err != nil {
		return 0, err
	}
	n, err := s.kv.SCard(ctx, keyspace)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", keyspace, err)
	}
	return n, nil
}

// Exists reports whether the entity's hash exists.
func (s *Store) Exists(ctx context.Context, keyspace, id string) (_ bool, err error) {
	start := time.Now()
	defer func() { err = s.finish("exists", keyspace, start, err) }()

	if _, err := s.schema(keyspace); err != nil {
		return false, err
	}
	if err := checkID(id); err != nil {
		return false, err
	}
	key := keys.Entity(keyspace, id)
	ok, err := s.kv.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return ok, nil
}

// FindByIndex returns the entities whose field equals value, ordered by ID.
func (s *Store) FindByIndex(ctx context.Context, keyspace, field string, value any, opts ...ReadOption) ([]Entity, error) {
	return s.Find(ctx, Query{Keyspace: keyspace, Criteria: []Criterion{Where(field, value)}}, opts...)
}

// FindByIndexPaged returns one page of FindByIndex.
func (s *Store) FindByIndexPaged(ctx context.Context, keyspace, field string, value any, page PageRequest, opts ...ReadOption) (Page, error) {
	return s.FindPage(ctx, Query{Keyspace: keyspace, Criteria: []Criterion{Where(field, value)}}, page, opts...)
}

// FindByExample returns the entities matching every field set on probe.
// Unset fields and references are ignored; a probe with an ID also matches
// on it. An empty probe matches the whole keyspace.
func (s *Store) FindByExample(ctx context.Context, probe Entity, opts ...ReadOption) ([]Entity, error) {
	q, err := ExampleQuery(probe)
	if err != nil {
		return nil, storeErr("find", err)
	}
	return s.Find(ctx, q, opts...)
}

// ExampleQuery turns a probe entity into an All query of Equal criteria,
// ordered by field name.
func ExampleQuery(probe Entity) (Query, error) {
	enc, err := encode(probe)
	if err != nil {
		return Query{}, err
	}

	fields := make([]string, 0, len(enc.scalars))
	for f := range enc.scalars {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	q := Query{Keyspace: probe.Keyspace(), Match: All}
	for _, f := range fields {
		q.Criteria = append(q.Criteria, Where(f, enc.scalars[f]))
	}
	if id := probe.EntityID(); id != "" {
		q.Criteria = append(q.Criteria, Where(idField, id))
	}
	return q, nil
}
