package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/tendril/internal/keys"
	"github.com/jacentio/tendril/kv"
)

// Operator compares a field with the criterion's value(s).
type Operator int

const (
	// Equal matches entities whose field equals Value.
	Equal Operator = iota
	// In matches entities whose field equals any of Values.
	In
)

func (o Operator) String() string {
	switch o {
	case Equal:
		return "equal"
	case In:
		return "in"
	default:
		return fmt.Sprintf("operator(%d)", int(o))
	}
}

// Match combines criteria.
type Match int

const (
	// All keeps entities matching every criterion.
	All Match = iota
	// Any keeps entities matching at least one criterion.
	Any
)

// Criterion filters on one field. Values are encoded like entity fields, so
// a time.Time matches a time.Time field.
type Criterion struct {
	Field    string
	Operator Operator
	Value    any
	Values   []any
}

// Where returns an Equal criterion.
func Where(field string, value any) Criterion {
	return Criterion{Field: field, Operator: Equal, Value: value}
}

// WhereIn returns an In criterion.
func WhereIn(field string, values ...any) Criterion {
	return Criterion{Field: field, Operator: In, Values: values}
}

// Query selects entities of one keyspace. A query without criteria selects
// the whole keyspace.
type Query struct {
	Keyspace string
	Criteria []Criterion
	Match    Match
}

// PageRequest selects page Number (from zero) of Size items.
type PageRequest struct {
	Number int
	Size   int
}

// Page is one slice of a result ordered by ID.
type Page struct {
	Items  []Entity
	Number int
	Size   int
	Total  int
}

// TotalPages returns the number of pages of the full result.
func (p Page) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	n := p.Total / p.Size
	if p.Total%p.Size != 0 {
		n++
	}
	return n
}

// HasNext reports whether a page follows this one.
func (p Page) HasNext() bool {
	return p.Number < p.TotalPages()-1
}

// condition is a validated criterion with encoded values.
type condition struct {
	field   string
	indexed bool
	values  map[string]struct{}
}

func (c condition) matches(h kv.Hash) bool {
	v, ok := h[c.field]
	if !ok {
		return false
	}
	_, ok = c.values[v]
	return ok
}

func compile(schema Schema, q Query) ([]condition, error) {
	if q.Match != All && q.Match != Any {
		return nil, fmt.Errorf("%w: unknown match mode %d", ErrInvalidQuery, q.Match)
	}
	conds := make([]condition, 0, len(q.Criteria))
	for _, c := range q.Criteria {
		if c.Field == "" {
			return nil, fmt.Errorf("%w: empty field", ErrInvalidQuery)
		}
		var raw []any
		switch c.Operator {
		case Equal:
			raw = []any{c.Value}
		case In:
			if len(c.Values) == 0 {
				return nil, fmt.Errorf("%w: %s in () has no values", ErrInvalidQuery, c.Field)
			}
			raw = c.Values
		default:
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, c.Operator)
		}

		values := make(map[string]struct{}, len(raw))
		for _, v := range raw {
			s, set, err := encodeScalar(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, c.Field, err)
			}
			if !set {
				return nil, fmt.Errorf("%w: %s: empty value", ErrInvalidQuery, c.Field)
			}
			values[s] = struct{}{}
		}
		conds = append(conds, condition{field: c.Field, indexed: schema.IsIndexed(c.Field), values: values})
	}
	return conds, nil
}

// match returns the sorted IDs selected by q. Indexed conditions are
// answered from index sets; the rest by reading candidate hashes.
func (s *Store) match(ctx context.Context, q Query) ([]string, error) {
	schema, err := s.schema(q.Keyspace)
	if err != nil {
		return nil, err
	}
	conds, err := compile(schema, q)
	if err != nil {
		return nil, err
	}

	var indexed, scanned []condition
	for _, c := range conds {
		if c.indexed {
			indexed = append(indexed, c)
		} else {
			scanned = append(scanned, c)
		}
	}

	var ids map[string]struct{}
	switch {
	case len(conds) == 0:
		ids, err = s.members(ctx, q.Keyspace)
	case q.Match == All:
		ids, err = s.matchAll(ctx, schema, indexed, scanned)
	default:
		ids, err = s.matchAny(ctx, schema, indexed, scanned)
	}
	if err != nil {
		return nil, err
	}
	return sortedIDs(ids), nil
}

func (s *Store) matchAll(ctx context.Context, schema Schema, indexed, scanned []condition) (map[string]struct{}, error) {
	var ids map[string]struct{}
	for _, c := range indexed {
		hits, err := s.lookup(ctx, schema.Keyspace, c)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = hits
		} else {
			ids = intersect(ids, hits)
		}
		if len(ids) == 0 {
			return ids, nil
		}
	}
	if len(scanned) == 0 {
		return ids, nil
	}
	if ids == nil {
		all, err := s.members(ctx, schema.Keyspace)
		if err != nil {
			return nil, err
		}
		ids = all
	}
	return s.filter(ctx, schema.Keyspace, ids, func(h kv.Hash) bool {
		for _, c := range scanned {
			if !c.matches(h) {
				return false
			}
		}
		return true
	})
}

func (s *Store) matchAny(ctx context.Context, schema Schema, indexed, scanned []condition) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for _, c := range indexed {
		hits, err := s.lookup(ctx, schema.Keyspace, c)
		if err != nil {
			return nil, err
		}
		for id := range hits {
			ids[id] = struct{}{}
		}
	}
	if len(scanned) == 0 {
		return ids, nil
	}

	all, err := s.members(ctx, schema.Keyspace)
	if err != nil {
		return nil, err
	}
	rest := make(map[string]struct{}, len(all))
	for id := range all {
		if _, ok := ids[id]; !ok {
			rest[id] = struct{}{}
		}
	}
	hits, err := s.filter(ctx, schema.Keyspace, rest, func(h kv.Hash) bool {
		for _, c := range scanned {
			if c.matches(h) {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	for id := range hits {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// lookup unions the index sets of every value of c.
func (s *Store) lookup(ctx context.Context, ks string, c condition) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for v := range c.values {
		idx := keys.Index(ks, c.field, v)
		ids, err := s.kv.SMembers(ctx, idx)
		if err != nil {
			return nil, fmt.Errorf("read index %s: %w", idx, err)
		}
		for _, id := range ids {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) members(ctx context.Context, ks string) (map[string]struct{}, error) {
	ids, err := s.kv.SMembers(ctx, ks)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ks, err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// filter reads the hashes of ids concurrently and keeps those accepted by keep.
func (s *Store) filter(ctx context.Context, ks string, ids map[string]struct{}, keep func(kv.Hash) bool) (map[string]struct{}, error) {
	list := sortedIDs(ids)
	accepted := make([]bool, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, id := range list {
		g.Go(func() error {
			key := keys.Entity(ks, id)
			h, err := s.kv.HGetAll(gctx, key)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			accepted[i] = len(h) > 0 && keep(h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]struct{})
	for i, id := range list {
		if accepted[i] {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// loadAll materialises ids in order, dropping those whose hash is gone.
// Every entity gets its own reference graph.
func (s *Store) loadAll(ctx context.Context, ks string, ids []string, depth int) ([]Entity, error) {
	loaded := make([]Entity, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			e, ok, err := s.load(gctx, ks, id, depth, graph{})
			if err != nil {
				return err
			}
			if ok {
				loaded[i] = e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entity, 0, len(loaded))
	for _, e := range loaded {
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Find returns the entities selected by q, ordered by ID.
func (s *Store) Find(ctx context.Context, q Query, opts ...ReadOption) (_ []Entity, err error) {
	start := time.Now()
	defer func() { err = s.finish("find", q.Keyspace, start, err) }()

	ids, err := s.match(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.loadAll(ctx, q.Keyspace, ids, s.readOptions(opts).depth)
}

// FindPage returns one page of the entities selected by q, ordered by ID.
// Total counts every selected ID.
func (s *Store) FindPage(ctx context.Context, q Query, page PageRequest, opts ...ReadOption) (_ Page, err error) {
	start := time.Now()
	defer func() { err = s.finish("find_page", q.Keyspace, start, err) }()

	if page.Number < 0 || page.Size <= 0 {
		return Page{}, fmt.Errorf("%w: number %d, size %d", ErrInvalidPage, page.Number, page.Size)
	}
	ids, err := s.match(ctx, q)
	if err != nil {
		return Page{}, err
	}

	from, to := pageBounds(len(ids), page)
	items, err := s.loadAll(ctx, q.Keyspace, ids[from:to], s.readOptions(opts).depth)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Number: page.Number, Size: page.Size, Total: len(ids)}, nil
}

// pageBounds returns the slice bounds of page within n items. Pages past the
// end are empty; Number*Size is never computed when it could overflow.
func pageBounds(n int, page PageRequest) (from, to int) {
	if page.Number > n/page.Size {
		return n, n
	}
	from = min(page.Number*page.Size, n)
	return from, from + min(page.Size, n-from)
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortedIDs(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
