package store

import (
	"encoding"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/tendril/internal/keys"
	"github.com/jacentio/tendril/kv"
)

const (
	// idField holds the entity's own identifier in every hash.
	idField = "_id"

	embedSeparator = "."
)

// refField returns the hash field holding position i of reference list name.
func refField(name string, i int) string {
	return name + embedSeparator + "[" + strconv.Itoa(i) + "]"
}

// parseRefField is the inverse of refField.
func parseRefField(field string) (name string, i int, ok bool) {
	open := strings.LastIndex(field, embedSeparator+"[")
	if open <= 0 || !strings.HasSuffix(field, "]") {
		return "", 0, false
	}
	i, err := strconv.Atoi(field[open+2 : len(field)-1])
	if err != nil || i < 0 {
		return "", 0, false
	}
	return field[:open], i, true
}

// encoded is the flat form of an entity.
type encoded struct {
	// scalars holds plain and embedded fields.
	scalars kv.Hash
	// refs maps each reference field to its target keys in order.
	refs map[string][]string
}

// hash returns all hash fields, references included, without the ID field.
func (e encoded) hash() kv.Hash {
	h := e.scalars.Clone()
	for name, targets := range e.refs {
		for i, t := range targets {
			h[refField(name, i)] = t
		}
	}
	return h
}

// targets returns the distinct keys referenced.
func (e encoded) targets() map[string]struct{} {
	out := make(map[string]struct{})
	for _, ts := range e.refs {
		for _, t := range ts {
			out[t] = struct{}{}
		}
	}
	return out
}

// HashWriter collects an entity's fields. The first error sticks and later
// calls become no-ops.
type HashWriter struct {
	keyspace string
	prefix   string
	enc      *encoded
	err      *error
}

func newHashWriter(keyspace string) *HashWriter {
	var err error
	return &HashWriter{
		keyspace: keyspace,
		enc:      &encoded{scalars: kv.Hash{}, refs: map[string][]string{}},
		err:      &err,
	}
}

// Err returns the first error recorded.
func (w *HashWriter) Err() error {
	return *w.err
}

func (w *HashWriter) fail(err error) {
	if *w.err == nil {
		*w.err = err
	}
}

func (w *HashWriter) name(field string) (string, bool) {
	if field == "" || strings.HasPrefix(field, "_") || strings.ContainsAny(field, "[]") {
		w.fail(&SerializationError{Keyspace: w.keyspace, Field: w.prefix + field})
		return "", false
	}
	return w.prefix + field, true
}

// Put writes a scalar field. Empty strings, zero times and nil pointers are
// treated as unset and not written.
func (w *HashWriter) Put(field string, v any) {
	if *w.err != nil {
		return
	}
	name, ok := w.name(field)
	if !ok {
		return
	}
	s, set, err := encodeScalar(v)
	if err != nil {
		w.fail(&SerializationError{Keyspace: w.keyspace, Field: name, Type: fmt.Sprintf("%T", v)})
		return
	}
	if set {
		w.enc.scalars[name] = s
	}
}

// Embed flattens a nested record under field, using dotted paths.
func (w *HashWriter) Embed(field string, fn func(*HashWriter) error) {
	if *w.err != nil {
		return
	}
	name, ok := w.name(field)
	if !ok {
		return
	}
	child := &HashWriter{keyspace: w.keyspace, prefix: name + embedSeparator, enc: w.enc, err: w.err}
	if err := fn(child); err != nil {
		w.fail(err)
	}
}

// Ref writes an ordered list of links to other entities. Every target must
// already have an ID. Nil targets are skipped.
func (w *HashWriter) Ref(field string, targets ...Entity) {
	if *w.err != nil {
		return
	}
	name, ok := w.name(field)
	if !ok {
		return
	}
	list := w.enc.refs[name]
	for _, t := range targets {
		if t == nil {
			continue
		}
		if t.EntityID() == "" {
			w.fail(fmt.Errorf("%w: %s.%s -> %s", ErrUnsavedReference, w.keyspace, name, t.Keyspace()))
			return
		}
		if !keys.ValidID(t.EntityID()) {
			w.fail(fmt.Errorf("%w: %s.%s -> %q", ErrInvalidID, w.keyspace, name, t.EntityID()))
			return
		}
		list = append(list, Key(t))
	}
	if len(list) > 0 {
		w.enc.refs[name] = list
	}
}

func encodeScalar(v any) (string, bool, error) {
	switch v := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, v != "", nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return encodeScalar(*v)
	case bool:
		return strconv.FormatBool(v), true, nil
	case *bool:
		if v == nil {
			return "", false, nil
		}
		return strconv.FormatBool(*v), true, nil
	case int:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int8:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int16:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case *int:
		if v == nil {
			return "", false, nil
		}
		return strconv.Itoa(*v), true, nil
	case *int64:
		if v == nil {
			return "", false, nil
		}
		return strconv.FormatInt(*v, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint64:
		return strconv.FormatUint(v, 10), true, nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true, nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true, nil
	case *float64:
		if v == nil {
			return "", false, nil
		}
		return strconv.FormatFloat(*v, 'g', -1, 64), true, nil
	case time.Duration:
		return strconv.FormatInt(int64(v), 10), true, nil
	case time.Time:
		if v.IsZero() {
			return "", false, nil
		}
		return v.UTC().Format(time.RFC3339Nano), true, nil
	case *time.Time:
		if v == nil {
			return "", false, nil
		}
		return encodeScalar(*v)
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			return "", false, err
		}
		return string(b), len(b) > 0, nil
	default:
		return "", false, fmt.Errorf("unsupported type %T", v)
	}
}

// HashReader decodes an entity's fields. Parse failures stick in Err and
// the accessor returns the zero value.
type HashReader struct {
	key    string
	prefix string
	fields kv.Hash
	err    *error
}

func newHashReader(key string, fields kv.Hash) *HashReader {
	var err error
	return &HashReader{key: key, fields: fields, err: &err}
}

// Err returns the first decoding error.
func (r *HashReader) Err() error {
	return *r.err
}

// ID returns the stored identifier.
func (r *HashReader) ID() string {
	return r.fields[idField]
}

func (r *HashReader) fail(field string, err error) {
	if *r.err == nil {
		*r.err = fmt.Errorf("tendril: decode %s field %q: %w", r.key, r.prefix+field, err)
	}
}

func (r *HashReader) raw(field string) (string, bool) {
	v, ok := r.fields[r.prefix+field]
	return v, ok
}

// Has reports whether field is set.
func (r *HashReader) Has(field string) bool {
	_, ok := r.raw(field)
	return ok
}

// HasEmbedded reports whether any field of the embedded record is set.
func (r *HashReader) HasEmbedded(field string) bool {
	p := r.prefix + field + embedSeparator
	for f := range r.fields {
		if strings.HasPrefix(f, p) {
			return true
		}
	}
	return false
}

// Embedded returns a reader for the nested record under field.
func (r *HashReader) Embedded(field string) *HashReader {
	return &HashReader{key: r.key, prefix: r.prefix + field + embedSeparator, fields: r.fields, err: r.err}
}

func (r *HashReader) String(field string) string {
	v, _ := r.raw(field)
	return v
}

func (r *HashReader) Int64(field string) int64 {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(field, err)
	}
	return n
}

func (r *HashReader) Int(field string) int {
	return int(r.Int64(field))
}

func (r *HashReader) Uint64(field string) uint64 {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.fail(field, err)
	}
	return n
}

func (r *HashReader) Float64(field string) float64 {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(field, err)
	}
	return f
}

func (r *HashReader) Bool(field string) bool {
	v, ok := r.raw(field)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(field, err)
	}
	return b
}

func (r *HashReader) Time(field string) time.Time {
	v, ok := r.raw(field)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.fail(field, err)
	}
	return t
}

func (r *HashReader) Duration(field string) time.Duration {
	return time.Duration(r.Int64(field))
}

// Text decodes field into u when set.
func (r *HashReader) Text(field string, u encoding.TextUnmarshaler) {
	v, ok := r.raw(field)
	if !ok {
		return
	}
	if err := u.UnmarshalText([]byte(v)); err != nil {
		r.fail(field, err)
	}
}

// Refs returns the stored target keys of reference field name in order.
func (r *HashReader) Refs(name string) []string {
	return refsOf(r.fields)[r.prefix+name]
}

// refsOf extracts every reference list of a hash, ordered by position.
func refsOf(h kv.Hash) map[string][]string {
	type entry struct {
		i   int
		key string
	}
	lists := make(map[string][]entry)
	for f, v := range h {
		name, i, ok := parseRefField(f)
		if !ok {
			continue
		}
		lists[name] = append(lists[name], entry{i, v})
	}

	out := make(map[string][]string, len(lists))
	for name, entries := range lists {
		sort.Slice(entries, func(a, b int) bool { return entries[a].i < entries[b].i })
		targets := make([]string, len(entries))
		for j, e := range entries {
			targets[j] = e.key
		}
		out[name] = targets
	}
	return out
}
