package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jacentio/tendril/internal/keys"
)

// Schema describes an entity type to the mapper.
type Schema struct {
	// Keyspace is the entity's partition (e.g., "persons"). It must not contain ':'.
	Keyspace string

	// Indexes lists the fields with a maintained reverse lookup. Embedded
	// fields use their dotted path (e.g., "address.city").
	Indexes []string

	// New returns an empty entity for reads.
	New func() Entity
}

// IsIndexed reports whether field has a reverse lookup.
func (s Schema) IsIndexed(field string) bool {
	for _, f := range s.Indexes {
		if f == field {
			return true
		}
	}
	return false
}

// Registry holds the schemas of all known keyspaces.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds or replaces a schema.
func (r *Registry) Register(s Schema) error {
	if s.Keyspace == "" || strings.Contains(s.Keyspace, keys.Separator) {
		return fmt.Errorf("tendril: invalid keyspace %q", s.Keyspace)
	}
	if s.New == nil {
		return fmt.Errorf("tendril: schema %q has no constructor", s.Keyspace)
	}
	for _, f := range s.Indexes {
		if f == "" || strings.HasPrefix(f, "_") || strings.Contains(f, keys.Separator) {
			return fmt.Errorf("tendril: schema %q: invalid index field %q", s.Keyspace, f)
		}
	}
	r.schemas[s.Keyspace] = s
	return nil
}

// MustRegister is like Register but panics on an invalid schema.
func (r *Registry) MustRegister(schemas ...Schema) *Registry {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the schema of keyspace.
func (r *Registry) Lookup(keyspace string) (Schema, bool) {
	s, ok := r.schemas[keyspace]
	return s, ok
}

// Keyspaces returns the registered keyspaces in lexical order.
func (r *Registry) Keyspaces() []string {
	out := make([]string, 0, len(r.schemas))
	for ks := range r.schemas {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out
}
