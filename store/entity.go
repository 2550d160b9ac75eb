package store

import (
	"reflect"
	"time"

	"github.com/jacentio/tendril/internal/keys"
)

// Entity is the base interface for all storable types.
type Entity interface {
	// Keyspace returns the partition the entity is stored in (e.g., "persons").
	Keyspace() string

	// EntityID returns the identifier, or "" before the first Save.
	EntityID() string

	// SetEntityID is called by Save for new entities and by reads.
	SetEntityID(id string)

	// MarshalHash writes the entity's fields, embedded records and references.
	MarshalHash(w *HashWriter) error

	// UnmarshalHash reads the entity's fields back. References are delivered
	// separately through RefUnmarshaler.
	UnmarshalHash(r *HashReader) error
}

// RefUnmarshaler is implemented by entities with reference fields.
type RefUnmarshaler interface {
	// UnmarshalRefs receives the targets of reference field name in stored
	// order. Targets beyond the resolve depth carry only their ID; targets
	// whose record no longer exists are left out.
	UnmarshalRefs(name string, targets []Entity) error
}

// Expirer is implemented by entities whose hash should expire.
type Expirer interface {
	// TimeToLive returns how long the hash lives after each Save. Zero or
	// less means no expiry is set.
	TimeToLive() time.Duration
}

// Key returns the hash key of an entity (e.g., "persons:42").
func Key(e Entity) string {
	return keys.Entity(e.Keyspace(), e.EntityID())
}

// EntitiesOf widens a typed slice for HashWriter.Ref and SaveAll. Nil
// pointers are dropped.
func EntitiesOf[T Entity](items ...T) []Entity {
	out := make([]Entity, 0, len(items))
	for _, item := range items {
		if v := reflect.ValueOf(item); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Collect narrows entities to T, dropping any of another type.
func Collect[T Entity](entities []Entity) []T {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		if t, ok := e.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
