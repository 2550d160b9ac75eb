// Package store maps entities to flat hashes in a key-value store, with
// secondary indexes and reference fields.
//
// # Storage Layout
//
// For keyspace ks and entity id:
//
//	ks             set   all ids of the keyspace
//	ks:id          hash  the entity's fields plus "_id"
//	ks:_ix:f:v     set   ids whose indexed field f equals v
//	ks:_idx:id     set   index keys the entity is currently listed under
//	ks:_refs:id    set   keys of entities whose references point at ks:id
//
// IDs must not contain ":" or start with "_"; such IDs fail with
// [ErrInvalidID], which keeps entity hashes apart from the reserved sets.
//
// Embedded records are flattened with dotted paths ("address.city").
// Reference field r holding targets t0..tn is stored as fields "r.[0]" ..
// "r.[n]" whose values are target keys ("persons:7").
//
// # Entity Interfaces
//
// All entities implement [Entity]; there is no reflection:
//
//	type Entity interface {
//	    Keyspace() string
//	    EntityID() string
//	    SetEntityID(id string)
//	    MarshalHash(w *HashWriter) error
//	    UnmarshalHash(r *HashReader) error
//	}
//
// Entities with reference fields implement [RefUnmarshaler] to receive the
// resolved targets. Entities implementing [Expirer] get their hash expired.
// Each keyspace is described by a [Schema] in a [Registry].
//
// # References
//
// Save stores links only and never cascades: referenced entities must have
// been saved. Reads hydrate links to a depth ([Config.ResolveDepth],
// [WithDepth]); past it, targets are ID-only stubs. Within one read an
// entity reached twice is the same instance, so cycles terminate. Deleting
// an entity removes it from every reference list pointing at it.
//
// # Queries
//
// [Query] combines [Criterion] values with [All] or [Any]. Criteria on
// indexed fields are answered from index sets, the others by reading
// candidate hashes. Results are ordered by ID.
//
// # Errors
//
//   - [NotConnectedError] - the key-value store is unreachable
//   - [SerializationError] - a field cannot be encoded; nothing was written
//   - [ErrUnknownKeyspace] - no schema registered
//   - [ErrUnsavedReference] - a reference target has no ID
//   - [ErrIDExhausted] - no free generated ID
//   - [ErrMissingID] - the operation needs an ID
//   - [ErrInvalidID] - the ID contains ":" or starts with "_"
//   - [ErrInvalidPage] - bad page request
//   - [ErrInvalidQuery] - malformed criteria
//
// Reads of missing entities report not found rather than an error.
package store
