// Package keys derives the store keys used for entity hashes, secondary
// indexes and their bookkeeping sets.
//
// Entity hashes live at "<keyspace>:<id>". Index and bookkeeping sets use a
// reserved second segment starting with an underscore, so they never share a
// key with an entity as long as IDs pass ValidID.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Separator joins key segments.
const Separator = ":"

// Reserved marks the segments an ID must not start with.
const Reserved = "_"

// MaxIndexValueLen is the longest index value kept verbatim in an index key.
// Longer values are replaced by a digest so index keys stay bounded.
const MaxIndexValueLen = 128

const (
	indexSegment   = Reserved + "ix"
	helperSegment  = Reserved + "idx"
	backRefSegment = Reserved + "refs"
	digestPrefix   = "sha256:"
)

// ValidID reports whether id can be used as an entity identifier.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, Separator) && !strings.HasPrefix(id, Reserved)
}

// Entity returns the hash key of an entity, e.g. "persons:42".
func Entity(keyspace, id string) string {
	return keyspace + Separator + id
}

// Index returns the reverse-lookup set key for field=value, e.g. "persons:_ix:lastname:stark".
func Index(keyspace, field, value string) string {
	return keyspace + Separator + indexSegment + Separator + field + Separator + IndexValue(value)
}

// Helper returns the key of the set listing every index key an entity is part of.
func Helper(keyspace, id string) string {
	return keyspace + Separator + helperSegment + Separator + id
}

// BackRefs returns the key of the set holding the keys of entities that
// reference the given entity.
func BackRefs(keyspace, id string) string {
	return keyspace + Separator + backRefSegment + Separator + id
}

// BackRefsOf is BackRefs for an entity key. It returns "" for keys that are
// not entity keys.
func BackRefsOf(entityKey string) string {
	ks, id, ok := Split(entityKey)
	if !ok {
		return ""
	}
	return BackRefs(ks, id)
}

// IndexValue returns value unchanged when short enough, otherwise a
// truncated SHA-256 digest of it.
func IndexValue(value string) string {
	if len(value) <= MaxIndexValueLen {
		return value
	}
	h := sha256.Sum256([]byte(value))
	return digestPrefix + hex.EncodeToString(h[:16])
}

// Split breaks an entity key into keyspace and id. It reports false for keys
// without a separator and for index and bookkeeping keys.
func Split(key string) (keyspace, id string, ok bool) {
	keyspace, id, ok = strings.Cut(key, Separator)
	if !ok || keyspace == "" || !ValidID(id) {
		return "", "", false
	}
	return keyspace, id, true
}
