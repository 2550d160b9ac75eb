package store

import (
	"errors"
	"fmt"

	"github.com/jacentio/tendril/kv"
)

var (
	// ErrUnknownKeyspace is returned when no schema is registered for a keyspace.
	ErrUnknownKeyspace = errors.New("tendril: unknown keyspace")

	// ErrUnsavedReference is returned when an entity references another entity that has no ID yet.
	// Referenced entities must be saved first; Save never cascades.
	ErrUnsavedReference = errors.New("tendril: reference to unsaved entity")

	// ErrIDExhausted is returned when no free identifier was found within the configured attempts.
	ErrIDExhausted = errors.New("tendril: could not generate a free identifier")

	// ErrMissingID is returned when an operation needs an entity ID and none is set.
	ErrMissingID = errors.New("tendril: entity has no identifier")

	// ErrInvalidID is returned for a caller-supplied ID that contains the key
	// separator or starts with an underscore.
	ErrInvalidID = errors.New("tendril: invalid entity identifier")

	// ErrInvalidPage is returned for a negative page number or a non-positive page size.
	ErrInvalidPage = errors.New("tendril: invalid page request")

	// ErrInvalidQuery is returned for malformed criteria.
	ErrInvalidQuery = errors.New("tendril: invalid query")
)

// NotConnectedError reports that the key-value store could not be reached.
// The mapper does not retry; the Redis backend retries at the client level.
type NotConnectedError struct {
	Op  string
	Err error
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("tendril: %s: store not connected: %v", e.Op, e.Err)
}

func (e *NotConnectedError) Unwrap() error { return e.Err }

// SerializationError reports a field value that cannot be represented as a
// hash string. The entity is not written.
type SerializationError struct {
	Keyspace string
	Field    string
	// Type is the Go type of the offending value, or empty when the field name itself is invalid.
	Type string
}

func (e *SerializationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("tendril: %s: invalid field name %q", e.Keyspace, e.Field)
	}
	return fmt.Sprintf("tendril: %s: cannot serialize field %q of type %s", e.Keyspace, e.Field, e.Type)
}

// storeErr classifies an error returned from an operation.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var nc *NotConnectedError
	if errors.As(err, &nc) {
		return err
	}
	if errors.Is(err, kv.ErrNotConnected) {
		return &NotConnectedError{Op: op, Err: err}
	}
	return err
}
