// Package model defines the entities stored by tendril: persons with their
// family references, and orders with their line items.
package model

import "github.com/jacentio/tendril/store"

// Registry returns a registry holding every model schema.
func Registry() *store.Registry {
	return store.NewRegistry().MustRegister(PersonSchema(), OrderSchema(), LineItemSchema())
}
