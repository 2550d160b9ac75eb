package model

import (
	"fmt"
	"time"

	"github.com/jacentio/tendril/store"
)

const (
	// KeyspaceOrders holds Order entities.
	KeyspaceOrders = "orders"
	// KeyspaceLineItems holds LineItem entities.
	KeyspaceLineItems = "lineItems"
)

// Order references its line items, which are saved first.
type Order struct {
	ID        string
	When      time.Time
	LineItems []*LineItem
}

func (o *Order) Keyspace() string      { return KeyspaceOrders }
func (o *Order) EntityID() string      { return o.ID }
func (o *Order) SetEntityID(id string) { o.ID = id }

func (o *Order) MarshalHash(w *store.HashWriter) error {
	w.Put("when", o.When)
	w.Ref("lineItems", store.EntitiesOf(o.LineItems...)...)
	return nil
}

func (o *Order) UnmarshalHash(r *store.HashReader) error {
	o.When = r.Time("when")
	return nil
}

func (o *Order) UnmarshalRefs(name string, targets []store.Entity) error {
	if name == "lineItems" {
		o.LineItems = store.Collect[*LineItem](targets)
	}
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("Order(id=%s, when=%s)", o.ID, o.When.Format(time.RFC3339Nano))
}

// OrderSchema indexes the order time.
func OrderSchema() store.Schema {
	return store.Schema{
		Keyspace: KeyspaceOrders,
		Indexes:  []string{"when"},
		New:      func() store.Entity { return &Order{} },
	}
}

// LineItem is one position of an order.
type LineItem struct {
	ID          string
	OrderID     string
	Description string
}

func (li *LineItem) Keyspace() string      { return KeyspaceLineItems }
func (li *LineItem) EntityID() string      { return li.ID }
func (li *LineItem) SetEntityID(id string) { li.ID = id }

func (li *LineItem) MarshalHash(w *store.HashWriter) error {
	w.Put("orderId", li.OrderID)
	w.Put("description", li.Description)
	return nil
}

func (li *LineItem) UnmarshalHash(r *store.HashReader) error {
	li.OrderID = r.String("orderId")
	li.Description = r.String("description")
	return nil
}

func (li *LineItem) String() string {
	return fmt.Sprintf("LineItem(orderId=%s, id=%s, description=%s)", li.OrderID, li.ID, li.Description)
}

// LineItemSchema indexes the owning order.
func LineItemSchema() store.Schema {
	return store.Schema{
		Keyspace: KeyspaceLineItems,
		Indexes:  []string{"orderId"},
		New:      func() store.Entity { return &LineItem{} },
	}
}
