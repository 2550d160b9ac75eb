package repository

import (
	"context"
	"time"

	"github.com/jacentio/tendril/model"
	"github.com/jacentio/tendril/store"
)

// OrderRepository stores orders.
type OrderRepository struct {
	store *store.Store
}

func NewOrderRepository(s *store.Store) *OrderRepository {
	return &OrderRepository{store: s}
}

// Save writes o. Its line items must be saved first.
func (r *OrderRepository) Save(ctx context.Context, o *model.Order) error {
	return r.store.Save(ctx, o)
}

func (r *OrderRepository) FindByID(ctx context.Context, id string, opts ...store.ReadOption) (*model.Order, bool, error) {
	return findByID[*model.Order](ctx, r.store, model.KeyspaceOrders, id, opts)
}

// FindByWhen returns the orders placed at exactly when.
func (r *OrderRepository) FindByWhen(ctx context.Context, when time.Time) ([]*model.Order, error) {
	return find[*model.Order](ctx, r.store, store.Query{
		Keyspace: model.KeyspaceOrders,
		Criteria: []store.Criterion{store.Where("when", when)},
	})
}

func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, model.KeyspaceOrders, id)
}

// LineItemRepository stores line items.
type LineItemRepository struct {
	store *store.Store
}

func NewLineItemRepository(s *store.Store) *LineItemRepository {
	return &LineItemRepository{store: s}
}

func (r *LineItemRepository) Save(ctx context.Context, li *model.LineItem) error {
	return r.store.Save(ctx, li)
}

func (r *LineItemRepository) SaveAll(ctx context.Context, items ...*model.LineItem) error {
	return r.store.SaveAll(ctx, store.EntitiesOf(items...)...)
}

func (r *LineItemRepository) FindByID(ctx context.Context, id string) (*model.LineItem, bool, error) {
	return findByID[*model.LineItem](ctx, r.store, model.KeyspaceLineItems, id, nil)
}

// FindByOrderID returns the line items of an order, ordered by ID.
func (r *LineItemRepository) FindByOrderID(ctx context.Context, orderID string) ([]*model.LineItem, error) {
	return find[*model.LineItem](ctx, r.store, store.Query{
		Keyspace: model.KeyspaceLineItems,
		Criteria: []store.Criterion{store.Where("orderId", orderID)},
	})
}
