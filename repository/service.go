package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/tendril/cache"
	"github.com/jacentio/tendril/model"
)

const orderByIDMethod = "OrderService.ByID"

// OrderService serves order reads through a cache.
type OrderService struct {
	orders *OrderRepository
	cache  cache.CacheService
	keys   cache.KeySerializer
	log    *slog.Logger
}

// NewOrderService creates an OrderService. A nil serializer uses the default
// one; a nil logger uses slog.Default().
func NewOrderService(orders *OrderRepository, c cache.CacheService, keys cache.KeySerializer, logger *slog.Logger) *OrderService {
	if keys == nil {
		keys = cache.NewDefaultKeySerializer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{orders: orders, cache: c, keys: keys, log: logger}
}

// ByID returns the order with its line items, from the cache when present.
// A missing order reports false.
func (s *OrderService) ByID(ctx context.Context, id string) (*model.Order, bool, error) {
	key := s.keys.SerializeKey(orderByIDMethod, id)
	o, err := cache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (*model.Order, error) {
		s.log.DebugContext(ctx, "loading order", "id", id)
		o, ok, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("order %s: %w", id, cache.ErrNotFound)
		}
		return o, nil
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// Evict drops the cached order so the next ByID reads the store.
func (s *OrderService) Evict(ctx context.Context, id string) error {
	return s.cache.Delete(ctx, s.keys.SerializeKey(orderByIDMethod, id))
}
