// Package cache provides read-through caching for repository reads.
//
// Two CacheService implementations exist: MemoryService keeps values in
// process (sturdyc), StoreService keeps msgpack-encoded values in the
// key-value store under "cache:<key>" so they are shared and expire with the
// store. Keys come from a KeySerializer, by default "method::arg1::arg2".
//
//	order, err := cache.GetOrFetch(ctx, svc, keys.SerializeKey("OrderService.ByID", id),
//	    func(ctx context.Context) (*model.Order, error) { return load(ctx, id) })
package cache
