// Package cache provides query keys, key serialization and the payload store
// contract used by the query cache.
//
// # Overview
//
// This package exports:
//
//   - QueryKey: identifies a cached request as a resource name plus parameters
//   - KeySerializer: builds stable key strings from a resource name and arguments
//   - CacheService: the payload store (backed by sturdyc by default)
//
// # Query Keys
//
// A QueryKey renders to a canonical string. Parameter maps are serialized with
// sorted keys, so these two keys are equal:
//
//	a := cache.NewQueryKey("products", map[string]any{"page": 1, "pageSize": 10})
//	b := cache.NewQueryKey("products", map[string]any{"pageSize": 10, "page": 1})
//	a.Equal(b) // true
//
// Keys double as invalidation prefixes. MatchResource selects every key of a
// resource; MatchPrefix selects keys that carry the prefix's params:
//
//	cache.MatchPrefix(cache.NewQueryKey("collectors", map[string]any{"page": 1}))
//
// The payload store receives StoreKey(), a compact "resource::hash" form built
// with xxhash; the resource segment stays readable so the store can drop every
// payload of a resource with DeleteByPrefix.
//
// # Key Serialization Strategy
//
// The default key serializer uses reflection:
//
//   - Values implementing encoding.TextMarshaler (time.Time, uuid.UUID): text form
//   - Basic types: direct string representation
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs for deterministic output
//   - Structs: exported fields with name:value pairs
//   - Anything else: JSON fallback
//
// # Payload Store
//
//	store, err := cache.NewCacheService(cache.DefaultConfig())
//	products, err := cache.GetOrFetch(ctx, store, key.StoreKey(), func(ctx context.Context) ([]Product, error) {
//		return api.ListProducts(ctx)
//	})
//
// The query package layers status tracking, subscriptions and stale-while-
// revalidate on top of a CacheService.
package cache
