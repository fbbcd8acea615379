package cache

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidType is returned when a cached payload cannot be converted to the requested type.
var ErrInvalidType = errors.New("cache: cached value has unexpected type")

// KeySerializer builds a cache key from a resource name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(resource string, args ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
// It is an alias so store implementations need not import this package.
type FetchFn[T any] = func(ctx context.Context) (T, error)

// CacheService is the payload store behind the query cache.
// It is exported so that other packages can reuse the default serializer or provide alternate cache backends.
type CacheService interface {
	Get(ctx context.Context, key string) (any, bool)
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	InvalidateKeys(ctx context.Context, keys []string) error
}

// GetOrFetch is a type-safe wrapper function that provides generic support for CacheService.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](result)
}

// As converts a stored payload back into T. A nil payload yields the zero value.
func As[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", ErrInvalidType, zero, v)
	}
	return typed, nil
}
