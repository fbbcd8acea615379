package resource

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Funcs for operations left unset.
var ErrUnsupported = errors.New("resource: operation not supported")

// Params are the query parameters of a list request. Keys are API query
// names (page, pageSize, includeBusiness, usePaging, ...).
type Params = map[string]any

// Source is the source of truth for one resource, usually the REST API.
type Source[T any] interface {
	List(ctx context.Context, params Params) ([]T, error)
	GetByID(ctx context.Context, id string) (T, error)
	PageCount(ctx context.Context, pageSize int) (int, error)
	Create(ctx context.Context, body T) (T, error)
	Update(ctx context.Context, id string, body T) (T, error)
	Remove(ctx context.Context, id string) error
}

// Funcs adapts plain functions to a Source. Nil functions return ErrUnsupported.
type Funcs[T any] struct {
	ListFn      func(ctx context.Context, params Params) ([]T, error)
	GetByIDFn   func(ctx context.Context, id string) (T, error)
	PageCountFn func(ctx context.Context, pageSize int) (int, error)
	CreateFn    func(ctx context.Context, body T) (T, error)
	UpdateFn    func(ctx context.Context, id string, body T) (T, error)
	RemoveFn    func(ctx context.Context, id string) error
}

var _ Source[any] = Funcs[any]{}

func (f Funcs[T]) List(ctx context.Context, params Params) ([]T, error) {
	if f.ListFn == nil {
		return nil, ErrUnsupported
	}
	return f.ListFn(ctx, params)
}

func (f Funcs[T]) GetByID(ctx context.Context, id string) (T, error) {
	if f.GetByIDFn == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return f.GetByIDFn(ctx, id)
}

func (f Funcs[T]) PageCount(ctx context.Context, pageSize int) (int, error) {
	if f.PageCountFn == nil {
		return 0, ErrUnsupported
	}
	return f.PageCountFn(ctx, pageSize)
}

func (f Funcs[T]) Create(ctx context.Context, body T) (T, error) {
	if f.CreateFn == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return f.CreateFn(ctx, body)
}

func (f Funcs[T]) Update(ctx context.Context, id string, body T) (T, error) {
	if f.UpdateFn == nil {
		var zero T
		return zero, ErrUnsupported
	}
	return f.UpdateFn(ctx, id, body)
}

func (f Funcs[T]) Remove(ctx context.Context, id string) error {
	if f.RemoveFn == nil {
		return ErrUnsupported
	}
	return f.RemoveFn(ctx, id)
}
