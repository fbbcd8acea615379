package resource

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/cache"
	"github.com/connor-davis/threereco-admin/query"
)

// State is what a read returns: the data to show plus the entry status.
// Data may hold the previous result while Status is loading or error.
type State[T any] struct {
	Data        T
	Status      query.Status
	Err         error
	Stale       bool
	LastUpdated time.Time
}

// Loading reports whether a request for the state is in flight.
func (s State[T]) Loading() bool { return s.Status == query.StatusLoading }

// Failed reports whether the last request failed.
func (s State[T]) Failed() bool { return s.Status == query.StatusError }

// Ready reports whether Data holds a successful result.
func (s State[T]) Ready() bool { return s.Status == query.StatusSuccess }

// Option configures a Controller.
type Option func(*options)

type options struct {
	related []string
	logger  zerolog.Logger
}

// WithRelated names resources whose cached queries embed this one and must be
// invalidated with it (collections embed businesses, collectors and products).
func WithRelated(resources ...string) Option {
	return func(o *options) {
		o.related = append(o.related, resources...)
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Controller reads one resource through the query cache and writes it
// pessimistically: the cache only changes after the server confirmed a write.
type Controller[T any] struct {
	name    string
	source  Source[T]
	cache   *query.Cache
	related []string
	logger  zerolog.Logger
}

// New creates a Controller for the resource called name.
func New[T any](name string, source Source[T], queries *query.Cache, opts ...Option) *Controller[T] {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller[T]{
		name:    name,
		source:  source,
		cache:   queries,
		related: o.related,
		logger:  o.logger.With().Str("resource", name).Logger(),
	}
}

// Name returns the resource name.
func (c *Controller[T]) Name() string {
	return c.name
}

// Keys of one resource are told apart by their op, so request params can
// never make a list key equal to a byId or paging key.
const (
	opList   = "list"
	opByID   = "byId"
	opPaging = "paging"
)

// ListKey is the query key of a list request. The request params sit under
// "query"; a nil and an empty Params share a key.
func (c *Controller[T]) ListKey(params Params) cache.QueryKey {
	q := make(Params, len(params))
	maps.Copy(q, params)
	return cache.NewQueryKey(c.name, map[string]any{"op": opList, "query": q})
}

// ByIDKey is the query key of a single-record request.
func (c *Controller[T]) ByIDKey(id string) cache.QueryKey {
	return cache.NewQueryKey(c.name, map[string]any{"op": opByID, "id": id})
}

// PagingKey is the query key of the total page count. It does not include the
// page, so paging through a list never refetches it.
func (c *Controller[T]) PagingKey(pageSize int) cache.QueryKey {
	return cache.NewQueryKey(c.name, map[string]any{"op": opPaging, "pageSize": pageSize})
}

// List returns the records matching params, from cache when fresh.
func (c *Controller[T]) List(ctx context.Context, params Params) State[[]T] {
	key := c.ListKey(params)
	data, err := query.Fetch(ctx, c.cache, key, func(ctx context.Context) ([]T, error) {
		return c.source.List(ctx, params)
	})
	return stateOf(c.cache, key, data, err)
}

// GetByID returns one record, from cache when fresh.
func (c *Controller[T]) GetByID(ctx context.Context, id string) State[T] {
	key := c.ByIDKey(id)
	data, err := query.Fetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return c.source.GetByID(ctx, id)
	})
	return stateOf(c.cache, key, data, err)
}

// PageCount returns the number of pages of pageSize records.
func (c *Controller[T]) PageCount(ctx context.Context, pageSize int) State[int] {
	key := c.PagingKey(pageSize)
	data, err := query.Fetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.source.PageCount(ctx, pageSize)
	})
	return stateOf(c.cache, key, data, err)
}

// PeekList returns the cached list state without any I/O.
func (c *Controller[T]) PeekList(params Params) State[[]T] {
	return peek[[]T](c.cache, c.ListKey(params))
}

// PeekByID returns the cached record state without any I/O.
func (c *Controller[T]) PeekByID(id string) State[T] {
	return peek[T](c.cache, c.ByIDKey(id))
}

// PeekPageCount returns the cached page count state without any I/O.
func (c *Controller[T]) PeekPageCount(pageSize int) State[int] {
	return peek[int](c.cache, c.PagingKey(pageSize))
}

// SubscribeByID calls fn with the record state on every transition of its entry.
func (c *Controller[T]) SubscribeByID(id string, fn func(State[T])) (unsubscribe func()) {
	return c.cache.Subscribe(c.ByIDKey(id), func(e query.Entry) {
		fn(fromEntry[T](e))
	})
}

// SubscribeList calls fn with the list state on every transition of its entry.
func (c *Controller[T]) SubscribeList(params Params, fn func(State[[]T])) (unsubscribe func()) {
	return c.cache.Subscribe(c.ListKey(params), func(e query.Entry) {
		fn(fromEntry[[]T](e))
	})
}

// Create sends body to the server and, once it succeeded, invalidates every
// cached query of the resource and its related resources.
func (c *Controller[T]) Create(ctx context.Context, body T) (T, error) {
	created, err := c.source.Create(ctx, body)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", "create").Msg("mutation failed")
		var zero T
		return zero, err
	}
	c.Invalidate(ctx)
	return created, nil
}

// Update replaces the record id with body, then invalidates like Create.
func (c *Controller[T]) Update(ctx context.Context, id string, body T) (T, error) {
	updated, err := c.source.Update(ctx, id, body)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", "update").Str("id", id).Msg("mutation failed")
		var zero T
		return zero, err
	}
	c.Invalidate(ctx)
	return updated, nil
}

// Remove deletes the record id, then invalidates like Create. Referential
// conflicts are reported by the server and returned as is.
func (c *Controller[T]) Remove(ctx context.Context, id string) error {
	if err := c.source.Remove(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("op", "remove").Str("id", id).Msg("mutation failed")
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate marks every cached query of the resource and its related
// resources stale. It returns the number of entries affected.
func (c *Controller[T]) Invalidate(ctx context.Context) int {
	resources := append([]string{c.name}, c.related...)
	n := c.cache.Invalidate(ctx, cache.MatchResource(resources...))
	c.logger.Debug().Int("entries", n).Strs("resources", resources).Msg("invalidated after write")
	return n
}

func stateOf[T any](queries *query.Cache, key cache.QueryKey, data T, err error) State[T] {
	entry, _ := queries.Get(key)
	if err != nil {
		state := fromEntry[T](entry)
		state.Status = query.StatusError
		state.Err = err
		return state
	}
	return State[T]{
		Data:        data,
		Status:      query.StatusSuccess,
		Stale:       entry.Stale,
		LastUpdated: entry.LastUpdated,
	}
}

func peek[T any](queries *query.Cache, key cache.QueryKey) State[T] {
	entry, ok := queries.Get(key)
	if !ok {
		return State[T]{Status: query.StatusIdle}
	}
	return fromEntry[T](entry)
}

func fromEntry[T any](e query.Entry) State[T] {
	data, _ := cache.As[T](e.Data)
	status := e.Status
	if status == "" {
		status = query.StatusIdle
	}
	return State[T]{
		Data:        data,
		Status:      status,
		Err:         e.Err,
		Stale:       e.Stale,
		LastUpdated: e.LastUpdated,
	}
}
