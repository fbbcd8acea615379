package query

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/cache"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is a point-in-time snapshot of one cached query.
type Entry struct {
	Key         cache.QueryKey
	Data        any
	Status      Status
	Err         error
	LastUpdated time.Time
	// Stale entries keep their last Data until the next fetch replaces it.
	Stale bool
}

// Loader fetches the data for a key from the source of truth.
type Loader func(ctx context.Context) (any, error)

// Listener receives a snapshot on every status or data transition of an entry.
type Listener func(Entry)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for hit, miss and invalidation events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock overrides the clock used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache maps query keys to entries. Entry metadata lives in an xsync map;
// fresh payloads live in the CacheService store so capacity and TTL apply.
// A Cache is safe for concurrent use.
type Cache struct {
	store   cache.CacheService
	entries *xsync.MapOf[string, *entry]
	logger  zerolog.Logger
	now     func() time.Time
	nextID  atomic.Uint64
}

type entry struct {
	mu          sync.Mutex
	key         cache.QueryKey
	data        any
	status      Status
	err         error
	lastUpdated time.Time
	stale       bool
	generation  uint64
	flight      *flight
	listeners   map[uint64]Listener
}

// flight is a loader call shared by every Fetch that arrives while it runs.
type flight struct {
	done chan struct{}
	data any
	err  error
}

// New creates a Cache on top of store.
func New(store cache.CacheService, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		entries: xsync.NewMapOf[string, *entry](),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entryFor(key cache.QueryKey) *entry {
	e, _ := c.entries.LoadOrCompute(key.String(), func() *entry {
		return &entry{
			key:       key,
			status:    StatusIdle,
			listeners: make(map[uint64]Listener),
		}
	})
	return e
}

// Get returns a snapshot of the entry for key. It never performs I/O.
func (c *Cache) Get(key cache.QueryKey) (Entry, bool) {
	e, ok := c.entries.Load(key.String())
	if !ok {
		return Entry{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// Fetch returns the cached data for key when the entry is fresh. Otherwise it
// runs loader, sharing a single call between all concurrent callers of the
// same key. A caller whose ctx ends stops waiting; the shared call continues
// for the others. Errors are returned and recorded but never stored as data.
func (c *Cache) Fetch(ctx context.Context, key cache.QueryKey, loader Loader) (any, error) {
	e := c.entryFor(key)
	storeKey := key.StoreKey()

	e.mu.Lock()
	if e.status == StatusSuccess && !e.stale {
		if data, ok := c.store.Get(ctx, storeKey); ok {
			e.mu.Unlock()
			c.logger.Debug().Str("key", key.String()).Msg("query cache hit")
			return data, nil
		}
	}

	if f := e.flight; f != nil {
		e.mu.Unlock()
		c.logger.Debug().Str("key", key.String()).Msg("query cache joined in-flight request")
		return wait(ctx, f)
	}

	f := &flight{done: make(chan struct{})}
	e.flight = f
	e.status = StatusLoading
	generation := e.generation
	snap, listeners := e.snapshot(), e.listenerList()
	e.mu.Unlock()

	c.logger.Debug().Str("key", key.String()).Msg("query cache miss")
	notify(listeners, snap)

	go c.run(context.WithoutCancel(ctx), e, f, generation, loader)

	return wait(ctx, f)
}

func (c *Cache) run(ctx context.Context, e *entry, f *flight, generation uint64, loader Loader) {
	storeKey := e.key.StoreKey()

	// Anything left in the store for a non-fresh entry must not satisfy this load.
	_ = c.store.Delete(ctx, storeKey)
	data, err := c.store.GetOrFetch(ctx, storeKey, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})

	e.mu.Lock()
	e.flight = nil
	if err != nil {
		e.status = StatusError
		e.err = err
	} else {
		e.status = StatusSuccess
		e.err = nil
		e.data = data
		e.lastUpdated = c.now()
		// Invalidated while loading: keep the data for display, force the next fetch.
		e.stale = e.generation != generation
		if e.stale {
			_ = c.store.Delete(ctx, storeKey)
		}
	}
	f.data, f.err = data, err
	snap, listeners := e.snapshot(), e.listenerList()
	e.mu.Unlock()

	if err != nil {
		c.logger.Debug().Err(err).Str("key", e.key.String()).Msg("query load failed")
	}
	// Listeners see the result before any waiter returns.
	notify(listeners, snap)
	close(f.done)
}

func wait(ctx context.Context, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate marks every entry selected by pred as stale and drops its fresh
// payload. Stale entries keep their data so views can keep showing it while
// the next fetch runs. It returns the number of entries invalidated.
func (c *Cache) Invalidate(ctx context.Context, pred cache.KeyPredicate) int {
	type pending struct {
		snap      Entry
		listeners []Listener
	}

	var (
		matched []*entry
		queue   []pending
	)
	c.entries.Range(func(_ string, e *entry) bool {
		if pred(e.key) {
			matched = append(matched, e)
		}
		return true
	})

	for _, e := range matched {
		e.mu.Lock()
		e.stale = true
		e.generation++
		queue = append(queue, pending{snap: e.snapshot(), listeners: e.listenerList()})
		e.mu.Unlock()

		_ = c.store.Delete(ctx, e.key.StoreKey())
	}

	if len(matched) > 0 {
		c.logger.Debug().Int("entries", len(matched)).Msg("query cache invalidated")
	}
	for _, p := range queue {
		notify(p.listeners, p.snap)
	}
	return len(matched)
}

// Subscribe registers listener for key and returns a function that removes it.
// Listeners run synchronously on the goroutine that caused the transition.
func (c *Cache) Subscribe(key cache.QueryKey, listener Listener) (unsubscribe func()) {
	e := c.entryFor(key)
	id := c.nextID.Add(1)

	e.mu.Lock()
	e.listeners[id] = listener
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Clear drops every entry, subscription and stored payload.
func (c *Cache) Clear(ctx context.Context) {
	c.entries.Clear()
	_ = c.store.DeleteByPrefix(ctx, "")
	c.logger.Debug().Msg("query cache cleared")
}

// Keys returns the keys of every entry in canonical order.
func (c *Cache) Keys() []cache.QueryKey {
	var keys []cache.QueryKey
	c.entries.Range(func(_ string, e *entry) bool {
		keys = append(keys, e.key)
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Fetch is the typed form of Cache.Fetch.
func Fetch[T any](ctx context.Context, c *Cache, key cache.QueryKey, loader func(ctx context.Context) (T, error)) (T, error) {
	data, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return cache.As[T](data)
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         e.key,
		Data:        e.data,
		Status:      e.status,
		Err:         e.err,
		LastUpdated: e.lastUpdated,
		Stale:       e.stale,
	}
}

func (e *entry) listenerList() []Listener {
	if len(e.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = e.listeners[id]
	}
	return out
}

func notify(listeners []Listener, snap Entry) {
	for _, l := range listeners {
		l(snap)
	}
}
