package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/viccon/sturdyc"
)

const (
	defaultCapacity   = 10000
	defaultShards     = 64
	defaultPayloadTTL = 24 * time.Hour
	defaultEvictPct   = 10
)

// Config sizes the payload store. The query cache decides freshness on its
// own, so TTL only bounds how long an unused payload stays in memory.
type Config struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int // of Capacity, evicted when the store is full
	EarlyRefresh       *EarlyRefreshConfig
	EvictionInterval   time.Duration // zero keeps sturdyc's default
}

// EarlyRefreshConfig maps onto sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig holds a working day of list and detail pages for one
// signed-in operator.
func DefaultConfig() Config {
	return Config{
		Capacity:           defaultCapacity,
		NumShards:          defaultShards,
		TTL:                defaultPayloadTTL,
		EvictionPercentage: defaultEvictPct,
	}
}

func (c Config) options() []sturdyc.Option {
	var opts []sturdyc.Option
	if er := c.EarlyRefresh; er != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(er.MinAsyncRefreshTime, er.MaxAsyncRefreshTime, er.SyncRefreshTime, er.RetryBaseDelay))
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

type check struct {
	field string
	ok    bool
	msg   string
}

// Validate reports the first field that sturdyc would reject or misuse.
func (c Config) Validate() error {
	checks := []check{
		{"Capacity", c.Capacity > 0, "must be greater than 0"},
		{"NumShards", c.NumShards > 0, "must be greater than 0"},
		{"NumShards", c.NumShards <= c.Capacity, "must not exceed Capacity"},
		{"TTL", c.TTL > 0, "must be greater than 0"},
		{"EvictionPercentage", c.EvictionPercentage >= 1 && c.EvictionPercentage <= 100, "must be between 1 and 100"},
		{"EvictionInterval", c.EvictionInterval >= 0, "must be non-negative"},
	}
	if er := c.EarlyRefresh; er != nil {
		checks = append(checks,
			check{"EarlyRefresh.MinAsyncRefreshTime", er.MinAsyncRefreshTime >= 0, "must be non-negative"},
			check{"EarlyRefresh.MaxAsyncRefreshTime", er.MaxAsyncRefreshTime >= er.MinAsyncRefreshTime, "must not be lower than MinAsyncRefreshTime"},
			check{"EarlyRefresh.SyncRefreshTime", er.SyncRefreshTime >= 0, "must be non-negative"},
			check{"EarlyRefresh.RetryBaseDelay", er.RetryBaseDelay >= 0, "must be non-negative"},
		)
	}
	for _, ch := range checks {
		if !ch.ok {
			return &ConfigError{Field: ch.field, Message: ch.msg}
		}
	}
	return nil
}

// ConfigError names the offending store setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cache config: " + e.Field + " " + e.Message
}

// PayloadStore keeps the last successful payload of each query under its
// store key. It implements cache.CacheService.
type PayloadStore struct {
	client *sturdyc.Client[any]
}

// NewPayloadStore validates cfg and builds a sturdyc client from it.
func NewPayloadStore(cfg Config) (*PayloadStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[any](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, cfg.options()...)
	return &PayloadStore{client: client}, nil
}

func (s *PayloadStore) Get(_ context.Context, key string) (any, bool) {
	return s.client.Get(key)
}

// GetOrFetch shares concurrent fetches of one key. Failed fetches leave
// nothing behind.
func (s *PayloadStore) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error) {
	if fetchFn == nil {
		return nil, &ConfigError{Field: "fetchFn", Message: "cannot be nil"}
	}
	// sturdyc reports an untyped nil value as ErrInvalidType and drops the
	// fetch error with it, so the outcome is taken from the fetch itself.
	var outcome atomic.Pointer[fetchOutcome]
	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		v, err := fetchFn(ctx)
		outcome.Store(&fetchOutcome{err: err, nilValue: v == nil})
		return v, err
	})
	if o := outcome.Load(); o != nil {
		if o.err != nil {
			return nil, o.err
		}
		if o.nilValue && errors.Is(err, sturdyc.ErrInvalidType) {
			return nil, nil
		}
	}
	return v, err
}

type fetchOutcome struct {
	err      error
	nilValue bool
}

func (s *PayloadStore) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix drops every payload of one resource when given its
// "resource::" prefix. An empty prefix empties the store.
func (s *PayloadStore) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

func (s *PayloadStore) InvalidateKeys(_ context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}

// Size is the number of stored payloads.
func (s *PayloadStore) Size() int {
	return s.client.Size()
}
