package cache

import (
	"time"

	"github.com/connor-davis/threereco-admin/internal/cacheinfra"
)

// Config exposes payload store options for consumers of the cache package.
type Config struct {
	Capacity           int                 `yaml:"capacity"`
	NumShards          int                 `yaml:"num_shards"`
	TTL                time.Duration       `yaml:"ttl"`
	EvictionPercentage int                 `yaml:"eviction_percentage"`
	EarlyRefresh       *EarlyRefreshConfig `yaml:"early_refresh"`
	EvictionInterval   time.Duration       `yaml:"eviction_interval"`
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
// Leave it nil for dashboards: an early refresh is a background retry of the loader.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `yaml:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `yaml:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `yaml:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewCacheService builds the sturdyc-backed payload store.
func NewCacheService(cfg Config) (CacheService, error) {
	store, err := cacheinfra.NewPayloadStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// The two config types differ only in struct tags, so plain conversions apply.
func (c Config) toInternal() cacheinfra.Config {
	out := cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
	if c.EarlyRefresh != nil {
		er := cacheinfra.EarlyRefreshConfig(*c.EarlyRefresh)
		out.EarlyRefresh = &er
	}
	return out
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	out := Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
	if cfg.EarlyRefresh != nil {
		er := EarlyRefreshConfig(*cfg.EarlyRefresh)
		out.EarlyRefresh = &er
	}
	return out
}
