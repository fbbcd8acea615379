// Package config loads the admin client configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/connor-davis/threereco-admin/cache"
)

const (
	EnvAPIURL   = "THREERECO_API_URL"
	EnvAPIToken = "THREERECO_API_TOKEN"
	EnvLogLevel = "THREERECO_LOG_LEVEL"
	EnvConfig   = "THREERECO_CONFIG"
)

type Config struct {
	API   API          `yaml:"api"`
	Cache cache.Config `yaml:"cache"`
	List  List         `yaml:"list"`
	Log   Log          `yaml:"log"`
}

type API struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Token   string        `yaml:"token"`
}

type List struct {
	PageSize  int   `yaml:"page_size"`
	PageSizes []int `yaml:"page_sizes"`
}

type Log struct {
	Level  string `yaml:"level"`  // trace | debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

func DefaultConfig() Config {
	return Config{
		API: API{
			BaseURL: "http://localhost:6173",
			Timeout: 30 * time.Second,
		},
		Cache: cache.DefaultConfig(),
		List: List{
			PageSize:  10,
			PageSizes: []int{10, 20, 30},
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath is where Load looks when no path is given:
// $THREERECO_CONFIG, else threereco/config.yaml under the user config dir.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "threereco.yaml"
	}
	return filepath.Join(dir, "threereco", "config.yaml")
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv applies THREERECO_API_URL, THREERECO_API_TOKEN and
// THREERECO_LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("config: api.timeout must be positive, got %v", c.API.Timeout)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if len(c.List.PageSizes) == 0 {
		return errors.New("config: list.page_sizes cannot be empty")
	}
	for _, n := range c.List.PageSizes {
		if n <= 0 {
			return fmt.Errorf("config: list.page_sizes must be positive, got %d", n)
		}
	}
	if !slices.Contains(c.List.PageSizes, c.List.PageSize) {
		return fmt.Errorf("config: list.page_size %d is not one of %v", c.List.PageSize, c.List.PageSizes)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be trace, debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}
