// Package config loads hq settings in layers: built-in defaults, an
// optional YAML file, an optional .env file, then HQ_* environment
// variables. Each layer overrides the previous one.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hq/internal/cache"
)

// Cache provider names.
const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderNoop   = "noop"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HQ_"

// Config is the complete hq configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`

	// Schema is a .yaml or .cue schema file. Empty disables validation.
	Schema string `yaml:"schema"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig configures the DuckDB transport.
type DatabaseConfig struct {
	// DSN is passed to the duckdb driver. Empty opens an in-memory database.
	DSN string `yaml:"dsn"`

	// BatchSize is the streamed batch size; 0 uses the client default.
	BatchSize int `yaml:"batch_size"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"`
	Namespace  string        `yaml:"namespace"`
	Version    string        `yaml:"version"`
	TTL        time.Duration `yaml:"ttl"`
	StaleTTL   time.Duration `yaml:"stale_ttl"`
	CacheTime  time.Duration `yaml:"cache_time"`
	MaxEntries int           `yaml:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes"`
	SQLitePath string        `yaml:"sqlite_path"`
}

// Options returns the cache defaults described by c.
func (c CacheConfig) Options() cache.Options {
	return cache.Options{
		TTL:       c.TTL,
		StaleTTL:  c.StaleTTL,
		CacheTime: c.CacheTime,
		Mode:      cache.CacheFirst,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:    true,
			Provider:   ProviderMemory,
			Namespace:  cache.DefaultNamespace,
			Version:    cache.DefaultVersion,
			TTL:        cache.DefaultOptions.TTL,
			CacheTime:  cache.DefaultOptions.CacheTime,
			MaxEntries: cache.DefaultMaxEntries,
			SQLitePath: "hq-cache.db",
		},
		LogLevel: "info",
	}
}

// LoadOption configures Load.
type LoadOption func(*loader)

type loader struct {
	envFile  string
	required bool
	lookup   func(string) (string, bool)
}

// WithEnvFile reads key=value pairs from path. Unlike the default ".env",
// an explicit file must exist.
func WithEnvFile(path string) LoadOption {
	return func(l *loader) {
		l.envFile = path
		l.required = true
	}
}

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) LoadOption {
	return func(l *loader) { l.lookup = fn }
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the .env file and the environment, then validates it.
//
// Values from the .env file never override variables already present in
// the environment, and the process environment is not modified.
func Load(path string, opts ...LoadOption) (*Config, error) {
	l := &loader{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv, err := godotenv.Read(l.envFile)
	if err != nil {
		if l.required || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", l.envFile, err)
		}
		dotenv = nil
	}

	lookup := func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type binding struct {
	key   string
	apply func(*Config, string) error
}

var bindings = []binding{
	{"DATABASE_DSN", func(c *Config, v string) error { c.Database.DSN = v; return nil }},
	{"DATABASE_BATCH_SIZE", func(c *Config, v string) (err error) { c.Database.BatchSize, err = cast.ToIntE(v); return }},
	{"SCHEMA", func(c *Config, v string) error { c.Schema = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"CACHE_ENABLED", func(c *Config, v string) (err error) { c.Cache.Enabled, err = cast.ToBoolE(v); return }},
	{"CACHE_PROVIDER", func(c *Config, v string) error { c.Cache.Provider = v; return nil }},
	{"CACHE_NAMESPACE", func(c *Config, v string) error { c.Cache.Namespace = v; return nil }},
	{"CACHE_VERSION", func(c *Config, v string) error { c.Cache.Version = v; return nil }},
	{"CACHE_TTL", func(c *Config, v string) (err error) { c.Cache.TTL, err = cast.ToDurationE(v); return }},
	{"CACHE_STALE_TTL", func(c *Config, v string) (err error) { c.Cache.StaleTTL, err = cast.ToDurationE(v); return }},
	{"CACHE_TIME", func(c *Config, v string) (err error) { c.Cache.CacheTime, err = cast.ToDurationE(v); return }},
	{"CACHE_MAX_ENTRIES", func(c *Config, v string) (err error) { c.Cache.MaxEntries, err = cast.ToIntE(v); return }},
	{"CACHE_MAX_BYTES", func(c *Config, v string) (err error) { c.Cache.MaxBytes, err = cast.ToInt64E(v); return }},
	{"CACHE_SQLITE_PATH", func(c *Config, v string) error { c.Cache.SQLitePath = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range bindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Cache.Provider {
	case ProviderMemory, ProviderNoop:
	case ProviderSQLite:
		if c.Cache.SQLitePath == "" {
			return errors.New("cache.sqlite_path is required for the sqlite provider")
		}
	default:
		return fmt.Errorf("unknown cache provider %q (want memory, sqlite or noop)", c.Cache.Provider)
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"cache.ttl", c.Cache.TTL},
		{"cache.stale_ttl", c.Cache.StaleTTL},
		{"cache.cache_time", c.Cache.CacheTime},
	}
	for _, f := range durations {
		if f.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", f.name, f.d)
		}
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 {
		return errors.New("cache size limits must not be negative")
	}
	if c.Database.BatchSize < 0 {
		return errors.New("database.batch_size must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
