package builder

import (
	"context"
	"time"

	"github.com/roach88/hq/internal/cache"
	"github.com/roach88/hq/internal/transport"
)

// ExecOption adjusts a single execution.
type ExecOption func(*execConfig)

type execConfig struct {
	cache   cache.Options
	key     string
	queryID string
}

// WithTTL sets how long the result is fresh.
func WithTTL(d time.Duration) ExecOption {
	return func(c *execConfig) { c.cache.TTL = d }
}

// WithStaleTTL sets how long after TTL a stale result may be served while
// it is refreshed in the background.
func WithStaleTTL(d time.Duration) ExecOption {
	return func(c *execConfig) { c.cache.StaleTTL = d }
}

// WithCacheTime sets how long the entry is retained by the provider.
func WithCacheTime(d time.Duration) ExecOption {
	return func(c *execConfig) { c.cache.CacheTime = d }
}

// WithTags attaches invalidation tags to the cached result.
func WithTags(tags ...string) ExecOption {
	return func(c *execConfig) { c.cache.Tags = append(c.cache.Tags, tags...) }
}

// WithMode selects the cache read policy.
func WithMode(m cache.Mode) ExecOption {
	return func(c *execConfig) { c.cache.Mode = m }
}

// WithStaleIfError serves a retained result when the database fails.
func WithStaleIfError() ExecOption {
	return func(c *execConfig) { c.cache.StaleIfError = true }
}

// WithKey replaces the derived cache key.
func WithKey(key string) ExecOption {
	return func(c *execConfig) { c.key = key }
}

// WithQueryID sets the query ID sent to the transport instead of a
// generated one.
func WithQueryID(id string) ExecOption {
	return func(c *execConfig) { c.queryID = id }
}

// Key returns the cache key Execute would use. It fails when no cache is
// configured.
func (b Builder) Key() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if b.f.cache == nil {
		return "", ErrNoCache
	}
	sql, params, err := b.ToSQLWithParams()
	if err != nil {
		return "", err
	}
	return b.f.cache.Key(b.state.Table, sql, params, b.state.Settings)
}

// Execute runs the query and returns all rows. With a cache configured the
// read goes through the cache controller.
func (b Builder) Execute(ctx context.Context, opts ...ExecOption) ([]transport.Row, error) {
	req, cfg, err := b.request(opts)
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) ([]transport.Row, error) {
		b.f.logger.Debug("executing query", "query_id", req.QueryID, "table", b.state.Table)
		return b.f.executor.Query(ctx, req)
	}
	if b.f.cache == nil {
		return fetch(ctx)
	}

	key := cfg.key
	if key == "" {
		key, err = b.f.cache.Key(b.state.Table, req.SQL, req.Parameters, req.Settings)
		if err != nil {
			return nil, err
		}
	}
	return b.f.cache.Fetch(ctx, key, cfg.cache, fetch)
}

// Stream runs the query and returns its rows in batches. Streams bypass
// the cache. Executors that cannot stream are read fully and replayed.
func (b Builder) Stream(ctx context.Context, opts ...ExecOption) (transport.RowStream, error) {
	req, _, err := b.request(opts)
	if err != nil {
		return nil, err
	}
	b.f.logger.Debug("streaming query", "query_id", req.QueryID, "table", b.state.Table)

	if s, ok := b.f.executor.(transport.Streamer); ok {
		return s.Stream(ctx, req)
	}
	rows, err := b.f.executor.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return transport.NewSliceStream(rows, b.f.batchSize), nil
}

// Warm returns a cache.WarmQuery that executes b with opts.
func (b Builder) Warm(opts ...ExecOption) cache.WarmQuery {
	return func(ctx context.Context) error {
		_, err := b.Execute(ctx, opts...)
		return err
	}
}

func (b Builder) request(opts []ExecOption) (transport.Request, execConfig, error) {
	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if b.err != nil {
		return transport.Request{}, cfg, b.err
	}
	if b.f.executor == nil {
		return transport.Request{}, cfg, ErrNoExecutor
	}
	sql, params, err := b.ToSQLWithParams()
	if err != nil {
		return transport.Request{}, cfg, err
	}
	if cfg.queryID == "" {
		cfg.queryID = b.f.ids.Generate()
	}
	return transport.Request{
		SQL:        sql,
		Parameters: params,
		Settings:   b.state.Settings,
		QueryID:    cfg.queryID,
	}, cfg, nil
}
