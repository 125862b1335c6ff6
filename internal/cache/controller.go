package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/hq/internal/transport"
)

// Mode selects how a read consults the cache.
type Mode string

const (
	// CacheFirst serves fresh and stale entries and fetches on a miss.
	CacheFirst Mode = "cache-first"
	// NetworkFirst always fetches and stores the result.
	NetworkFirst Mode = "network-first"
	// NoStore bypasses the cache entirely.
	NoStore Mode = "no-store"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case CacheFirst, NetworkFirst, NoStore:
		return true
	}
	return false
}

// Options control caching of a single read. Zero fields take the
// controller's defaults.
type Options struct {
	TTL       time.Duration
	StaleTTL  time.Duration
	CacheTime time.Duration
	Tags      []string
	Mode      Mode

	// StaleIfError serves any retained entry, even an expired one, when
	// the fetch fails. Without it fetch errors are always returned.
	StaleIfError bool
}

// DefaultOptions are used when a controller is created without WithDefaults.
var DefaultOptions = Options{
	TTL:       time.Minute,
	CacheTime: 5 * time.Minute,
	Mode:      CacheFirst,
}

func (o Options) merge(over Options) Options {
	if over.TTL != 0 {
		o.TTL = over.TTL
	}
	if over.StaleTTL != 0 {
		o.StaleTTL = over.StaleTTL
	}
	if over.CacheTime != 0 {
		o.CacheTime = over.CacheTime
	}
	if len(over.Tags) > 0 {
		o.Tags = append(append([]string(nil), o.Tags...), over.Tags...)
	}
	if over.Mode != "" {
		o.Mode = over.Mode
	}
	if over.StaleIfError {
		o.StaleIfError = true
	}
	return o
}

// Fetcher loads rows from the database on a miss or revalidation.
type Fetcher func(ctx context.Context) ([]transport.Row, error)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats are monotonically increasing counters. HitRate is
// (Hits+StaleHits)/(Hits+StaleHits+Misses), or 0 before the first read.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	StaleHits     int64   `json:"stale_hits"`
	Revalidations int64   `json:"revalidations"`
	HitRate       float64 `json:"hit_rate"`
}

// localEntry is a decoded result held in-process.
type localEntry struct {
	meta *Entry
	rows []transport.Row
}

// DefaultLocalEntries bounds the in-process decoded-result cache.
const DefaultLocalEntries = 500

// Controller serves reads through a Provider, tracks statistics and
// handles invalidation, warming and stale-while-revalidate refreshes.
//
// Rows returned by Fetch are always in their cached form, whether they were
// just fetched or read back: JSON numbers are json.Number, times are
// RFC 3339 strings and byte slices are base64 strings. Only NoStore reads
// return the fetcher's rows unchanged. Rows may be shared between callers
// and must not be modified.
type Controller struct {
	provider  Provider
	caching   bool
	namespace string
	version   string
	defaults  Options
	clock     Clock
	logger    *slog.Logger
	warmLimit int

	local  *lru[localEntry]
	flight singleflight.Group

	mu           sync.Mutex
	revalidating map[string]struct{}
	background   sync.WaitGroup

	hits, misses, staleHits, revalidations atomic.Int64
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithNamespace sets the key namespace.
func WithNamespace(ns string) ControllerOption {
	return func(c *Controller) { c.namespace = ns }
}

// WithVersion sets the key version segment.
func WithVersion(v string) ControllerOption {
	return func(c *Controller) { c.version = v }
}

// WithDefaults replaces DefaultOptions for this controller.
func WithDefaults(o Options) ControllerOption {
	return func(c *Controller) { c.defaults = DefaultOptions.merge(o) }
}

// WithClock overrides the time source.
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// WithLocalEntries bounds the decoded-result cache.
func WithLocalEntries(n int) ControllerOption {
	return func(c *Controller) { c.local = newLRU[localEntry](n, 0, nil) }
}

// WithWarmConcurrency bounds how many warm queries run at once.
// Zero means unbounded.
func WithWarmConcurrency(n int) ControllerOption {
	return func(c *Controller) { c.warmLimit = n }
}

// NewController creates a Controller over p. A nil provider disables
// caching through NoopProvider.
func NewController(p Provider, opts ...ControllerOption) *Controller {
	if p == nil {
		p = NoopProvider{}
	}
	c := &Controller{
		provider:     p,
		caching:      !isNoop(p),
		namespace:    DefaultNamespace,
		version:      DefaultVersion,
		defaults:     DefaultOptions,
		clock:        systemClock{},
		logger:       slog.Default(),
		local:        newLRU[localEntry](DefaultLocalEntries, 0, nil),
		revalidating: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func isNoop(p Provider) bool {
	switch p.(type) {
	case NoopProvider, *NoopProvider:
		return true
	}
	return false
}

// Namespace returns the key namespace.
func (c *Controller) Namespace() string { return c.namespace }

// Version returns the key version segment.
func (c *Controller) Version() string { return c.version }

// Key derives the cache key for a statement in this controller's
// namespace and version.
func (c *Controller) Key(table, sql string, params []any, settings map[string]any) (string, error) {
	return ComputeKey(KeyInput{
		Namespace:  c.namespace,
		Version:    c.version,
		TableName:  table,
		SQL:        sql,
		Parameters: params,
		Settings:   settings,
	})
}

// Fetch returns the rows for key, consulting the cache according to the
// mode in opts and calling fetch when needed.
//
// Cache-first reads count a fresh entry as a hit and a stale entry as a
// stale hit; a stale hit schedules one background revalidation per key.
// Anything else is a miss. Network-first reads always fetch and count as
// misses. Failed fetches never store an entry.
func (c *Controller) Fetch(ctx context.Context, key string, opts Options, fetch Fetcher) ([]transport.Row, error) {
	opts = c.defaults.merge(opts)

	switch opts.Mode {
	case NoStore:
		return fetch(ctx)
	case NetworkFirst:
		c.misses.Add(1)
		rows, err := c.load(ctx, key, opts, fetch)
		if err != nil {
			return c.fallback(ctx, key, opts, err)
		}
		return rows, nil
	}

	if le, ok := c.lookup(ctx, key); ok {
		switch le.meta.FreshnessAt(c.clock.Now()) {
		case Fresh:
			c.hits.Add(1)
			c.logger.Debug("cache hit", "key", key)
			return le.rows, nil
		case Stale:
			c.staleHits.Add(1)
			c.logger.Debug("cache stale hit", "key", key)
			c.revalidate(ctx, key, opts, fetch)
			return le.rows, nil
		}
	}

	c.misses.Add(1)
	c.logger.Debug("cache miss", "key", key)
	rows, err := c.load(ctx, key, opts, fetch)
	if err != nil {
		return c.fallback(ctx, key, opts, err)
	}
	return rows, nil
}

// fallback serves a retained entry after a failed fetch when the caller
// opted in with StaleIfError.
func (c *Controller) fallback(ctx context.Context, key string, opts Options, fetchErr error) ([]transport.Row, error) {
	if !opts.StaleIfError {
		return nil, fetchErr
	}
	le, ok := c.lookup(ctx, key)
	if !ok {
		return nil, fetchErr
	}
	c.logger.Warn("serving cached entry after fetch error", "key", key, "created_at", le.meta.CreatedAt, "error", fetchErr)
	return le.rows, nil
}

// lookup finds a retained entry, preferring the decoded local copy unless
// it has expired.
func (c *Controller) lookup(ctx context.Context, key string) (localEntry, bool) {
	if !c.caching {
		return localEntry{}, false
	}
	if le, ok := c.local.Get(key); ok && le.meta.FreshnessAt(c.clock.Now()) != Expired {
		return le, true
	}

	e, err := c.provider.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache provider read failed", "key", key, "error", err)
		return localEntry{}, false
	}
	if e == nil || e.Status != StatusFulfilled || !c.clock.Now().Before(e.ExpiresAt()) {
		return localEntry{}, false
	}
	rows, err := decodeRows(e.Value)
	if err != nil {
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return localEntry{}, false
	}
	le := localEntry{meta: withoutValue(e), rows: rows}
	c.local.Put(key, le)
	return le, true
}

// load runs fetch once per key at a time and stores a successful result.
func (c *Controller) load(ctx context.Context, key string, opts Options, fetch Fetcher) ([]transport.Row, error) {
	v, err, _ := c.flight.Do(key, func() (any, error) {
		rows, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return c.store(ctx, key, opts, rows), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]transport.Row), nil
}

// store persists rows and returns them in their cached form.
func (c *Controller) store(ctx context.Context, key string, opts Options, rows []transport.Row) []transport.Row {
	if rows == nil {
		rows = []transport.Row{}
	}
	value, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("cache entry not stored: rows are not serializable", "key", key, "error", err)
		return rows
	}
	cached, err := decodeRows(value)
	if err != nil {
		c.logger.Warn("cache entry not stored: rows do not decode", "key", key, "error", err)
		return rows
	}
	e := &Entry{
		Namespace: c.namespace,
		Value:     value,
		CreatedAt: c.clock.Now(),
		TTL:       opts.TTL,
		StaleTTL:  opts.StaleTTL,
		CacheTime: opts.CacheTime,
		Tags:      append([]string(nil), opts.Tags...),
		RowCount:  len(rows),
		ByteSize:  len(value),
		Status:    StatusFulfilled,
	}
	if err := c.provider.Set(ctx, key, e); err != nil {
		c.logger.Warn("cache provider write failed", "key", key, "error", err)
	}
	if c.caching {
		c.local.Put(key, localEntry{meta: withoutValue(e), rows: cached})
	}
	return cached
}

// revalidate refreshes key in the background unless a refresh for it is
// already running.
func (c *Controller) revalidate(ctx context.Context, key string, opts Options, fetch Fetcher) {
	c.mu.Lock()
	if _, running := c.revalidating[key]; running {
		c.mu.Unlock()
		return
	}
	c.revalidating[key] = struct{}{}
	c.mu.Unlock()

	c.revalidations.Add(1)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer func() {
			c.mu.Lock()
			delete(c.revalidating, key)
			c.mu.Unlock()
		}()

		if _, err := c.load(context.WithoutCancel(ctx), key, opts, fetch); err != nil {
			c.logger.Warn("cache revalidation failed", "key", key, "error", err)
		}
	}()
}

// Wait blocks until background revalidations have finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

// InvalidateKey removes key from the provider and the local cache.
func (c *Controller) InvalidateKey(ctx context.Context, key string) error {
	c.local.Delete(key)
	if err := c.provider.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateTags removes every entry carrying any of tags.
//
// Locally cached results are always purged. When the provider cannot
// delete by tag a warning is logged and persisted entries are left in
// place until they expire; no error is returned in that case.
func (c *Controller) InvalidateTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	purged := c.local.DeleteFunc(func(_ string, le localEntry) bool {
		return le.meta.HasAnyTag(tags...)
	})

	td, ok := c.provider.(TagDeleter)
	if !ok {
		c.logger.Warn("cache provider does not support tag invalidation; persisted entries remain until they expire",
			"provider", fmt.Sprintf("%T", c.provider),
			"tags", tags,
			"local_purged", purged,
		)
		return nil
	}

	var errs []error
	for _, tag := range tags {
		if _, err := td.DeleteByTag(ctx, c.namespace, tag); err != nil {
			errs = append(errs, fmt.Errorf("invalidate tag %s: %w", tag, err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes every entry in the controller's namespace.
func (c *Controller) Clear(ctx context.Context) error {
	c.local.DeleteFunc(func(string, localEntry) bool { return true })
	if err := c.provider.ClearNamespace(ctx, c.namespace); err != nil {
		return fmt.Errorf("clear namespace %s: %w", c.namespace, err)
	}
	return nil
}

// WarmQuery populates the cache as a side effect of running.
type WarmQuery func(ctx context.Context) error

// Warm runs queries concurrently and waits for all of them. It returns
// the first error; the remaining queries still run to completion.
func (c *Controller) Warm(ctx context.Context, queries ...WarmQuery) error {
	var g errgroup.Group
	if c.warmLimit > 0 {
		g.SetLimit(c.warmLimit)
	}
	for _, q := range queries {
		g.Go(func() error { return q(ctx) })
	}
	return g.Wait()
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		StaleHits:     c.staleHits.Load(),
		Revalidations: c.revalidations.Load(),
	}
	if total := s.Hits + s.StaleHits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits+s.StaleHits) / float64(total)
	}
	return s
}

func withoutValue(e *Entry) *Entry {
	meta := e.clone()
	meta.Value = nil
	return meta
}

func decodeRows(data []byte) ([]transport.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []transport.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
