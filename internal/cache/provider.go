package cache

import (
	"context"
	"sync/atomic"
)

// Provider stores serialized entries.
//
// Get returns (nil, nil) when the key is absent. Implementations must be
// safe for concurrent use and must not retain or mutate entries passed to
// Set or returned from Get after the call returns.
type Provider interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	ClearNamespace(ctx context.Context, namespace string) error
}

// TagDeleter is implemented by providers that can delete entries by tag.
type TagDeleter interface {
	DeleteByTag(ctx context.Context, namespace, tag string) (int, error)
}

// NoopProvider never stores anything. Every Get is a miss.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) (*Entry, error) { return nil, nil }

func (NoopProvider) Set(context.Context, string, *Entry) error { return nil }

func (NoopProvider) Delete(context.Context, string) error { return nil }

func (NoopProvider) ClearNamespace(context.Context, string) error { return nil }

func (NoopProvider) DeleteByTag(context.Context, string, string) (int, error) { return 0, nil }

// MemoryProvider keeps entries in a bounded in-process LRU.
type MemoryProvider struct {
	entries   *lru[*Entry]
	evictions atomic.Int64
}

// MemoryOption configures a MemoryProvider.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	maxEntries int
	maxBytes   int
}

// DefaultMaxEntries bounds a MemoryProvider when no limit is given.
const DefaultMaxEntries = 1000

// WithMaxEntries bounds the number of entries. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(c *memoryConfig) { c.maxEntries = n }
}

// WithMaxBytes bounds the total Value size. Zero means unbounded.
func WithMaxBytes(n int) MemoryOption {
	return func(c *memoryConfig) { c.maxBytes = n }
}

// NewMemoryProvider creates an LRU-backed provider.
func NewMemoryProvider(opts ...MemoryOption) *MemoryProvider {
	cfg := memoryConfig{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &MemoryProvider{}
	p.entries = newLRU(cfg.maxEntries, cfg.maxBytes, func(e *Entry) int { return len(e.Value) })
	p.entries.onEvict = func(string, *Entry) { p.evictions.Add(1) }
	return p
}

func (p *MemoryProvider) Get(_ context.Context, key string) (*Entry, error) {
	e, ok := p.entries.Get(key)
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

func (p *MemoryProvider) Set(_ context.Context, key string, e *Entry) error {
	p.entries.Put(key, e.clone())
	return nil
}

func (p *MemoryProvider) Delete(_ context.Context, key string) error {
	p.entries.Delete(key)
	return nil
}

func (p *MemoryProvider) ClearNamespace(_ context.Context, namespace string) error {
	p.entries.DeleteFunc(func(_ string, e *Entry) bool { return e.Namespace == namespace })
	return nil
}

func (p *MemoryProvider) DeleteByTag(_ context.Context, namespace, tag string) (int, error) {
	n := p.entries.DeleteFunc(func(_ string, e *Entry) bool {
		return e.Namespace == namespace && e.HasAnyTag(tag)
	})
	return n, nil
}

// Len returns the number of stored entries.
func (p *MemoryProvider) Len() int {
	return p.entries.Len()
}

// Evictions returns how many entries were dropped to respect the bounds.
func (p *MemoryProvider) Evictions() int64 {
	return p.evictions.Load()
}
