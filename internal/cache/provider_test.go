package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newEntry(ns string, value string, tags ...string) *Entry {
	return &Entry{
		Namespace: ns,
		Value:     []byte(value),
		CreatedAt: t0,
		TTL:       100 * time.Millisecond,
		StaleTTL:  50 * time.Millisecond,
		CacheTime: time.Minute,
		Tags:      tags,
		RowCount:  1,
		ByteSize:  len(value),
		Status:    StatusFulfilled,
	}
}

func TestEntry_FreshnessWindows(t *testing.T) {
	e := newEntry("ns", "[]")
	testCases := []struct {
		at   time.Duration
		want Freshness
	}{
		{0, Fresh},
		{99 * time.Millisecond, Fresh},
		{100 * time.Millisecond, Stale},
		{149 * time.Millisecond, Stale},
		{150 * time.Millisecond, Expired},
		{time.Hour, Expired},
	}
	for _, tc := range testCases {
		t.Run(tc.at.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, e.FreshnessAt(t0.Add(tc.at)))
		})
	}

	pending := newEntry("ns", "[]")
	pending.Status = StatusPending
	assert.Equal(t, Expired, pending.FreshnessAt(t0))

	var missing *Entry
	assert.Equal(t, Expired, missing.FreshnessAt(t0))
}

func TestEntry_ExpiresAt(t *testing.T) {
	e := newEntry("ns", "[]")
	assert.Equal(t, t0.Add(time.Minute), e.ExpiresAt())

	e.CacheTime = time.Millisecond
	assert.Equal(t, t0.Add(150*time.Millisecond), e.ExpiresAt(), "retention never ends before the stale window")
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRU[int](2, 0, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_ByteBound(t *testing.T) {
	var evicted []string
	c := newLRU(0, 10, func(s string) int { return len(s) })
	c.onEvict = func(key string, _ string) { evicted = append(evicted, key) }

	c.Put("a", "12345")
	c.Put("b", "12345")
	assert.Equal(t, 10, c.Bytes())
	c.Put("c", "1")
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 6, c.Bytes())

	// An oversized item is kept on its own.
	c.Put("d", "12345678901")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 11, c.Bytes())

	// Replacing an item updates the byte count.
	c.Put("d", "1")
	assert.Equal(t, 1, c.Bytes())
}

func TestLRU_DeleteFunc(t *testing.T) {
	c := newLRU[int](0, 0, nil)
	for i, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, i)
	}
	n := c.DeleteFunc(func(_ string, v int) bool { return v%2 == 0 })
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Delete("b"))
	assert.False(t, c.Delete("b"))
}

// providerContract runs the behavior every tag-capable provider shares.
func providerContract(t *testing.T, p interface {
	Provider
	TagDeleter
}) {
	ctx := context.Background()

	got, err := p.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	e := newEntry("ns1", `[{"id":1}]`, "orders", "daily")
	require.NoError(t, p.Set(ctx, "k1", e))
	require.NoError(t, p.Set(ctx, "k2", newEntry("ns1", "[]", "users")))
	require.NoError(t, p.Set(ctx, "k3", newEntry("ns2", "[]", "orders")))

	got, err = p.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Value, got.Value)
	assert.Equal(t, []string{"orders", "daily"}, got.Tags)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, e.TTL, got.TTL)
	assert.Equal(t, e.StaleTTL, got.StaleTTL)
	assert.Equal(t, e.CacheTime, got.CacheTime)
	assert.Equal(t, StatusFulfilled, got.Status)
	assert.Equal(t, "ns1", got.Namespace)

	// Returned entries are copies.
	got.Value[0] = 'X'
	again, _ := p.Get(ctx, "k1")
	assert.Equal(t, e.Value, again.Value)

	// Tag deletion is scoped to the namespace.
	n, err := p.DeleteByTag(ctx, "ns1", "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = p.Get(ctx, "k1")
	assert.Nil(t, got)
	got, _ = p.Get(ctx, "k3")
	assert.NotNil(t, got)

	// Overwrite replaces tags.
	require.NoError(t, p.Set(ctx, "k2", newEntry("ns1", "[1]", "accounts")))
	n, err = p.DeleteByTag(ctx, "ns1", "users")
	require.NoError(t, err)
	assert.Zero(t, n)
	got, _ = p.Get(ctx, "k2")
	require.NotNil(t, got)
	assert.Equal(t, []string{"accounts"}, got.Tags)

	require.NoError(t, p.Delete(ctx, "k2"))
	got, _ = p.Get(ctx, "k2")
	assert.Nil(t, got)

	require.NoError(t, p.ClearNamespace(ctx, "ns2"))
	got, _ = p.Get(ctx, "k3")
	assert.Nil(t, got)
}

func TestMemoryProvider(t *testing.T) {
	providerContract(t, NewMemoryProvider())
}

func TestMemoryProvider_Bounds(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(WithMaxEntries(2))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Set(ctx, k, newEntry("ns", "[]")))
	}
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, int64(1), p.Evictions())
	got, _ := p.Get(ctx, "a")
	assert.Nil(t, got)

	p = NewMemoryProvider(WithMaxEntries(0), WithMaxBytes(8))
	require.NoError(t, p.Set(ctx, "a", newEntry("ns", "12345")))
	require.NoError(t, p.Set(ctx, "b", newEntry("ns", "12345")))
	assert.Equal(t, 1, p.Len())
}

func TestNoopProvider(t *testing.T) {
	ctx := context.Background()
	var p NoopProvider
	require.NoError(t, p.Set(ctx, "k", newEntry("ns", "[]")))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func openTestSQLite(t *testing.T) (*SQLiteProvider, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	p, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, path
}

func TestSQLiteProvider(t *testing.T) {
	p, _ := openTestSQLite(t)
	providerContract(t, p)
}

func TestSQLiteProvider_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	p, path := openTestSQLite(t)
	require.NoError(t, p.Set(ctx, "k", newEntry("ns", `[{"n":1}]`, "t")))
	require.NoError(t, p.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `[{"n":1}]`, string(got.Value))
	assert.Equal(t, []string{"t"}, got.Tags)
}

func TestSQLiteProvider_SweepAndSummary(t *testing.T) {
	ctx := context.Background()
	p, _ := openTestSQLite(t)

	short := newEntry("a", "[1,2]")
	short.CacheTime = 0
	require.NoError(t, p.Set(ctx, "short", short))
	require.NoError(t, p.Set(ctx, "long", newEntry("a", "[1]")))
	require.NoError(t, p.Set(ctx, "other", newEntry("b", "[]")))

	summary, err := p.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, NamespaceSummary{Namespace: "a", Entries: 2, Bytes: 8, Rows: 2}, summary[0])
	assert.Equal(t, "b", summary[1].Namespace)

	n, err := p.Sweep(ctx, t0.Add(150*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := p.Get(ctx, "short")
	assert.Nil(t, got)
	got, _ = p.Get(ctx, "long")
	assert.NotNil(t, got)
}
