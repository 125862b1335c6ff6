package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hq/internal/testutil"
	"github.com/roach88/hq/internal/transport"
)

type harness struct {
	clock    *testutil.ManualClock
	exec     *testutil.FakeExecutor
	provider *MemoryProvider
	ctrl     *Controller
	logs     *bytes.Buffer
}

func newHarness(t *testing.T, opts ...ControllerOption) *harness {
	t.Helper()
	h := &harness{
		clock:    testutil.NewManualClock(time.Time{}),
		exec:     testutil.NewFakeExecutor(transport.Row{"n": 1}),
		provider: NewMemoryProvider(),
		logs:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []ControllerOption{
		WithClock(h.clock),
		WithLogger(logger),
		WithNamespace("test"),
		WithDefaults(Options{TTL: 100 * time.Millisecond, StaleTTL: 50 * time.Millisecond}),
	}
	h.ctrl = NewController(h.provider, append(base, opts...)...)
	return h
}

func (h *harness) fetcher(sql string) Fetcher {
	return func(ctx context.Context) ([]transport.Row, error) {
		return h.exec.Query(ctx, transport.Request{SQL: sql})
	}
}

func (h *harness) fetch(t *testing.T, key string, opts Options) []transport.Row {
	t.Helper()
	rows, err := h.ctrl.Fetch(context.Background(), key, opts, h.fetcher("SELECT 1"))
	require.NoError(t, err)
	return rows
}

func TestController_FreshStaleMissWindows(t *testing.T) {
	h := newHarness(t)

	h.fetch(t, "k", Options{})
	assert.Equal(t, 1, h.exec.Calls())

	h.clock.Advance(99 * time.Millisecond)
	h.fetch(t, "k", Options{})
	assert.Equal(t, 1, h.exec.Calls(), "fresh read must not fetch")

	release := h.exec.Block()
	h.clock.Advance(1 * time.Millisecond) // t=100ms
	rows := h.fetch(t, "k", Options{})
	assert.Equal(t, []transport.Row{{"n": json.Number("1")}}, rows, "stale value is served immediately")

	h.clock.Advance(49 * time.Millisecond) // t=149ms
	h.fetch(t, "k", Options{})

	stats := h.ctrl.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.StaleHits)
	assert.Equal(t, int64(1), stats.Revalidations, "one revalidation per stale key")

	release()
	h.ctrl.Wait()
	assert.Equal(t, 2, h.exec.Calls())
}

func TestController_MissAfterStaleWindow(t *testing.T) {
	h := newHarness(t)

	h.fetch(t, "k", Options{})
	h.clock.Advance(150 * time.Millisecond)
	h.fetch(t, "k", Options{})

	stats := h.ctrl.Stats()
	assert.Equal(t, int64(2), stats.Misses)
	assert.Zero(t, stats.StaleHits)
	assert.Zero(t, stats.Revalidations)
	assert.Equal(t, 2, h.exec.Calls())
}

func TestController_RevalidationRefreshesEntry(t *testing.T) {
	h := newHarness(t)
	h.fetch(t, "k", Options{})

	h.exec.SetRows(transport.Row{"n": 2})
	h.clock.Advance(120 * time.Millisecond)
	rows := h.fetch(t, "k", Options{})
	assert.Equal(t, json.Number("1"), rows[0]["n"])
	h.ctrl.Wait()

	rows = h.fetch(t, "k", Options{})
	assert.Equal(t, json.Number("2"), rows[0]["n"])
	stats := h.ctrl.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.StaleHits)
}

func TestController_ConcurrentMissesFetchOnce(t *testing.T) {
	h := newHarness(t)
	release := h.exec.Block()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := h.ctrl.Fetch(context.Background(), "k", Options{}, h.fetcher("SELECT 1"))
			assert.NoError(t, err)
			assert.Len(t, rows, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, h.exec.Calls())
}

func TestController_FailedFetchStoresNothing(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection reset")
	h.exec.SetErr(boom)

	_, err := h.ctrl.Fetch(context.Background(), "k", Options{}, h.fetcher("SELECT 1"))
	assert.ErrorIs(t, err, boom)

	got, err := h.provider.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestController_StaleIfErrorIsOptIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetch(t, "k", Options{})

	h.clock.Advance(time.Second)
	boom := errors.New("timeout")
	h.exec.SetErr(boom)

	_, err := h.ctrl.Fetch(ctx, "k", Options{}, h.fetcher("SELECT 1"))
	assert.ErrorIs(t, err, boom)

	rows, err := h.ctrl.Fetch(ctx, "k", Options{StaleIfError: true}, h.fetcher("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, []transport.Row{{"n": json.Number("1")}}, rows, "served from the provider copy")
	assert.Contains(t, h.logs.String(), "serving cached entry after fetch error")

	// Past the retention time there is nothing to fall back on.
	h.clock.Advance(10 * time.Minute)
	_, err = h.ctrl.Fetch(ctx, "k", Options{StaleIfError: true}, h.fetcher("SELECT 1"))
	assert.ErrorIs(t, err, boom)
}

func TestController_Modes(t *testing.T) {
	t.Run("network-first always fetches", func(t *testing.T) {
		h := newHarness(t)
		h.fetch(t, "k", Options{Mode: NetworkFirst})
		h.fetch(t, "k", Options{Mode: NetworkFirst})
		assert.Equal(t, 2, h.exec.Calls())
		assert.Equal(t, int64(2), h.ctrl.Stats().Misses)

		h.fetch(t, "k", Options{})
		assert.Equal(t, int64(1), h.ctrl.Stats().Hits, "network-first still stores")
	})

	t.Run("no-store bypasses the cache", func(t *testing.T) {
		h := newHarness(t)
		h.fetch(t, "k", Options{Mode: NoStore})
		assert.Zero(t, h.provider.Len())
		assert.Equal(t, Stats{}, h.ctrl.Stats())
	})
}

func TestController_NoopProviderAlwaysMisses(t *testing.T) {
	for name, p := range map[string]Provider{"noop": NoopProvider{}, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctrl := NewController(p, WithClock(h.clock))

			for range 3 {
				rows, err := ctrl.Fetch(context.Background(), "k", Options{}, h.fetcher("SELECT 1"))
				require.NoError(t, err)
				assert.Len(t, rows, 1)
			}

			assert.Equal(t, 3, h.exec.Calls())
			stats := ctrl.Stats()
			assert.Equal(t, int64(3), stats.Misses)
			assert.Zero(t, stats.Hits)
			assert.Zero(t, stats.StaleHits)
			assert.Zero(t, ctrl.local.Len())
		})
	}
}

func TestController_RowsKeepOneRepresentation(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithLocalEntries(1))
	h.exec.SetRows(transport.Row{"id": int64(7), "ratio": 0.5, "at": created, "name": "x", "gone": nil})

	want := transport.Row{
		"id":    json.Number("7"),
		"ratio": json.Number("0.5"),
		"at":    "2024-03-01T12:00:00Z",
		"name":  "x",
		"gone":  nil,
	}

	live := h.fetch(t, "a", Options{})
	localHit := h.fetch(t, "a", Options{})
	h.fetch(t, "b", Options{}) // evicts "a" from the local cache
	providerHit := h.fetch(t, "a", Options{})

	assert.Equal(t, 2, h.exec.Calls())
	assert.Equal(t, int64(2), h.ctrl.Stats().Hits)
	for name, rows := range map[string][]transport.Row{"live": live, "local hit": localHit, "provider hit": providerHit} {
		require.Len(t, rows, 1, name)
		assert.Equal(t, want, rows[0], name)
	}
}

func TestController_NoStoreReturnsRowsUnchanged(t *testing.T) {
	h := newHarness(t)
	h.exec.SetRows(transport.Row{"id": int64(7)})

	rows := h.fetch(t, "k", Options{Mode: NoStore})
	assert.Equal(t, []transport.Row{{"id": int64(7)}}, rows)
}

func TestController_ProviderErrorsAreNotFatal(t *testing.T) {
	h := newHarness(t)
	ctrl := NewController(failingProvider{}, WithLogger(slog.New(slog.NewTextHandler(h.logs, nil))))

	rows, err := ctrl.Fetch(context.Background(), "k", Options{}, h.fetcher("SELECT 1"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Contains(t, h.logs.String(), "cache provider read failed")
	assert.Contains(t, h.logs.String(), "cache provider write failed")
}

func TestController_InvalidateKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetch(t, "k", Options{})

	require.NoError(t, h.ctrl.InvalidateKey(ctx, "k"))
	got, _ := h.provider.Get(ctx, "k")
	assert.Nil(t, got)

	h.fetch(t, "k", Options{})
	assert.Equal(t, 2, h.exec.Calls())
}

func TestController_InvalidateTags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetch(t, "orders", Options{Tags: []string{"orders"}})
	h.fetch(t, "users", Options{Tags: []string{"users"}})

	require.NoError(t, h.ctrl.InvalidateTags(ctx, "orders"))

	got, _ := h.provider.Get(ctx, "orders")
	assert.Nil(t, got)
	got, _ = h.provider.Get(ctx, "users")
	assert.NotNil(t, got)
	assert.Equal(t, 1, h.ctrl.local.Len())
}

// plainProvider hides the TagDeleter of the wrapped provider.
type plainProvider struct{ Provider }

func TestController_InvalidateTagsWithoutProviderSupport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inner := NewMemoryProvider()
	ctrl := NewController(plainProvider{inner},
		WithClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(h.logs, nil))),
	)

	for _, tag := range []string{"orders", "users"} {
		_, err := ctrl.Fetch(ctx, tag, Options{Tags: []string{tag}}, h.fetcher("SELECT 1"))
		require.NoError(t, err)
	}

	err := ctrl.InvalidateTags(ctx, "orders")
	require.NoError(t, err)
	assert.Contains(t, h.logs.String(), "does not support tag invalidation")

	_, localOrders := ctrl.local.Get("orders")
	_, localUsers := ctrl.local.Get("users")
	assert.False(t, localOrders, "local entries with the tag are purged")
	assert.True(t, localUsers)

	got, _ := inner.Get(ctx, "orders")
	assert.NotNil(t, got, "persisted entries remain")
}

func TestController_Clear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetch(t, "a", Options{})
	h.fetch(t, "b", Options{})
	require.NoError(t, h.provider.Set(ctx, "foreign", newEntry("other", "[]")))

	require.NoError(t, h.ctrl.Clear(ctx))
	assert.Equal(t, 1, h.provider.Len(), "other namespaces are untouched")
	assert.Zero(t, h.ctrl.local.Len())
}

func TestController_Warm(t *testing.T) {
	h := newHarness(t, WithWarmConcurrency(2))
	ctx := context.Background()

	var queries []WarmQuery
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		queries = append(queries, func(ctx context.Context) error {
			_, err := h.ctrl.Fetch(ctx, key, Options{}, h.fetcher("SELECT "+key))
			return err
		})
	}
	require.NoError(t, h.ctrl.Warm(ctx, queries...))
	assert.Equal(t, 3, h.provider.Len())

	boom := errors.New("boom")
	err := h.ctrl.Warm(ctx, func(context.Context) error { return nil }, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestController_StatsHitRate(t *testing.T) {
	h := newHarness(t)
	assert.Zero(t, h.ctrl.Stats().HitRate)

	h.fetch(t, "k", Options{})
	h.fetch(t, "k", Options{})
	h.fetch(t, "k", Options{})
	h.clock.Advance(120 * time.Millisecond)
	h.fetch(t, "k", Options{})
	h.ctrl.Wait()

	stats := h.ctrl.Stats()
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestController_Key(t *testing.T) {
	h := newHarness(t, WithVersion("v3"))
	key, err := h.ctrl.Key("events", "SELECT ?", []any{1}, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^hq:v3:test:events:[0-9a-f]{16}$`, key)
	assert.Equal(t, "test", h.ctrl.Namespace())
	assert.Equal(t, "v3", h.ctrl.Version())
}

type failingProvider struct{}

var errProvider = errors.New("provider unavailable")

func (failingProvider) Get(context.Context, string) (*Entry, error)  { return nil, errProvider }
func (failingProvider) Set(context.Context, string, *Entry) error    { return errProvider }
func (failingProvider) Delete(context.Context, string) error         { return errProvider }
func (failingProvider) ClearNamespace(context.Context, string) error { return errProvider }
