package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hq/internal/transport"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	assert.Equal(t, Epoch, NewManualClock(time.Time{}).Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Advance(100*time.Millisecond))
	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Now())

	later := Epoch.Add(time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestManualClock_ConcurrentAccess(t *testing.T) {
	clock := NewManualClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(100*time.Millisecond), clock.Now())
}

func TestFixedQueryID(t *testing.T) {
	assert.Equal(t, "q-1", NewFixedQueryID("q-1").Generate())
	assert.Equal(t, "test-query-default", NewFixedQueryID("").Generate())
}

func TestFakeExecutor(t *testing.T) {
	ctx := context.Background()
	f := NewFakeExecutor(transport.Row{"id": 1})

	rows, err := f.Query(ctx, transport.Request{SQL: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, []transport.Row{{"id": 1}}, rows)

	rows[0]["id"] = 99
	rows, err = f.Query(ctx, transport.Request{SQL: "SELECT 2"})
	require.NoError(t, err)
	assert.Equal(t, 1, rows[0]["id"], "returned rows are copies")

	boom := errors.New("boom")
	f.SetErr(boom)
	_, err = f.Query(ctx, transport.Request{})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, "SELECT 2", f.Requests()[1].SQL)
}

func TestFakeExecutor_Block(t *testing.T) {
	f := NewFakeExecutor(transport.Row{"id": 1})
	release := f.Block()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.Query(context.Background(), transport.Request{})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("query returned before release")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	f.Block()
	cancel()
	_, err := f.Query(ctx, transport.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
