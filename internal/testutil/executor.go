package testutil

import (
	"context"
	"sync"

	"github.com/roach88/hq/internal/transport"
)

// FakeExecutor is an in-memory transport that records every request.
//
// Rows and Err are returned from each Query. When Gate is non-nil each
// Query blocks until Gate is closed or the context ends.
type FakeExecutor struct {
	mu       sync.Mutex
	rows     []transport.Row
	err      error
	gate     chan struct{}
	requests []transport.Request
}

// NewFakeExecutor returns an executor answering with rows.
func NewFakeExecutor(rows ...transport.Row) *FakeExecutor {
	return &FakeExecutor{rows: rows}
}

// SetRows changes the rows returned by later queries.
func (f *FakeExecutor) SetRows(rows ...transport.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

// SetErr makes later queries fail with err. A nil err clears it.
func (f *FakeExecutor) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Block makes later queries wait until the returned release func is called.
func (f *FakeExecutor) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *FakeExecutor) Query(ctx context.Context, req transport.Request) ([]transport.Row, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]transport.Row, len(f.rows))
	for i, r := range f.rows {
		row := make(transport.Row, len(r))
		for k, v := range r {
			row[k] = v
		}
		out[i] = row
	}
	return out, nil
}

// Calls returns how many queries have been received.
func (f *FakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of the received requests.
func (f *FakeExecutor) Requests() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Request(nil), f.requests...)
}
