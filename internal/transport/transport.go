// Package transport defines the boundary between the query layer and the
// database client that actually sends SQL.
//
// The query builder and cache controller depend only on these interfaces;
// transport/duckdb is the bundled implementation.
package transport

import (
	"context"
	"io"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Request is a single statement to execute.
type Request struct {
	// SQL uses ? placeholders, one per element of Parameters.
	SQL        string
	Parameters []any

	// Settings are engine settings scoped to this request.
	Settings map[string]any

	// QueryID identifies the execution in logs and server-side query logs.
	QueryID string
}

// Executor runs a request and returns all rows.
type Executor interface {
	Query(ctx context.Context, req Request) ([]Row, error)
}

// Streamer runs a request and returns its rows in batches.
type Streamer interface {
	Stream(ctx context.Context, req Request) (RowStream, error)
}

// RowStream yields row batches. Next returns io.EOF after the last batch.
// Close must be called even after io.EOF.
type RowStream interface {
	Next(ctx context.Context) ([]Row, error)
	Close() error
}

// ReadAll drains a stream into a single slice and closes it.
func ReadAll(ctx context.Context, s RowStream) ([]Row, error) {
	defer s.Close()
	var rows []Row
	for {
		batch, err := s.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
}

// SliceStream is a RowStream over rows already in memory, used when an
// Executor does not implement Streamer.
type SliceStream struct {
	rows      []Row
	batchSize int
}

// NewSliceStream returns a stream yielding rows in batches of batchSize.
func NewSliceStream(rows []Row, batchSize int) *SliceStream {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	return &SliceStream{rows: rows, batchSize: batchSize}
}

func (s *SliceStream) Next(ctx context.Context) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	n := min(s.batchSize, len(s.rows))
	batch := s.rows[:n]
	s.rows = s.rows[n:]
	return batch, nil
}

func (s *SliceStream) Close() error {
	s.rows = nil
	return nil
}
