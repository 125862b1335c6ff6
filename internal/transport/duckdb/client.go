// Package duckdb implements the transport interfaces over DuckDB through
// database/sql.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/roach88/hq/internal/querysql"
	"github.com/roach88/hq/internal/transport"
)

// DefaultBatchSize is the number of rows per streamed batch.
const DefaultBatchSize = 1000

var settingName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Client sends queries to a DuckDB database.
type Client struct {
	db        *sql.DB
	owned     bool
	batchSize int
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBatchSize sets the streamed batch size.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the logger used for query tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Open opens a DuckDB database. An empty dsn opens an in-memory database.
func Open(dsn string, opts ...Option) (*Client, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	c := New(db, opts...)
	c.owned = true
	return c, nil
}

// New wraps an existing *sql.DB. Close does not close a wrapped db.
func New(db *sql.DB, opts ...Option) *Client {
	c := &Client{db: db, batchSize: DefaultBatchSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the database if it was opened by Open.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

// Query runs req and returns every row.
func (c *Client) Query(ctx context.Context, req transport.Request) ([]transport.Row, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return transport.ReadAll(ctx, s)
}

// Stream runs req and returns its rows in batches. Settings are applied to
// a dedicated connection and reset when the stream is closed.
func (c *Client) Stream(ctx context.Context, req transport.Request) (transport.RowStream, error) {
	c.logger.Debug("duckdb query", "query_id", req.QueryID, "sql", req.SQL, "params", len(req.Parameters))

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := applySettings(ctx, conn, req.Settings)
	if err != nil {
		resetSettings(conn, applied)
		_ = conn.Close()
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, req.SQL, req.Parameters...)
	if err != nil {
		resetSettings(conn, applied)
		_ = conn.Close()
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		resetSettings(conn, applied)
		_ = conn.Close()
		return nil, err
	}

	return &rowStream{
		conn:      conn,
		rows:      rows,
		cols:      cols,
		settings:  applied,
		batchSize: c.batchSize,
	}, nil
}

func applySettings(ctx context.Context, conn *sql.Conn, settings map[string]any) ([]string, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := make([]string, 0, len(names))
	for _, name := range names {
		if !settingName.MatchString(name) {
			return applied, fmt.Errorf("invalid setting name %q", name)
		}
		stmt := "SET " + name + " = " + querysql.FormatLiteral(settings[name])
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return applied, fmt.Errorf("failed to apply setting %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// resetSettings restores defaults before the connection returns to the pool.
func resetSettings(conn *sql.Conn, names []string) {
	for _, name := range names {
		if _, err := conn.ExecContext(context.Background(), "RESET "+name); err != nil {
			slog.Warn("failed to reset duckdb setting", "setting", name, "error", err)
		}
	}
}

type rowStream struct {
	conn      *sql.Conn
	rows      *sql.Rows
	cols      []string
	settings  []string
	batchSize int
	closed    bool
}

func (s *rowStream) Next(ctx context.Context) ([]transport.Row, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := make([]transport.Row, 0, s.batchSize)
	for len(batch) < s.batchSize && s.rows.Next() {
		values := make([]any, len(s.cols))
		ptrs := make([]any, len(s.cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(transport.Row, len(s.cols))
		for i, col := range s.cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[col] = values[i]
		}
		batch = append(batch, row)
	}
	if err := s.rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *rowStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.rows.Close()
	resetSettings(s.conn, s.settings)
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
