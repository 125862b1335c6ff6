package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/hq/internal/cache"
	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/rawquery"
	"github.com/roach88/hq/internal/relations"
	"github.com/roach88/hq/internal/schema"
	"github.com/roach88/hq/internal/transport"
)

// ErrNoExecutor is returned when a query is executed on a Factory without
// a transport.
var ErrNoExecutor = errors.New("builder: no executor configured")

// ErrNoCache is returned by Builder.Key on a Factory without a cache.
var ErrNoCache = errors.New("builder: no cache configured")

// DefaultStreamBatchSize is the batch size used when the executor cannot
// stream and rows are replayed from memory.
const DefaultStreamBatchSize = 1000

// QueryIDGenerator produces query IDs attached to each execution.
type QueryIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 query IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Factory holds the collaborators shared by every builder it creates.
// It is safe for concurrent use once constructed.
type Factory struct {
	schema    *schema.Schema
	relations *relations.Registry
	executor  transport.Executor
	cache     *cache.Controller
	ids       QueryIDGenerator
	logger    *slog.Logger
	batchSize int
}

// Option configures a Factory.
type Option func(*Factory)

// WithSchema enables table, column and value validation.
func WithSchema(s *schema.Schema) Option {
	return func(f *Factory) { f.schema = s }
}

// WithRelations sets the registry used by Builder.WithRelation.
func WithRelations(r *relations.Registry) Option {
	return func(f *Factory) { f.relations = r }
}

// WithExecutor sets the transport used by Execute, Stream and RawQuery.
func WithExecutor(e transport.Executor) Option {
	return func(f *Factory) { f.executor = e }
}

// WithCache routes Execute through a cache controller.
func WithCache(c *cache.Controller) Option {
	return func(f *Factory) { f.cache = c }
}

// WithQueryIDs overrides the query ID generator.
func WithQueryIDs(g QueryIDGenerator) Option {
	return func(f *Factory) { f.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithStreamBatchSize sets the batch size of in-memory streams.
func WithStreamBatchSize(n int) Option {
	return func(f *Factory) { f.batchSize = n }
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
		batchSize: DefaultStreamBatchSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Schema returns the attached schema, or nil.
func (f *Factory) Schema() *schema.Schema { return f.schema }

// Relations returns the attached relationship registry, or nil.
func (f *Factory) Relations() *relations.Registry { return f.relations }

// Cache returns the attached cache controller, or nil.
func (f *Factory) Cache() *cache.Controller { return f.cache }

// Table starts a query against table. With a schema attached an
// undeclared table yields a builder carrying an UNKNOWN_TABLE error.
func (f *Factory) Table(table string) Builder {
	b := Builder{f: f, state: queryir.NewState(table)}
	if table == "" {
		b.err = queryir.NewConstructionError(queryir.ErrCodeUnknownTable, "table name is empty")
	} else if f.schema != nil && !f.schema.HasTable(table) {
		b.err = &queryir.ConstructionError{
			Code:    queryir.ErrCodeUnknownTable,
			Message: "table is not declared in the schema",
			Table:   table,
		}
	}
	return b
}

// RawQuery substitutes :name parameters into sql, runs it and coerces the
// hinted result columns. Raw queries bypass the cache.
func (f *Factory) RawQuery(ctx context.Context, sql string, params map[string]any, hints map[string]rawquery.Hint) ([]transport.Row, error) {
	if f.executor == nil {
		return nil, ErrNoExecutor
	}
	substituted, err := rawquery.Substitute(sql, params)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	req := transport.Request{SQL: substituted, QueryID: f.ids.Generate()}
	f.logger.Debug("executing raw query", "query_id", req.QueryID)

	rows, err := f.executor.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(hints) == 0 {
		return rows, nil
	}
	return rawquery.CoerceRows(rows, hints), nil
}
