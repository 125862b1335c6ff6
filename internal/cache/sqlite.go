package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - cache_entries and cache_tags
const currentSchemaVersion = 1

var entryColumns = []string{
	"namespace", "value", "created_at", "ttl_ms", "stale_ttl_ms", "cache_time_ms",
	"row_count", "byte_size", "status",
}

// SQLiteProvider persists entries in a SQLite database so a cache survives
// process restarts and can be inspected from the CLI. It supports tag
// deletion.
type SQLiteProvider struct {
	db *sql.DB
}

// OpenSQLite creates or opens a cache database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement, so tag rows follow their entry
func OpenSQLite(path string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteProvider{db: db}, nil
}

// Close closes the database.
func (p *SQLiteProvider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("cache database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) Get(ctx context.Context, key string) (*Entry, error) {
	query, args, err := sq.Select(entryColumns...).
		From("cache_entries").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		e                           Entry
		createdAt                   int64
		ttlMs, staleTTLMs, cacheTMs int64
		status                      string
	)
	err = p.db.QueryRowContext(ctx, query, args...).Scan(
		&e.Namespace, &e.Value, &createdAt, &ttlMs, &staleTTLMs, &cacheTMs,
		&e.RowCount, &e.ByteSize, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.TTL = time.Duration(ttlMs) * time.Millisecond
	e.StaleTTL = time.Duration(staleTTLMs) * time.Millisecond
	e.CacheTime = time.Duration(cacheTMs) * time.Millisecond
	e.Status = Status(status)

	tags, err := p.tags(ctx, key)
	if err != nil {
		return nil, err
	}
	e.Tags = tags
	return &e, nil
}

func (p *SQLiteProvider) tags(ctx context.Context, key string) ([]string, error) {
	query, args, err := sq.Select("tag").
		From("cache_tags").
		Where(sq.Eq{"key": key}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get cache tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan cache tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (p *SQLiteProvider) Set(ctx context.Context, key string, e *Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	value := e.Value
	if value == nil {
		value = []byte{}
	}

	if err := execBuilder(ctx, tx, sq.Delete("cache_tags").Where(sq.Eq{"key": key})); err != nil {
		return err
	}

	insert := sq.Insert("cache_entries").
		Options("OR REPLACE").
		Columns(append([]string{"key", "expires_at"}, entryColumns...)...).
		Values(
			key, e.ExpiresAt().UnixNano(),
			e.Namespace, value, e.CreatedAt.UnixNano(),
			e.TTL.Milliseconds(), e.StaleTTL.Milliseconds(), e.CacheTime.Milliseconds(),
			e.RowCount, e.ByteSize, string(e.Status),
		)
	if err := execBuilder(ctx, tx, insert); err != nil {
		return err
	}

	if len(e.Tags) > 0 {
		tags := sq.Insert("cache_tags").
			Options("OR IGNORE").
			Columns("key", "namespace", "tag", "position")
		for i, tag := range e.Tags {
			tags = tags.Values(key, e.Namespace, tag, i)
		}
		if err := execBuilder(ctx, tx, tags); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) Delete(ctx context.Context, key string) error {
	return execBuilder(ctx, p.db, sq.Delete("cache_entries").Where(sq.Eq{"key": key}))
}

func (p *SQLiteProvider) ClearNamespace(ctx context.Context, namespace string) error {
	return execBuilder(ctx, p.db, sq.Delete("cache_entries").Where(sq.Eq{"namespace": namespace}))
}

func (p *SQLiteProvider) DeleteByTag(ctx context.Context, namespace, tag string) (int, error) {
	query, args, err := sq.Delete("cache_entries").
		Where(sq.Expr("key IN (SELECT key FROM cache_tags WHERE namespace = ? AND tag = ?)", namespace, tag)).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete by tag: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Sweep deletes entries whose retention ended at or before now.
func (p *SQLiteProvider) Sweep(ctx context.Context, now time.Time) (int, error) {
	query, args, err := sq.Delete("cache_entries").
		Where(sq.LtOrEq{"expires_at": now.UnixNano()}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// NamespaceSummary aggregates the stored entries of one namespace.
type NamespaceSummary struct {
	Namespace string `json:"namespace"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Rows      int64  `json:"rows"`
}

// Summary returns per-namespace totals ordered by namespace.
func (p *SQLiteProvider) Summary(ctx context.Context) ([]NamespaceSummary, error) {
	query, args, err := sq.Select("namespace", "COUNT(*)", "COALESCE(SUM(byte_size), 0)", "COALESCE(SUM(row_count), 0)").
		From("cache_entries").
		GroupBy("namespace").
		OrderBy("namespace").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var out []NamespaceSummary
	for rows.Next() {
		var s NamespaceSummary
		if err := rows.Scan(&s.Namespace, &s.Entries, &s.Bytes, &s.Rows); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execBuilder(ctx context.Context, db execer, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec %q: %w", query, err)
	}
	return nil
}
