// Package pgdb implements reviewcache.Tables against the hosted Postgres
// schema using pgx and squirrel.
package pgdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

// Querier is the part of *pgxpool.Pool used by DB.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB is a reviewcache.Tables backed by Postgres.
type DB struct {
	q      Querier
	logger *slog.Logger
}

var _ reviewcache.Tables = (*DB)(nil)

// New wraps q. A nil logger discards output.
func New(q Querier, logger *slog.Logger) (*DB, error) {
	if q == nil {
		return nil, caches.ValidationError{Reason: "nil querier"}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DB{q: q, logger: logger}, nil
}

// Connect opens a pgx pool for dsn and wraps it. The returned pool must be
// closed by the caller.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	db, err := New(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return db, pool, nil
}

func qb() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (d *DB) build(op string, b sq.Sqlizer) (string, []any, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	d.logger.Debug("query", "op", op, "sql", sqlStr, "args", len(args))
	return sqlStr, args, nil
}

func (d *DB) queryRow(ctx context.Context, op string, b sq.Sqlizer) (pgx.Row, error) {
	sqlStr, args, err := d.build(op, b)
	if err != nil {
		return nil, err
	}
	return d.q.QueryRow(ctx, sqlStr, args...), nil
}

func (d *DB) exec(ctx context.Context, op string, b sq.Sqlizer) (pgconn.CommandTag, error) {
	sqlStr, args, err := d.build(op, b)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := d.q.Exec(ctx, sqlStr, args...)
	if err != nil {
		return tag, fmt.Errorf("%s: %w", op, err)
	}
	d.logger.Debug("exec done", "op", op, "rows", tag.RowsAffected(), "elapsed", time.Since(start))
	return tag, nil
}

func collect[T any](ctx context.Context, d *DB, op string, b sq.Sqlizer, scan func(pgx.Row) (T, error)) ([]T, error) {
	sqlStr, args, err := d.build(op, b)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := d.q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (T, error) { return scan(r) })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d.logger.Debug("query done", "op", op, "rows", len(out), "elapsed", time.Since(start))
	return out, nil
}

func one[T any](ctx context.Context, d *DB, op string, b sq.Sqlizer, scan func(pgx.Row) (T, error)) (*T, error) {
	row, err := d.queryRow(ctx, op, b)
	if err != nil {
		return nil, err
	}
	v, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, reviewcache.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &v, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
