// SPDX-License-Identifier: Apache-2.0

// Package postgres is the managed/distributed storage adapter backed by a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	// keep conservative defaults for now
	cfg.MaxConns = 5
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type Adapter struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Adapter, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return New(pool, logger), nil
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{pool: pool, logger: logger}
}

func (a *Adapter) Dialect() storage.Dialect {
	return storage.DialectPostgres
}

func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

func (a *Adapter) Run(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := a.pool.Exec(ctx, storage.RebindDollar(query), args...)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Get(ctx context.Context, query string, args ...any) (storage.Row, bool, error) {
	rows, err := a.All(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (a *Adapter) All(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	rows, err := a.pool.Query(ctx, storage.RebindDollar(query), args...)
	if err != nil {
		return nil, err
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	out := make([]storage.Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, storage.Row(m))
	}
	return out, nil
}

func (a *Adapter) Exec(ctx context.Context, query string) error {
	if _, err := a.pool.Exec(ctx, query, pgx.QueryExecModeSimpleProtocol); err != nil {
		return translateError(err)
	}
	return nil
}

func (a *Adapter) Batch(ctx context.Context, stmts []storage.Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, stmt := range stmts {
			batch.Queue(storage.RebindDollar(stmt.SQL), stmt.Args...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range stmts {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				a.logger.Debug("postgres batch statement failed", "index", i, "error", err)
				return translateError(err)
			}
		}
		return results.Close()
	})
}

func (a *Adapter) Close() error {
	if a == nil || a.pool == nil {
		return nil
	}
	a.pool.Close()
	return nil
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, err)
	}
	return err
}
