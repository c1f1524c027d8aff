// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	embeddedmigrations "github.com/Data-Downs/agentic-legibility-stack-sub000/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaMigrationLockID int64 = 0x4c45444745525f4d // "LEDGER_M"

// Columns added after a table's first migration; their absence means a
// half-applied schema.
var requiredColumns = []string{
	"events.seq",
	"events.session_id",
	"cases.review_priority",
}

// EnsureSchema applies pending embedded migrations on one connection holding
// an advisory lock, so concurrent instances bootstrap one at a time.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	if a.pool == nil {
		return errors.New("nil database pool")
	}
	started := time.Now()

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection for schema bootstrap: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, schemaMigrationLockID); err != nil {
		return fmt.Errorf("acquire schema bootstrap lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, schemaMigrationLockID); err != nil {
			a.logger.Error("schema bootstrap unlock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	report, err := embeddedmigrations.Run(ctx, "postgres", migrator{conn: conn})
	for _, name := range report.Applied {
		a.logger.Info("migration applied", "file", name, "backend", "postgres")
	}
	if err != nil {
		return err
	}

	a.logger.Info("schema bootstrap complete",
		"backend", "postgres",
		"applied", len(report.Applied),
		"skipped", report.Skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return SchemaReady(ctx, a.pool)
}

type migrator struct {
	conn *pgxpool.Conn
}

func (m migrator) Applied(ctx context.Context) ([]string, error) {
	rows, err := m.conn.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Apply runs the file with the simple protocol so multi-statement files work.
func (m migrator) Apply(ctx context.Context, f embeddedmigrations.File) error {
	return pgx.BeginFunc(ctx, m.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, f.Name)
		return err
	})
}

// Check satisfies the HTTP readiness probe.
func (a *Adapter) Check(ctx context.Context) error {
	return SchemaReady(ctx, a.pool)
}

// SchemaReady reports missing ledger tables, then missing late-added columns.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	tables, err := names(ctx, pool, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema()
	`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if missing := embeddedmigrations.Missing(embeddedmigrations.RequiredTables, tables); len(missing) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missing, ", "))
	}

	columns, err := names(ctx, pool, `
		SELECT table_name || '.' || column_name FROM information_schema.columns
		WHERE table_schema = current_schema()
	`)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	if missing := embeddedmigrations.Missing(requiredColumns, columns); len(missing) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func names(ctx context.Context, pool *pgxpool.Pool, query string) ([]string, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
