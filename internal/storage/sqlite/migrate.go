// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	embeddedmigrations "github.com/Data-Downs/agentic-legibility-stack-sub000/migrations"
)

// EnsureSchema applies every embedded SQLite migration not yet recorded in
// schema_migrations.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	started := time.Now()

	if _, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	report, err := embeddedmigrations.Run(ctx, "sqlite", migrator{db: a.db})
	for _, name := range report.Applied {
		a.logger.Info("migration applied", "file", name, "backend", "sqlite")
	}
	if err != nil {
		return err
	}

	a.logger.Info("schema bootstrap complete",
		"backend", "sqlite",
		"applied", len(report.Applied),
		"skipped", report.Skipped,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return a.SchemaReady(ctx)
}

type migrator struct {
	db *sql.DB
}

func (m migrator) Applied(ctx context.Context) ([]string, error) {
	return queryNames(ctx, m.db, `SELECT filename FROM schema_migrations`)
}

func (m migrator) Apply(ctx context.Context, f embeddedmigrations.File) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
		f.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaReady reports missing ledger tables.
func (a *Adapter) SchemaReady(ctx context.Context) error {
	present, err := queryNames(ctx, a.db, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if missing := embeddedmigrations.Missing(embeddedmigrations.RequiredTables, present); len(missing) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Check satisfies the HTTP readiness probe.
func (a *Adapter) Check(ctx context.Context) error {
	return a.SchemaReady(ctx)
}

func queryNames(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
