// SPDX-License-Identifier: Apache-2.0

// Package sqlite is the embedded single-node storage adapter.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const MemoryPath = ":memory:"

type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-process database pinned to one connection.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Adapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := MemoryPath
	if path != MemoryPath {
		dsn = "file:" + filepath.Clean(path)
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{db: db, logger: logger}
}

func (a *Adapter) Dialect() storage.Dialect {
	return storage.DialectSQLite
}

func (a *Adapter) DB() *sql.DB {
	return a.db
}

func (a *Adapter) Run(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
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
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]storage.Row, 0, 8)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(storage.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) Exec(ctx context.Context, query string) error {
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return translateError(err)
	}
	return nil
}

func (a *Adapter) Batch(ctx context.Context, stmts []storage.Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			a.logger.Debug("sqlite batch statement failed", "index", i, "error", err)
			return translateError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func translateError(err error) error {
	var sqlErr *msqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", storage.ErrDuplicateKey, err)
		}
	}
	return err
}
