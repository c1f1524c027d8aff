// SPDX-License-Identifier: Apache-2.0

// Package storage defines the backend-neutral SQL contract the ledger is
// written against. Statements use "?" placeholders; adapters translate them
// to their driver's native form.
package storage

import (
	"context"
	"errors"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ErrDuplicateKey is returned by adapters when a write violates a primary key
// or unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// Statement is one write in an atomic batch.
type Statement struct {
	SQL  string
	Args []any
}

func Stmt(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args}
}

// Adapter is implemented by every SQL backend. All methods are safe for
// concurrent use.
type Adapter interface {
	// Run executes a write and returns the number of affected rows.
	Run(ctx context.Context, query string, args ...any) (int64, error)
	// Get returns the first row of the result, or ok=false when there is none.
	Get(ctx context.Context, query string, args ...any) (row Row, ok bool, err error)
	// All returns every row of the result.
	All(ctx context.Context, query string, args ...any) ([]Row, error)
	// Exec runs raw DDL or maintenance SQL without arguments.
	Exec(ctx context.Context, query string) error
	// Batch applies all statements in one transaction. Either all of them
	// take effect or none do.
	Batch(ctx context.Context, stmts []Statement) error
	Dialect() Dialect
	Close() error
}

// Schema is implemented by adapters that own their migrations.
type Schema interface {
	EnsureSchema(ctx context.Context) error
	Check(ctx context.Context) error
}

// Backend is an adapter that can also bootstrap and probe its schema.
type Backend interface {
	Adapter
	Schema
}
