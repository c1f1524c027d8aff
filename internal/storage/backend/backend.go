// SPDX-License-Identifier: Apache-2.0

// Package backend selects the storage adapter named by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/postgres"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/sqlite"
)

type Options struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool
}

var (
	_ storage.Backend = (*sqlite.Adapter)(nil)
	_ storage.Backend = (*postgres.Adapter)(nil)
)

// Open connects the configured backend and, when AutoMigrate is set, brings
// its schema up to date.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (storage.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		b   storage.Backend
		err error
	)
	switch storage.Dialect(strings.ToLower(strings.TrimSpace(opts.Backend))) {
	case storage.DialectSQLite, "":
		b, err = sqlite.Open(ctx, opts.SQLitePath, logger)
	case storage.DialectPostgres:
		b, err = postgres.Open(ctx, opts.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("storage backend opened", "backend", b.Dialect())

	if opts.AutoMigrate {
		if err := b.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return b, nil
}
