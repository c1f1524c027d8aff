//go:build integration

// SPDX-License-Identifier: Apache-2.0

package storagetest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func init() {
	backends["postgres"] = Postgres
}

// Postgres returns a migrated adapter on a throwaway database created on the
// DATABASE_URL server. The database is dropped when the test ends.
func Postgres(t *testing.T) storage.Adapter {
	t.Helper()

	a := TempPostgres(t)
	require.NoError(t, a.EnsureSchema(context.Background()))
	return a
}

// TempPostgres returns an adapter on an empty throwaway database.
func TempPostgres(t *testing.T) *postgres.Adapter {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	baseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if baseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	adminPool, err := pgxpool.New(ctx, baseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create admin pool (%v)", err)
	}
	if err := adminPool.Ping(ctx); err != nil {
		adminPool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	testDBName := "ledger_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{testDBName}.Sanitize()); err != nil {
		adminPool.Close()
		t.Skipf("skip integration test: cannot create database (%v)", err)
	}

	poolCfg, err := pgxpool.ParseConfig(baseURL)
	require.NoError(t, err, "parse DATABASE_URL")
	poolCfg.ConnConfig.Database = testDBName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	require.NoError(t, err, "create temp database pool")

	t.Cleanup(func() {
		pool.Close()

		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cleanupCancel()

		_, _ = adminPool.Exec(cleanupCtx, `
			SELECT pg_terminate_backend(pid)
			FROM pg_stat_activity
			WHERE datname = $1
			  AND pid <> pg_backend_pid()
		`, testDBName)
		if _, err := adminPool.Exec(cleanupCtx, "DROP DATABASE "+pgx.Identifier{testDBName}.Sanitize()); err != nil {
			t.Logf("cleanup warning: drop temp database failed (%v)", err)
		}
		adminPool.Close()
	})

	return postgres.New(pool, DiscardLogger())
}
