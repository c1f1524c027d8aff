//go:build integration

// SPDX-License-Identifier: Apache-2.0

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/storagetest"
)

func TestAdapterConformanceIntegration(t *testing.T) {
	storagetest.RunAdapterSuite(t, func(t *testing.T) storage.Adapter {
		return storagetest.TempPostgres(t)
	})
}

func TestEnsureSchemaBootstrapsEmptyDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	a := storagetest.TempPostgres(t)

	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema first run: %v", err)
	}
	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema second run: %v", err)
	}
	if err := a.Check(ctx); err != nil {
		t.Fatalf("schema ready check: %v", err)
	}

	row, ok, err := a.Get(ctx, `SELECT COUNT(*) AS n FROM schema_migrations`)
	if err != nil || !ok {
		t.Fatalf("count migrations: %v", err)
	}
	if row.Int64("n") != 2 {
		t.Fatalf("expected 2 applied migrations got %d", row.Int64("n"))
	}
}
