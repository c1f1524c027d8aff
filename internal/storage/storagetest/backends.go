// SPDX-License-Identifier: Apache-2.0

package storagetest

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, schema-ready adapter owned by t.
type Factory func(t *testing.T) storage.Adapter

var backends = map[string]Factory{
	"sqlite": SQLite,
}

// ForEachBackend runs fn once per registered backend. Postgres registers
// itself only in integration builds.
func ForEachBackend(t *testing.T, fn func(t *testing.T, a storage.Adapter)) {
	t.Helper()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		factory := backends[name]
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// SQLite returns a migrated in-memory SQLite adapter.
func SQLite(t *testing.T) storage.Adapter {
	t.Helper()

	ctx := context.Background()
	a, err := sqlite.Open(ctx, sqlite.MemoryPath, DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.EnsureSchema(ctx))
	return a
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
