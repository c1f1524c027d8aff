// SPDX-License-Identifier: Apache-2.0

// Package storagetest holds the conformance suite every storage.Adapter must
// pass, so both backends are held to identical semantics.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conformanceTable = "adapter_conformance"

// RunAdapterSuite exercises run/get/all/exec/batch against a fresh adapter
// produced by newAdapter for each subtest.
func RunAdapterSuite(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	t.Helper()

	t.Run("ExecAndRun", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		n, err := a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "a", 1, "first")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = a.Run(ctx, `UPDATE `+conformanceTable+` SET n = n + 1 WHERE id = ?`, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("GetPresentAndAbsent", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		_, err := a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "a", 42, nil)
		require.NoError(t, err)

		row, ok, err := a.Get(ctx, `SELECT id, n, note FROM `+conformanceTable+` WHERE id = ?`, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", row.String("id"))
		assert.Equal(t, int64(42), row.Int64("n"))
		assert.True(t, row.IsNull("note"))

		_, ok, err = a.Get(ctx, `SELECT id FROM `+conformanceTable+` WHERE id = ?`, "zzz")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("AllPreservesOrder", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		for i, id := range []string{"c", "a", "b"} {
			_, err := a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, id, i, "x")
			require.NoError(t, err)
		}

		rows, err := a.All(ctx, `SELECT id FROM `+conformanceTable+` ORDER BY id ASC`)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{rows[0].String("id"), rows[1].String("id"), rows[2].String("id")})

		rows, err = a.All(ctx, `SELECT id FROM `+conformanceTable+` WHERE n > ?`, 99)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("BatchCommitsAll", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		err := a.Batch(ctx, []storage.Statement{
			storage.Stmt(`INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "a", 1, "x"),
			storage.Stmt(`INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "b", 2, "y"),
			storage.Stmt(`UPDATE `+conformanceTable+` SET n = n * 10 WHERE id = ?`, "a"),
		})
		require.NoError(t, err)

		row, ok, err := a.Get(ctx, `SELECT COUNT(*) AS total, SUM(n) AS sum_n FROM `+conformanceTable)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(2), row.Int64("total"))
		assert.Equal(t, int64(12), row.Int64("sum_n"))
	})

	t.Run("BatchIsAllOrNothing", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		_, err := a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "dup", 0, "x")
		require.NoError(t, err)

		err = a.Batch(ctx, []storage.Statement{
			storage.Stmt(`INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "fresh", 1, "x"),
			storage.Stmt(`INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "dup", 2, "x"),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "expected duplicate key, got %v", err)

		_, ok, err := a.Get(ctx, `SELECT id FROM `+conformanceTable+` WHERE id = ?`, "fresh")
		require.NoError(t, err)
		assert.False(t, ok, "expected failed batch to roll back earlier statements")
	})

	t.Run("DuplicateKeyOnRun", func(t *testing.T) {
		ctx := context.Background()
		a := prepare(t, newAdapter)

		_, err := a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "a", 1, "x")
		require.NoError(t, err)
		_, err = a.Run(ctx, `INSERT INTO `+conformanceTable+` (id, n, note) VALUES (?, ?, ?)`, "a", 2, "x")
		assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "expected duplicate key, got %v", err)
	})

	t.Run("EmptyBatchIsNoop", func(t *testing.T) {
		a := prepare(t, newAdapter)
		assert.NoError(t, a.Batch(context.Background(), nil))
	})
}

func prepare(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) storage.Adapter {
	t.Helper()

	a := newAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Exec(ctx, `DROP TABLE IF EXISTS `+conformanceTable))
	require.NoError(t, a.Exec(ctx, `CREATE TABLE `+conformanceTable+` (id TEXT PRIMARY KEY, n INTEGER NOT NULL, note TEXT)`))
	t.Cleanup(func() {
		_ = a.Exec(context.Background(), `DROP TABLE IF EXISTS `+conformanceTable)
	})
	return a
}
