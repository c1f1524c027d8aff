// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// RequiredTables must exist once every migration of a dialect has run.
var RequiredTables = []string{
	"events",
	"receipts",
	"cases",
	"case_events",
}

// Applier is the dialect half of a migration run. Applied lists the file
// names recorded in schema_migrations; Apply runs one file and records it
// atomically.
type Applier interface {
	Applied(ctx context.Context) ([]string, error)
	Apply(ctx context.Context, f File) error
}

type Report struct {
	Applied []string
	Skipped int
}

// Run applies the dialect's pending files in name order. It stops at the
// first failure; files applied before it stay recorded.
func Run(ctx context.Context, dialect string, a Applier) (Report, error) {
	files, err := Ordered(dialect)
	if err != nil {
		return Report{}, fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return Report{}, errors.New("no embedded migrations found")
	}

	done, err := a.Applied(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list applied migrations: %w", err)
	}

	var report Report
	for _, f := range files {
		if slices.Contains(done, f.Name) {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := a.Apply(ctx, f); err != nil {
			return report, fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		report.Applied = append(report.Applied, f.Name)
	}
	return report, nil
}

// Missing returns the entries of required absent from present, in the
// order of required.
func Missing(required, present []string) []string {
	var out []string
	for _, name := range required {
		if !slices.Contains(present, name) {
			out = append(out, name)
		}
	}
	return out
}
