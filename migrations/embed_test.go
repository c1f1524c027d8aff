// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"strings"
	"testing"
)

func TestOrderedPerDialect(t *testing.T) {
	for _, dialect := range []string{"sqlite", "postgres"} {
		files, err := Ordered(dialect)
		if err != nil {
			t.Fatalf("Ordered(%s): %v", dialect, err)
		}
		if len(files) != 2 {
			t.Fatalf("expected 2 %s migrations got %d", dialect, len(files))
		}
		if files[0].Name != "0001_events.sql" || files[1].Name != "0002_cases.sql" {
			t.Fatalf("unexpected %s migration order: %s, %s", dialect, files[0].Name, files[1].Name)
		}
		for _, table := range []string{"events", "receipts"} {
			if !strings.Contains(files[0].SQL, "CREATE TABLE IF NOT EXISTS "+table) {
				t.Fatalf("expected %s migration to create %s", dialect, table)
			}
		}
	}
}

func TestOrderedUnknownDialect(t *testing.T) {
	if _, err := Ordered("oracle"); err == nil {
		t.Fatal("expected unknown dialect to fail")
	}
	if _, err := Ordered(" "); err == nil {
		t.Fatal("expected empty dialect to fail")
	}
}
