package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/portal/pkg/db"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for version := range ups {
		if !downs[version] {
			t.Fatalf("migration %s has no down file", version)
		}
	}
}

func TestSourceOpens(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	first, err := src.First()
	if err != nil {
		t.Fatalf("first migration: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}
}

func TestApplySQLiteIsIdempotent(t *testing.T) {
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ApplySQLite(conn); err != nil {
			t.Fatalf("apply schema (pass %d): %v", i+1, err)
		}
	}
	for _, table := range []string{"clients", "invoices", "invoice_items", "payments", "payment_events", "invoice_reconciliations"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}
