package migrate_test

import (
	"testing"

	"chronicle/internal/db"
	"chronicle/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected recorded schema version, got %d", version)
	}

	// The full schema must be queryable after migration.
	for _, table := range []string{"tasks", "task_events", "acts", "seals", "prompts", "approvals", "message_drafts", "jobs", "journal", "api_keys"} {
		if _, err := conn.Exec(`SELECT COUNT(*) FROM ` + table); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
