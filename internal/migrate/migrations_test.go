package migrate

import (
	"testing"

	"taskmint/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var version int
	var appliedAt string
	if err := conn.QueryRow(`SELECT version, applied_at FROM schema_version`).Scan(&version, &appliedAt); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if appliedAt == "" {
		t.Fatal("applied_at not recorded")
	}

	var rows int
	if err := conn.QueryRow(`SELECT count(*) FROM schema_version`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Fatalf("schema_version rows = %d, want 1", rows)
	}

	// The applied schema must be usable.
	if _, err := conn.Exec(`SELECT id FROM tasks LIMIT 1`); err != nil {
		t.Fatalf("tasks table missing: %v", err)
	}
}

func TestVersionOf(t *testing.T) {
	v, err := versionOf("0001_init.sql")
	if err != nil || v != 1 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, err := versionOf("init.sql"); err == nil {
		t.Fatal("want error for filename without version prefix")
	}
	if _, err := versionOf("abc_init.sql"); err == nil {
		t.Fatal("want error for non-numeric version prefix")
	}
}
