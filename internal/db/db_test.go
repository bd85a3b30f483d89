// Package db provides test fixtures and connection/migration tests.
package db

import (
	"testing"
)

// newTestDB opens a migrated database in a per-test temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return database
}

// TestOpenAndMigrate tests that a fresh database migrates to the latest
// version.
func TestOpenAndMigrate(t *testing.T) {
	database := newTestDB(t)

	migrator := NewMigrator(database.DB)
	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("CurrentVersion = %d, want 1", version)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("Expected 1 applied migration, got %d", len(applied))
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("Expected 64-char checksum, got %d chars", len(applied[0].Checksum))
	}
}

// TestMigrateIdempotent tests that re-running Up is a no-op.
func TestMigrateIdempotent(t *testing.T) {
	database := newTestDB(t)

	migrator := NewMigrator(database.DB)
	if err := migrator.Up(); err != nil {
		t.Fatalf("Second Up failed: %v", err)
	}

	applied, err := migrator.GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations failed: %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("Expected 1 applied migration after re-run, got %d", len(applied))
	}
}

// TestLeaseSchemaConstraints tests that the lease table enforces its checks.
func TestLeaseSchemaConstraints(t *testing.T) {
	database := newTestDB(t)

	insert := `INSERT INTO leases (id, resource_id, owner_id, token, kind, reason, acquired_at, expires_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	tests := []struct {
		name string
		args []interface{}
	}{
		{"unknown kind", []interface{}{"l1", "t1", "u1", "tok1", "exclusive", "edit", 100, 200}},
		{"empty reason", []interface{}{"l2", "t1", "u1", "tok2", "optimistic", "", 100, 200}},
		{"expiry before acquisition", []interface{}{"l3", "t1", "u1", "tok3", "optimistic", "edit", 200, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := database.Exec(insert, tt.args...); err == nil {
				t.Error("Expected constraint violation")
			}
		})
	}
}
