// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migration pairs a version with the SQL that brings the schema to it.
type migration struct {
	version     int
	description string
	sql         string
}

// migrations is the ordered list of built-in schema migrations.
var migrations = []migration{
	{
		version:     1,
		description: "lease store and schema registry",
		sql: `
CREATE TABLE IF NOT EXISTS leases (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL CHECK(kind IN ('optimistic','pessimistic','critical')),
	reason TEXT NOT NULL CHECK(length(reason) > 0 AND length(reason) <= 200),
	acquired_at INTEGER NOT NULL CHECK(acquired_at > 0),
	expires_at INTEGER NOT NULL CHECK(expires_at > acquired_at)
);
CREATE INDEX IF NOT EXISTS idx_leases_resource ON leases(resource_id);
CREATE INDEX IF NOT EXISTS idx_leases_expires ON leases(expires_at);

CREATE TABLE IF NOT EXISTS schema_tables (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_modified_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_schema_tables_project ON schema_tables(project_id);

CREATE TABLE IF NOT EXISTS schema_fields (
	id TEXT PRIMARY KEY,
	table_id TEXT NOT NULL REFERENCES schema_tables(id),
	name TEXT NOT NULL,
	field_type TEXT NOT NULL DEFAULT 'text',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_modified_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_schema_fields_table ON schema_fields(table_id);

CREATE TABLE IF NOT EXISTS schema_relationships (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	source_field_id TEXT NOT NULL REFERENCES schema_fields(id),
	target_field_id TEXT NOT NULL REFERENCES schema_fields(id),
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schema_rel_source ON schema_relationships(source_field_id);
CREATE INDEX IF NOT EXISTS idx_schema_rel_target ON schema_relationships(target_field_id);
`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending built-in migrations. Previously applied versions
// are verified against their recorded checksum to catch drift.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration)
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	for _, mig := range migrations {
		checksum := checksumSQL(mig.sql)

		if prev, ok := appliedByVersion[mig.version]; ok {
			if prev.Checksum != checksum {
				return fmt.Errorf("migration V%d checksum mismatch: applied %s, built-in %s",
					mig.version, prev.Checksum, checksum)
			}
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration V%d: %w", mig.version, err)
		}

		if _, err := tx.Exec(mig.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration V%d failed: %w", mig.version, err)
		}

		record := `INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)`
		if _, err := tx.Exec(record, mig.version, time.Now().Unix(), mig.description, checksum); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration V%d: %w", mig.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration V%d: %w", mig.version, err)
		}
	}

	return nil
}

// checksumSQL returns the hex sha256 of a migration body.
func checksumSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}
