// Package models provides data model definitions for the SchemaFlow
// collaboration core.
package models

import "time"

// Table represents a table in a project's data model design.
type Table struct {
	ID             UUID   `db:"id" json:"id"`
	ProjectID      string `db:"project_id" json:"project_id"`
	Name           string `db:"name" json:"name"`
	IsDeleted      bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
	LastModifiedBy string `db:"last_modified_by" json:"last_modified_by"`
}

// TableName returns the table name for Table.
func (Table) TableName() string {
	return "schema_tables"
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (t *Table) UpdatedAtTime() time.Time {
	return time.Unix(t.UpdatedAt, 0)
}

// Field represents a column definition inside a designed table.
type Field struct {
	ID             UUID   `db:"id" json:"id"`
	TableID        UUID   `db:"table_id" json:"table_id"`
	Name           string `db:"name" json:"name"`
	FieldType      string `db:"field_type" json:"field_type"`
	IsDeleted      bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
	LastModifiedBy string `db:"last_modified_by" json:"last_modified_by"`
}

// TableName returns the table name for Field.
func (Field) TableName() string {
	return "schema_fields"
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (f *Field) UpdatedAtTime() time.Time {
	return time.Unix(f.UpdatedAt, 0)
}

// Relationship links a source field to a target field across tables.
type Relationship struct {
	ID            UUID   `db:"id" json:"id"`
	ProjectID     string `db:"project_id" json:"project_id"`
	Name          string `db:"name" json:"name"`
	SourceFieldID UUID   `db:"source_field_id" json:"source_field_id"`
	TargetFieldID UUID   `db:"target_field_id" json:"target_field_id"`
	IsDeleted     bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt     int64  `db:"created_at" json:"created_at"`
	UpdatedAt     int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Relationship.
func (Relationship) TableName() string {
	return "schema_relationships"
}

// References reports whether the relationship touches the given field on
// either end.
func (r *Relationship) References(fieldID UUID) bool {
	return r.SourceFieldID == fieldID || r.TargetFieldID == fieldID
}
