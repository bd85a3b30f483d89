// Package db provides the schema resource registry repository.
package db

import (
	"database/sql"
	"time"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/uuid"
)

// RegistryRepo provides CRUD over the designed schema records (tables,
// fields, relationships). The conflict detector consumes its read side;
// mutations stamp the acting user and publish ChangeEvents to the feed.
type RegistryRepo struct {
	db   *sql.DB
	feed *Feed
}

// NewRegistryRepo creates a new RegistryRepo publishing to the given feed.
func NewRegistryRepo(db *sql.DB, feed *Feed) *RegistryRepo {
	return &RegistryRepo{db: db, feed: feed}
}

// =====================================================
// Table Operations
// =====================================================

// CreateTable creates a new designed table.
func (r *RegistryRepo) CreateTable(table *models.Table, actorID string) error {
	now := time.Now().Unix()
	table.ID = models.UUID(uuid.New())
	table.CreatedAt = now
	table.UpdatedAt = now
	table.LastModifiedBy = actorID

	query := `
	INSERT INTO schema_tables (id, project_id, name, is_deleted, created_at, updated_at, last_modified_by)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, table.ID, table.ProjectID, table.Name, table.IsDeleted,
		table.CreatedAt, table.UpdatedAt, table.LastModifiedBy)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create table record", err)
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventInsert,
		ResourceKind: models.ResourceKindTable,
		After:        *table,
		ActorID:      actorID,
		ProjectID:    table.ProjectID,
	})
	return nil
}

// GetTable retrieves a table by ID. Soft-deleted tables are not returned.
func (r *RegistryRepo) GetTable(id string) (*models.Table, error) {
	query := `
	SELECT id, project_id, name, is_deleted, created_at, updated_at, last_modified_by
	FROM schema_tables WHERE id = ? AND is_deleted = 0
	`
	var table models.Table
	err := r.db.QueryRow(query, id).Scan(&table.ID, &table.ProjectID, &table.Name,
		&table.IsDeleted, &table.CreatedAt, &table.UpdatedAt, &table.LastModifiedBy)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewWithDetails(apperrors.ErrNotFound, "table not found",
			map[string]interface{}{"table_id": id})
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get table", err)
	}
	return &table, nil
}

// UpdateTable updates a table's name and stamps the acting user.
func (r *RegistryRepo) UpdateTable(table *models.Table, actorID string) error {
	before, err := r.GetTable(string(table.ID))
	if err != nil {
		return err
	}

	table.UpdatedAt = time.Now().Unix()
	table.LastModifiedBy = actorID

	query := `UPDATE schema_tables SET name = ?, updated_at = ?, last_modified_by = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, table.Name, table.UpdatedAt, table.LastModifiedBy, table.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update table", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "table not found")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventUpdate,
		ResourceKind: models.ResourceKindTable,
		Before:       *before,
		After:        *table,
		ActorID:      actorID,
		ProjectID:    table.ProjectID,
	})
	return nil
}

// DeleteTable soft deletes a table.
func (r *RegistryRepo) DeleteTable(id string, actorID string) error {
	before, err := r.GetTable(id)
	if err != nil {
		return err
	}

	query := `UPDATE schema_tables SET is_deleted = 1, updated_at = ?, last_modified_by = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, time.Now().Unix(), actorID, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete table", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "table not found")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventDelete,
		ResourceKind: models.ResourceKindTable,
		Before:       *before,
		ActorID:      actorID,
		ProjectID:    before.ProjectID,
	})
	return nil
}

// FindSiblingTable returns a non-deleted table in the project with the given
// name, excluding excludeID (the resource being renamed). Nil when the name
// is free.
func (r *RegistryRepo) FindSiblingTable(projectID, name, excludeID string) (*models.Table, error) {
	query := `
	SELECT id, project_id, name, is_deleted, created_at, updated_at, last_modified_by
	FROM schema_tables
	WHERE project_id = ? AND name = ? COLLATE NOCASE AND id != ? AND is_deleted = 0
	LIMIT 1
	`
	var table models.Table
	err := r.db.QueryRow(query, projectID, name, excludeID).Scan(&table.ID, &table.ProjectID,
		&table.Name, &table.IsDeleted, &table.CreatedAt, &table.UpdatedAt, &table.LastModifiedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to find sibling table", err)
	}
	return &table, nil
}

// =====================================================
// Field Operations
// =====================================================

// CreateField creates a new field under a table.
func (r *RegistryRepo) CreateField(field *models.Field, actorID string) error {
	now := time.Now().Unix()
	field.ID = models.UUID(uuid.New())
	field.CreatedAt = now
	field.UpdatedAt = now
	field.LastModifiedBy = actorID

	query := `
	INSERT INTO schema_fields (id, table_id, name, field_type, is_deleted, created_at, updated_at, last_modified_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, field.ID, field.TableID, field.Name, field.FieldType,
		field.IsDeleted, field.CreatedAt, field.UpdatedAt, field.LastModifiedBy)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create field record", err)
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventInsert,
		ResourceKind: models.ResourceKindField,
		After:        *field,
		ActorID:      actorID,
	})
	return nil
}

// GetField retrieves a field by ID. Soft-deleted fields are not returned.
func (r *RegistryRepo) GetField(id string) (*models.Field, error) {
	query := `
	SELECT id, table_id, name, field_type, is_deleted, created_at, updated_at, last_modified_by
	FROM schema_fields WHERE id = ? AND is_deleted = 0
	`
	var field models.Field
	err := r.db.QueryRow(query, id).Scan(&field.ID, &field.TableID, &field.Name,
		&field.FieldType, &field.IsDeleted, &field.CreatedAt, &field.UpdatedAt, &field.LastModifiedBy)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewWithDetails(apperrors.ErrNotFound, "field not found",
			map[string]interface{}{"field_id": id})
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get field", err)
	}
	return &field, nil
}

// UpdateField updates a field's name and type, stamping the acting user.
func (r *RegistryRepo) UpdateField(field *models.Field, actorID string) error {
	before, err := r.GetField(string(field.ID))
	if err != nil {
		return err
	}

	field.UpdatedAt = time.Now().Unix()
	field.LastModifiedBy = actorID

	query := `UPDATE schema_fields SET name = ?, field_type = ?, updated_at = ?, last_modified_by = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, field.Name, field.FieldType, field.UpdatedAt, field.LastModifiedBy, field.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update field", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "field not found")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventUpdate,
		ResourceKind: models.ResourceKindField,
		Before:       *before,
		After:        *field,
		ActorID:      actorID,
	})
	return nil
}

// DeleteField soft deletes a field.
func (r *RegistryRepo) DeleteField(id string, actorID string) error {
	before, err := r.GetField(id)
	if err != nil {
		return err
	}

	query := `UPDATE schema_fields SET is_deleted = 1, updated_at = ?, last_modified_by = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, time.Now().Unix(), actorID, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete field", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "field not found")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventDelete,
		ResourceKind: models.ResourceKindField,
		Before:       *before,
		ActorID:      actorID,
	})
	return nil
}

// FindSiblingField returns a non-deleted field in the table with the given
// name, excluding excludeID. Nil when the name is free.
func (r *RegistryRepo) FindSiblingField(tableID, name, excludeID string) (*models.Field, error) {
	query := `
	SELECT id, table_id, name, field_type, is_deleted, created_at, updated_at, last_modified_by
	FROM schema_fields
	WHERE table_id = ? AND name = ? COLLATE NOCASE AND id != ? AND is_deleted = 0
	LIMIT 1
	`
	var field models.Field
	err := r.db.QueryRow(query, tableID, name, excludeID).Scan(&field.ID, &field.TableID,
		&field.Name, &field.FieldType, &field.IsDeleted, &field.CreatedAt, &field.UpdatedAt,
		&field.LastModifiedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to find sibling field", err)
	}
	return &field, nil
}

// =====================================================
// Relationship Operations
// =====================================================

// CreateRelationship creates a relationship between two fields.
func (r *RegistryRepo) CreateRelationship(rel *models.Relationship, actorID string) error {
	now := time.Now().Unix()
	rel.ID = models.UUID(uuid.New())
	rel.CreatedAt = now
	rel.UpdatedAt = now

	query := `
	INSERT INTO schema_relationships (id, project_id, name, source_field_id, target_field_id, is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, rel.ID, rel.ProjectID, rel.Name, rel.SourceFieldID,
		rel.TargetFieldID, rel.IsDeleted, rel.CreatedAt, rel.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create relationship record", err)
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventInsert,
		ResourceKind: models.ResourceKindRelationship,
		After:        *rel,
		ActorID:      actorID,
		ProjectID:    rel.ProjectID,
	})
	return nil
}

// DeleteRelationship soft deletes a relationship.
func (r *RegistryRepo) DeleteRelationship(id string, actorID string) error {
	query := `UPDATE schema_relationships SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete relationship", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "relationship not found")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventDelete,
		ResourceKind: models.ResourceKindRelationship,
		ActorID:      actorID,
	})
	return nil
}

// ListRelationshipsReferencing returns every non-deleted relationship whose
// source or target is the given field.
func (r *RegistryRepo) ListRelationshipsReferencing(fieldID string) ([]*models.Relationship, error) {
	query := `
	SELECT id, project_id, name, source_field_id, target_field_id, is_deleted, created_at, updated_at
	FROM schema_relationships
	WHERE (source_field_id = ? OR target_field_id = ?) AND is_deleted = 0
	ORDER BY created_at
	`
	rows, err := r.db.Query(query, fieldID, fieldID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list relationships", err)
	}
	defer rows.Close()

	var rels []*models.Relationship
	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.ID, &rel.ProjectID, &rel.Name, &rel.SourceFieldID,
			&rel.TargetFieldID, &rel.IsDeleted, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan relationship", err)
		}
		rels = append(rels, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate relationships", err)
	}
	return rels, nil
}
