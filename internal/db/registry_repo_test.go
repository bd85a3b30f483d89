// Package db provides unit tests for the schema registry repository.
package db

import (
	"testing"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/models"
)

// newTestRegistry builds a registry repo over a fresh database.
func newTestRegistry(t *testing.T) (*RegistryRepo, *Feed) {
	t.Helper()

	database := newTestDB(t)
	feed := NewFeed(16)
	t.Cleanup(feed.Close)
	return NewRegistryRepo(database.DB, feed), feed
}

// TestTableLifecycle tests create/get/update/delete with actor stamping.
func TestTableLifecycle(t *testing.T) {
	repo, _ := newTestRegistry(t)

	table := &models.Table{ProjectID: "proj-1", Name: "orders"}
	if err := repo.CreateTable(table, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if table.ID == "" {
		t.Fatal("Expected generated table ID")
	}

	got, err := repo.GetTable(string(table.ID))
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if got.Name != "orders" || got.LastModifiedBy != "user-1" {
		t.Errorf("Unexpected table: %+v", got)
	}

	got.Name = "invoices"
	if err := repo.UpdateTable(got, "user-2"); err != nil {
		t.Fatalf("UpdateTable failed: %v", err)
	}
	updated, _ := repo.GetTable(string(table.ID))
	if updated.Name != "invoices" || updated.LastModifiedBy != "user-2" {
		t.Errorf("Unexpected updated table: %+v", updated)
	}

	if err := repo.DeleteTable(string(table.ID), "user-1"); err != nil {
		t.Fatalf("DeleteTable failed: %v", err)
	}
	if _, err := repo.GetTable(string(table.ID)); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetTable after delete = %v, want NOT_FOUND", err)
	}
}

// TestFindSiblingTable tests name-collision lookups.
func TestFindSiblingTable(t *testing.T) {
	repo, _ := newTestRegistry(t)

	existing := &models.Table{ProjectID: "proj-1", Name: "orders"}
	if err := repo.CreateTable(existing, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	other := &models.Table{ProjectID: "proj-2", Name: "orders"}
	if err := repo.CreateTable(other, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	t.Run("collision in same project", func(t *testing.T) {
		sibling, err := repo.FindSiblingTable("proj-1", "orders", "")
		if err != nil {
			t.Fatalf("FindSiblingTable failed: %v", err)
		}
		if sibling == nil || sibling.ID != existing.ID {
			t.Errorf("Expected collision with %s, got %+v", existing.ID, sibling)
		}
	})

	t.Run("case-insensitive collision", func(t *testing.T) {
		sibling, err := repo.FindSiblingTable("proj-1", "Orders", "")
		if err != nil {
			t.Fatalf("FindSiblingTable failed: %v", err)
		}
		if sibling == nil {
			t.Error("Expected case-insensitive collision")
		}
	})

	t.Run("self excluded on rename", func(t *testing.T) {
		sibling, err := repo.FindSiblingTable("proj-1", "orders", string(existing.ID))
		if err != nil {
			t.Fatalf("FindSiblingTable failed: %v", err)
		}
		if sibling != nil {
			t.Errorf("Expected no collision when excluding self, got %+v", sibling)
		}
	})

	t.Run("other project is a different scope", func(t *testing.T) {
		sibling, err := repo.FindSiblingTable("proj-3", "orders", "")
		if err != nil {
			t.Fatalf("FindSiblingTable failed: %v", err)
		}
		if sibling != nil {
			t.Errorf("Expected no collision in empty project, got %+v", sibling)
		}
	})
}

// TestFieldLifecycle tests field CRUD and sibling lookup within a table.
func TestFieldLifecycle(t *testing.T) {
	repo, _ := newTestRegistry(t)

	table := &models.Table{ProjectID: "proj-1", Name: "orders"}
	if err := repo.CreateTable(table, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	field := &models.Field{TableID: table.ID, Name: "total", FieldType: "number"}
	if err := repo.CreateField(field, "user-1"); err != nil {
		t.Fatalf("CreateField failed: %v", err)
	}

	got, err := repo.GetField(string(field.ID))
	if err != nil {
		t.Fatalf("GetField failed: %v", err)
	}
	if got.Name != "total" || got.FieldType != "number" {
		t.Errorf("Unexpected field: %+v", got)
	}

	sibling, err := repo.FindSiblingField(string(table.ID), "total", "")
	if err != nil {
		t.Fatalf("FindSiblingField failed: %v", err)
	}
	if sibling == nil {
		t.Error("Expected sibling collision for duplicate name")
	}

	if err := repo.DeleteField(string(field.ID), "user-1"); err != nil {
		t.Fatalf("DeleteField failed: %v", err)
	}
	if sibling, _ := repo.FindSiblingField(string(table.ID), "total", ""); sibling != nil {
		t.Error("Expected deleted field to not collide")
	}
}

// TestListRelationshipsReferencing tests dependency lookups on both ends.
func TestListRelationshipsReferencing(t *testing.T) {
	repo, _ := newTestRegistry(t)

	table := &models.Table{ProjectID: "proj-1", Name: "orders"}
	if err := repo.CreateTable(table, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	source := &models.Field{TableID: table.ID, Name: "customer_id"}
	target := &models.Field{TableID: table.ID, Name: "id"}
	for _, f := range []*models.Field{source, target} {
		if err := repo.CreateField(f, "user-1"); err != nil {
			t.Fatalf("CreateField failed: %v", err)
		}
	}

	rel := &models.Relationship{
		ProjectID:     "proj-1",
		Name:          "order_customer",
		SourceFieldID: source.ID,
		TargetFieldID: target.ID,
	}
	if err := repo.CreateRelationship(rel, "user-1"); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}

	for _, fieldID := range []models.UUID{source.ID, target.ID} {
		rels, err := repo.ListRelationshipsReferencing(string(fieldID))
		if err != nil {
			t.Fatalf("ListRelationshipsReferencing failed: %v", err)
		}
		if len(rels) != 1 || rels[0].ID != rel.ID {
			t.Errorf("References(%s) = %+v, want the relationship", fieldID, rels)
		}
	}

	if err := repo.DeleteRelationship(string(rel.ID), "user-1"); err != nil {
		t.Fatalf("DeleteRelationship failed: %v", err)
	}
	rels, err := repo.ListRelationshipsReferencing(string(source.ID))
	if err != nil {
		t.Fatalf("ListRelationshipsReferencing failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("Expected no references after delete, got %d", len(rels))
	}
}

// TestRegistryPublishesEvents tests that mutations flow through the feed.
func TestRegistryPublishesEvents(t *testing.T) {
	repo, feed := newTestRegistry(t)

	events, unsub := feed.Subscribe(models.ResourceKindTable)
	defer unsub()

	table := &models.Table{ProjectID: "proj-1", Name: "orders"}
	if err := repo.CreateTable(table, "user-1"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	event := <-events
	if event.EventType != models.ChangeEventInsert || event.ActorID != "user-1" {
		t.Errorf("Unexpected event: %+v", event)
	}
	if event.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", event.ProjectID)
	}
}
