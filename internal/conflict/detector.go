// Package conflict classifies proposed schema operations against current
// system state: locks held by other actors, concurrent edits, name
// collisions, and relationship dependencies. Detection is advisory and
// repeatable; the durable causes live in the lease store and the schema
// registry, never in this package.
package conflict

import (
	"fmt"
	"time"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/identity"
	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/uuid"
)

// Operation is the kind of schema mutation being proposed.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ProposedChanges carries the parts of a pending mutation the detector
// inspects. A zero Name means the name is not changing.
type ProposedChanges struct {
	Name string
}

// DetectionResult is the merged outcome of all checks for one proposed
// operation. Warnings are advisory and never affect CanProceed.
type DetectionResult struct {
	Conflicts           []models.Conflict `json:"conflicts"`
	Warnings            []models.Conflict `json:"warnings"`
	CanProceed          bool              `json:"can_proceed"`
	SuggestedResolution models.Resolution `json:"suggested_resolution"`
}

// LockQuerier reads the current valid lease on a resource. Expired leases
// read as nil.
type LockQuerier interface {
	Query(resourceID string) (*models.Lease, error)
}

// Registry is the read-only slice of the schema registry the detector
// consumes.
type Registry interface {
	GetTable(id string) (*models.Table, error)
	GetField(id string) (*models.Field, error)
	FindSiblingTable(projectID, name, excludeID string) (*models.Table, error)
	FindSiblingField(tableID, name, excludeID string) (*models.Field, error)
	ListRelationshipsReferencing(fieldID string) ([]*models.Relationship, error)
}

// Detector runs the conflict checks. All checks execute independently on
// every call; a failing check is logged and excluded from the result
// instead of aborting the detection, so partial results still reach the
// caller.
type Detector struct {
	locks    LockQuerier
	registry Registry
	lastSeen LastSeenCache
	ident    identity.Provider
	logger   *logging.Logger
	now      func() time.Time
}

// NewDetector creates a conflict detector.
func NewDetector(locks LockQuerier, registry Registry, lastSeen LastSeenCache, ident identity.Provider, logger *logging.Logger) *Detector {
	if lastSeen == nil {
		lastSeen = NewMemoryLastSeen()
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &Detector{
		locks:    locks,
		registry: registry,
		lastSeen: lastSeen,
		ident:    ident,
		logger:   logger,
		now:      time.Now,
	}
}

// LastSeen exposes the injected cache so callers can record observations
// as they render resources.
func (d *Detector) LastSeen() LastSeenCache {
	return d.lastSeen
}

// DetectTableConflicts classifies a proposed table operation. Checks run
// in a fixed order (lock, concurrent edit, name collision) and their
// results are merged, so identical store state yields an identical result.
func (d *Detector) DetectTableConflicts(projectID, tableID string, op Operation, changes *ProposedChanges) *DetectionResult {
	actor := d.ident.CurrentActor()
	result := &DetectionResult{}

	d.checkLock(result, tableID, models.ResourceKindTable, actor.ID)

	var table *models.Table
	if op != OperationCreate {
		var err error
		table, err = d.registry.GetTable(tableID)
		if err != nil {
			d.checkFailed("table lookup", tableID, err)
		}
	}

	if op == OperationUpdate && table != nil {
		d.checkConcurrentEdit(result, tableID, models.ResourceKindTable, table.Name, table.UpdatedAt, table.LastModifiedBy, actor.ID)
	}

	if name, ok := proposedName(op, changes, table); ok {
		d.checkTableNameCollision(result, projectID, tableID, name)
	}

	d.finish(result)
	return result
}

// DetectFieldConflicts classifies a proposed field operation. The lock
// check covers both the field itself and its parent table, since a table
// lease claims everything inside the table.
func (d *Detector) DetectFieldConflicts(projectID, tableID, fieldID string, op Operation, changes *ProposedChanges) *DetectionResult {
	actor := d.ident.CurrentActor()
	result := &DetectionResult{}

	d.checkLock(result, fieldID, models.ResourceKindField, actor.ID)
	d.checkLock(result, tableID, models.ResourceKindTable, actor.ID)

	var field *models.Field
	if op != OperationCreate {
		var err error
		field, err = d.registry.GetField(fieldID)
		if err != nil {
			d.checkFailed("field lookup", fieldID, err)
		}
	}

	if op == OperationUpdate && field != nil {
		d.checkConcurrentEdit(result, fieldID, models.ResourceKindField, field.Name, field.UpdatedAt, field.LastModifiedBy, actor.ID)
	}

	var renamed bool
	if name, ok := proposedFieldName(op, changes, field); ok {
		renamed = op == OperationUpdate
		d.checkFieldNameCollision(result, tableID, fieldID, name)
	}

	// Deleting or renaming a field breaks every relationship attached to
	// it, so either triggers the dependency check.
	if op == OperationDelete || renamed {
		d.checkRelationshipDependencies(result, fieldID, field)
	}

	d.finish(result)
	return result
}

// checkLock queries the current lease on the resource. A valid foreign
// lease is a blocking conflict; the caller's own lease is reported as a
// low-severity informational warning.
func (d *Detector) checkLock(result *DetectionResult, resourceID string, kind models.ResourceKind, actorID string) {
	if resourceID == "" {
		return
	}
	lease, err := d.locks.Query(resourceID)
	if err != nil {
		d.checkFailed("lock query", resourceID, err)
		return
	}
	if lease == nil {
		return
	}

	details := map[string]interface{}{
		"owner_id":   lease.OwnerID,
		"kind":       string(lease.Kind),
		"reason":     lease.Reason,
		"expires_at": lease.ExpiresAt,
	}

	if lease.OwnerID != actorID {
		result.Conflicts = append(result.Conflicts, d.newConflict(
			models.ConflictResourceLocked, models.SeverityHigh,
			"Resource is locked",
			fmt.Sprintf("Another collaborator holds a %s lock on this %s: %s", lease.Kind, kind, lease.Reason),
			details, resourceID, kind, lease.OwnerID))
		return
	}

	result.Warnings = append(result.Warnings, d.newConflict(
		models.ConflictResourceLocked, models.SeverityLow,
		"You hold the lock",
		"Your own lease covers this resource; the operation can proceed.",
		details, resourceID, kind, ""))
}

// checkConcurrentEdit compares the resource's last-modified timestamp to
// the session's last observation. An absent observation produces no
// warning.
func (d *Detector) checkConcurrentEdit(result *DetectionResult, resourceID string, kind models.ResourceKind, name string, updatedAt int64, lastModifiedBy, actorID string) {
	seenAt, ok := d.lastSeen.Get(resourceID)
	if !ok {
		return
	}
	if lastModifiedBy == actorID || updatedAt <= seenAt {
		return
	}

	result.Warnings = append(result.Warnings, d.newConflict(
		models.ConflictConcurrentEdit, models.SeverityMedium,
		"Modified since you last viewed it",
		fmt.Sprintf("%q was changed by another collaborator after your last observation.", name),
		map[string]interface{}{
			"modified_at":  updatedAt,
			"last_seen_at": seenAt,
		},
		resourceID, kind, lastModifiedBy))
}

// checkTableNameCollision looks for a sibling table in the project
// already using the proposed name.
func (d *Detector) checkTableNameCollision(result *DetectionResult, projectID, tableID, name string) {
	sibling, err := d.registry.FindSiblingTable(projectID, name, tableID)
	if err != nil {
		d.checkFailed("table name collision query", tableID, err)
		return
	}
	if sibling == nil {
		return
	}

	result.Conflicts = append(result.Conflicts, d.newConflict(
		models.ConflictSchemaModified, models.SeverityHigh,
		"Table name already in use",
		fmt.Sprintf("A table named %q already exists in this project.", name),
		map[string]interface{}{
			"proposed_name": name,
			"existing_id":   sibling.ID.String(),
		},
		tableID, models.ResourceKindTable, sibling.LastModifiedBy))
}

// checkFieldNameCollision looks for a sibling field in the same table
// already using the proposed name.
func (d *Detector) checkFieldNameCollision(result *DetectionResult, tableID, fieldID, name string) {
	sibling, err := d.registry.FindSiblingField(tableID, name, fieldID)
	if err != nil {
		d.checkFailed("field name collision query", fieldID, err)
		return
	}
	if sibling == nil {
		return
	}

	result.Conflicts = append(result.Conflicts, d.newConflict(
		models.ConflictFieldConflict, models.SeverityHigh,
		"Field name already in use",
		fmt.Sprintf("A field named %q already exists in this table.", name),
		map[string]interface{}{
			"proposed_name": name,
			"existing_id":   sibling.ID.String(),
		},
		fieldID, models.ResourceKindField, sibling.LastModifiedBy))
}

// checkRelationshipDependencies blocks destructive field operations while
// any relationship still references the field on either end.
func (d *Detector) checkRelationshipDependencies(result *DetectionResult, fieldID string, field *models.Field) {
	rels, err := d.registry.ListRelationshipsReferencing(fieldID)
	if err != nil {
		d.checkFailed("relationship dependency query", fieldID, err)
		return
	}
	if len(rels) == 0 {
		return
	}

	names := make([]string, 0, len(rels))
	for _, rel := range rels {
		names = append(names, rel.Name)
	}
	fieldName := fieldID
	if field != nil {
		fieldName = field.Name
	}

	result.Conflicts = append(result.Conflicts, d.newConflict(
		models.ConflictRelationshipConflict, models.SeverityCritical,
		"Field is referenced by relationships",
		fmt.Sprintf("%q is used by %d relationship(s); remove them before changing the field.", fieldName, len(rels)),
		map[string]interface{}{
			"relationship_count": len(rels),
			"relationship_names": names,
		},
		fieldID, models.ResourceKindField, ""))
}

// finish derives the aggregate verdict from the merged check results.
func (d *Detector) finish(result *DetectionResult) {
	result.CanProceed = len(result.Conflicts) == 0
	result.SuggestedResolution = Suggest(result.Conflicts)
}

// checkFailed logs a degraded check. Detection is advisory, so partial
// results beat an aborted call.
func (d *Detector) checkFailed(check, resourceID string, err error) {
	d.logger.ErrorWithCode("Conflict check failed", string(apperrors.ErrDetectionFailed), err,
		map[string]interface{}{
			"check":       check,
			"resource_id": resourceID,
		})
}

func (d *Detector) newConflict(t models.ConflictType, sev models.Severity, title, description string, details map[string]interface{}, resourceID string, kind models.ResourceKind, conflictingActorID string) models.Conflict {
	return models.Conflict{
		ID:                 models.UUID(uuid.New()),
		Type:               t,
		Severity:           sev,
		Title:              title,
		Description:        description,
		Details:            details,
		ResourceID:         resourceID,
		ResourceKind:       kind,
		ConflictingActorID: conflictingActorID,
		DetectedAt:         d.now().Unix(),
	}
}

// proposedName resolves whether a table operation introduces a name that
// needs collision checking: any create, or an update that changes the
// name.
func proposedName(op Operation, changes *ProposedChanges, current *models.Table) (string, bool) {
	if changes == nil || changes.Name == "" {
		return "", false
	}
	switch op {
	case OperationCreate:
		return changes.Name, true
	case OperationUpdate:
		if current != nil && current.Name == changes.Name {
			return "", false
		}
		return changes.Name, true
	default:
		return "", false
	}
}

func proposedFieldName(op Operation, changes *ProposedChanges, current *models.Field) (string, bool) {
	if changes == nil || changes.Name == "" {
		return "", false
	}
	switch op {
	case OperationCreate:
		return changes.Name, true
	case OperationUpdate:
		if current != nil && current.Name == changes.Name {
			return "", false
		}
		return changes.Name, true
	default:
		return "", false
	}
}
