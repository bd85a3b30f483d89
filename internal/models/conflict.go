// Package models provides data model definitions for the SchemaFlow
// collaboration core.
package models

import "time"

// ConflictType classifies a detected concurrent-modification hazard.
type ConflictType string

const (
	ConflictResourceLocked       ConflictType = "resource_locked"
	ConflictSchemaModified       ConflictType = "schema_modified"
	ConflictFieldConflict        ConflictType = "field_conflict"
	ConflictRelationshipConflict ConflictType = "relationship_conflict"
	ConflictConcurrentEdit       ConflictType = "concurrent_edit"
	ConflictPermissionDenied     ConflictType = "permission_denied"
	ConflictResourceDeleted      ConflictType = "resource_deleted"
)

// Severity ranks how strongly a conflict should block an operation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordering value for severity comparison. Higher blocks more.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Conflict is a detected hazard produced per detection call. Conflicts are
// ephemeral: only their causes (leases, modification timestamps, name
// collisions) are durable.
type Conflict struct {
	ID                 UUID                   `json:"id"`
	Type               ConflictType           `json:"type"`
	Severity           Severity               `json:"severity"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	Details            map[string]interface{} `json:"details,omitempty"`
	ResourceID         string                 `json:"resource_id"`
	ResourceKind       ResourceKind           `json:"resource_kind"`
	ConflictingActorID string                 `json:"conflicting_actor_id,omitempty"`
	DetectedAt         int64                  `json:"detected_at"`
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *Conflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}

// Resolution is a suggested strategy for clearing a set of conflicts.
type Resolution string

const (
	ResolutionNone            Resolution = ""
	ResolutionCancelOperation Resolution = "cancel_operation"
	ResolutionRequestLock     Resolution = "request_lock"
	ResolutionRenameResource  Resolution = "rename_resource"
	ResolutionMergeChanges    Resolution = "merge_changes"
	ResolutionSaveAsCopy      Resolution = "save_as_copy"
	ResolutionForceOverride   Resolution = "force_override"
)
