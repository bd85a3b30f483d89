package conflict

import "github.com/schemaflow/backend/internal/models"

// Suggest maps a set of detected conflicts to the single resolution
// strategy with the highest precedence. The precedence is fixed and
// total:
//
//  1. any relationship conflict  -> cancel the operation
//  2. any foreign lock           -> request the lock
//  3. any name/schema collision  -> rename the resource
//  4. warnings only              -> no suggestion
//
// Dependency conflicts are never silently overridable, so a relationship
// conflict wins over every other suggestion in the same batch. Warnings
// such as a bare concurrent-edit produce no suggestion; the caller may
// proceed or pick merge/save-as-copy/force-override manually.
func Suggest(conflicts []models.Conflict) models.Resolution {
	var (
		hasRelationship bool
		hasLocked       bool
		hasCollision    bool
	)

	for _, c := range conflicts {
		switch c.Type {
		case models.ConflictRelationshipConflict:
			hasRelationship = true
		case models.ConflictResourceLocked:
			// An own-lock informational entry carries Low severity and
			// must not trigger a request-lock suggestion.
			if c.Severity != models.SeverityLow {
				hasLocked = true
			}
		case models.ConflictSchemaModified, models.ConflictFieldConflict:
			hasCollision = true
		}
	}

	switch {
	case hasRelationship:
		return models.ResolutionCancelOperation
	case hasLocked:
		return models.ResolutionRequestLock
	case hasCollision:
		return models.ResolutionRenameResource
	default:
		return models.ResolutionNone
	}
}
