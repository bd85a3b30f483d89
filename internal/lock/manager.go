// Package lock provides lease-based mutual exclusion over designer
// resources. Leases expire passively: validity is always computed from the
// stored expiry, so a crashed client can never deadlock a resource beyond
// its lease duration.
package lock

import (
	"time"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/uuid"
)

// Store is the lease store contract the manager runs against. Insert must
// be atomic with respect to the "no valid lease exists" check: of two
// concurrent inserts for one resource exactly one succeeds and the other
// fails with CONSTRAINT_VIOLATION.
type Store interface {
	Insert(lease *models.Lease) error
	FindByResource(resourceID string) (*models.Lease, error)
	FindByToken(resourceID, token string) (*models.Lease, error)
	UpdateExpiry(lease *models.Lease, expiresAt int64) error
	Delete(lease *models.Lease) error
}

// Manager acquires, validates, extends, and releases leases. Per resource
// the state machine is Unlocked -> Locked(lease) -> Unlocked; Locked ->
// Locked happens only through extension of the same lease by its owner.
type Manager struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewManager creates a lock manager over the given store.
func NewManager(store Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Get()
	}
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire claims a lease on the resource. A zero duration applies the
// kind's default; any requested duration is capped at MaxLeaseDuration.
// Ownership of an existing valid lease does not grant re-entrancy: the
// caller must release or extend it explicitly.
func (m *Manager) Acquire(resourceID, ownerID string, kind models.LeaseKind, reason string, duration time.Duration) (*models.Lease, error) {
	if err := validateAcquire(resourceID, ownerID, kind, reason, duration); err != nil {
		return nil, err
	}

	if duration == 0 {
		duration = kind.DefaultDuration()
	}
	if duration > models.MaxLeaseDuration {
		duration = models.MaxLeaseDuration
	}

	now := m.now()

	existing, err := m.store.FindByResource(resourceID)
	if err != nil {
		return nil, m.unexpected("failed to read current lease", err, resourceID)
	}
	if existing != nil && existing.Valid(now) {
		return nil, alreadyLocked(existing, ownerID)
	}

	lease := &models.Lease{
		ID:         models.UUID(uuid.New()),
		ResourceID: resourceID,
		OwnerID:    ownerID,
		Token:      uuid.New(),
		Kind:       kind,
		Reason:     reason,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(duration).Unix(),
	}

	if err := m.store.Insert(lease); err != nil {
		if apperrors.Is(err, apperrors.ErrConstraint) {
			// Lost the acquire race: someone inserted between our read
			// and our insert. Re-read so the caller learns who holds it.
			winner, readErr := m.store.FindByResource(resourceID)
			if readErr == nil && winner != nil && winner.Valid(m.now()) {
				return nil, alreadyLocked(winner, ownerID)
			}
			return nil, apperrors.NewWithDetails(apperrors.ErrAlreadyLocked,
				"the resource was locked concurrently",
				map[string]interface{}{"resource_id": resourceID, "is_own_lock": false})
		}
		return nil, m.unexpected("failed to insert lease", err, resourceID)
	}

	m.logger.Info("Lease acquired",
		map[string]interface{}{
			"resource_id": resourceID,
			"owner_id":    ownerID,
			"kind":        string(kind),
			"expires_at":  lease.ExpiresAt,
		})
	return lease, nil
}

// Release deletes the lease identified by (resource, token). Ownership is
// enforced; there is no administrative override, expiry is the only other
// release valve. Releasing an already-expired lease is permitted cleanup.
func (m *Manager) Release(resourceID, ownerID, token string) error {
	if resourceID == "" || ownerID == "" || token == "" {
		return apperrors.New(apperrors.ErrInvalid, "resource, owner, and token are required")
	}

	lease, err := m.store.FindByToken(resourceID, token)
	if err != nil {
		return m.unexpected("failed to look up lease", err, resourceID)
	}
	if lease == nil {
		return apperrors.NewWithDetails(apperrors.ErrNotFound, "no lease found for the given token",
			map[string]interface{}{"resource_id": resourceID})
	}
	if lease.OwnerID != ownerID {
		return forbidden(lease, ownerID)
	}

	if err := m.store.Delete(lease); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NewWithDetails(apperrors.ErrNotFound, "no lease found for the given token",
				map[string]interface{}{"resource_id": resourceID})
		}
		return m.unexpected("failed to delete lease", err, resourceID)
	}

	m.logger.Info("Lease released",
		map[string]interface{}{"resource_id": resourceID, "owner_id": ownerID})
	return nil
}

// Extend pushes the lease expiry out by additionalMinutes, capped at
// MaxLeaseDuration from the original acquisition. Expired leases can never
// be extended; that would resurrect a lock another actor may already have
// re-acquired.
func (m *Manager) Extend(resourceID, ownerID, token string, additionalMinutes int) (*models.Lease, error) {
	if resourceID == "" || ownerID == "" || token == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "resource, owner, and token are required")
	}
	if additionalMinutes <= 0 {
		return nil, apperrors.NewWithDetails(apperrors.ErrInvalid,
			"extension minutes must be positive",
			map[string]interface{}{"additional_minutes": additionalMinutes})
	}
	// Oversized requests are granted the per-call maximum rather than
	// rejected; the hard expiry below bounds the result either way.
	if additionalMinutes > models.MaxExtensionMinutes {
		additionalMinutes = models.MaxExtensionMinutes
	}

	lease, err := m.store.FindByToken(resourceID, token)
	if err != nil {
		return nil, m.unexpected("failed to look up lease", err, resourceID)
	}
	if lease == nil {
		return nil, apperrors.NewWithDetails(apperrors.ErrNotFound, "no lease found for the given token",
			map[string]interface{}{"resource_id": resourceID})
	}

	now := m.now()
	if !lease.Valid(now) {
		return nil, apperrors.NewWithDetails(apperrors.ErrLockExpired, "the lease has expired",
			map[string]interface{}{
				"resource_id": resourceID,
				"expired_at":  lease.ExpiresAt,
			})
	}
	if lease.OwnerID != ownerID {
		return nil, forbidden(lease, ownerID)
	}

	newExpiry := lease.ExpiresAt + int64(additionalMinutes)*60
	if hard := lease.HardExpiry(); newExpiry > hard {
		newExpiry = hard
	}

	if err := m.store.UpdateExpiry(lease, newExpiry); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrLockExpired, "the lease has expired")
		}
		return nil, m.unexpected("failed to extend lease", err, resourceID)
	}

	m.logger.Info("Lease extended",
		map[string]interface{}{
			"resource_id":        resourceID,
			"owner_id":           ownerID,
			"additional_minutes": additionalMinutes,
			"expires_at":         newExpiry,
		})
	return lease, nil
}

// Query returns the valid lease on the resource, or nil when the resource
// is unlocked. Expired rows read as unlocked; storage is never mutated.
func (m *Manager) Query(resourceID string) (*models.Lease, error) {
	if resourceID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "resource is required")
	}

	lease, err := m.store.FindByResource(resourceID)
	if err != nil {
		return nil, m.unexpected("failed to query lease", err, resourceID)
	}
	if lease == nil || !lease.Valid(m.now()) {
		return nil, nil
	}
	return lease, nil
}

// validateAcquire rejects malformed acquisition requests.
func validateAcquire(resourceID, ownerID string, kind models.LeaseKind, reason string, duration time.Duration) error {
	if resourceID == "" || ownerID == "" {
		return apperrors.New(apperrors.ErrInvalid, "resource and owner are required")
	}
	if !kind.IsValid() {
		return apperrors.NewWithDetails(apperrors.ErrInvalid, "unknown lease kind",
			map[string]interface{}{"kind": string(kind)})
	}
	if reason == "" {
		return apperrors.New(apperrors.ErrInvalid, "a lock reason is required")
	}
	if len(reason) > models.MaxLeaseReasonLength {
		return apperrors.NewWithDetails(apperrors.ErrInvalid, "lock reason exceeds 200 characters",
			map[string]interface{}{"reason_length": len(reason)})
	}
	if duration < 0 || duration > models.MaxLeaseDuration {
		return apperrors.NewWithDetails(apperrors.ErrInvalid, "duration must be in (0, 8h]",
			map[string]interface{}{"duration_minutes": duration.Minutes()})
	}
	return nil
}

// alreadyLocked builds the typed conflict result for a held resource.
// Reporting is_own_lock is informational only.
func alreadyLocked(existing *models.Lease, callerID string) error {
	return apperrors.NewWithDetails(apperrors.ErrAlreadyLocked, "the resource is locked",
		map[string]interface{}{
			"resource_id": existing.ResourceID,
			"owner_id":    existing.OwnerID,
			"kind":        string(existing.Kind),
			"reason":      existing.Reason,
			"expires_at":  existing.ExpiresAt,
			"is_own_lock": existing.OwnerID == callerID,
		})
}

// forbidden builds the typed ownership failure.
func forbidden(lease *models.Lease, callerID string) error {
	return apperrors.NewWithDetails(apperrors.ErrForbidden, "only the lease owner may do that",
		map[string]interface{}{
			"resource_id": lease.ResourceID,
			"owner_id":    lease.OwnerID,
			"caller_id":   callerID,
		})
}

// unexpected logs a storage failure and wraps it for the caller.
func (m *Manager) unexpected(message string, err error, resourceID string) error {
	m.logger.ErrorWithCode(message, string(apperrors.ErrUnexpected), err,
		map[string]interface{}{"resource_id": resourceID})
	return apperrors.Wrap(apperrors.ErrUnexpected, message, err)
}
