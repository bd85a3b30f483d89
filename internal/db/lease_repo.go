// Package db provides the lease store repository.
package db

import (
	"database/sql"
	"sync"
	"time"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/models"
)

// LeaseRepo provides lease row operations. Every mutation publishes a
// ChangeEvent to the feed so other clients observe lock activity in real
// time.
type LeaseRepo struct {
	db   *sql.DB
	feed *Feed

	// Prepared statement cache for the hot read paths.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewLeaseRepo creates a new LeaseRepo publishing to the given feed.
func NewLeaseRepo(db *sql.DB, feed *Feed) *LeaseRepo {
	return &LeaseRepo{db: db, feed: feed}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (r *LeaseRepo) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare statement", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *LeaseRepo) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Insert inserts the lease if and only if no valid lease exists for the
// resource. The existence check and the insert execute as one atomic
// statement, so exactly one of two concurrent inserts for the same resource
// succeeds; the loser gets CONSTRAINT_VIOLATION. Expired rows for the
// resource are reclaimed lazily in the same transaction.
func (r *LeaseRepo) Insert(lease *models.Lease) error {
	now := time.Now().Unix()

	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin lease insert", err)
	}
	defer tx.Rollback()

	// Lazy garbage collection of aged-out rows for this resource.
	if _, err := tx.Exec(`DELETE FROM leases WHERE resource_id = ? AND expires_at <= ?`,
		lease.ResourceID, now); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to reclaim expired leases", err)
	}

	query := `
	INSERT INTO leases (id, resource_id, owner_id, token, kind, reason, acquired_at, expires_at)
	SELECT ?, ?, ?, ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM leases WHERE resource_id = ? AND expires_at > ?
	)
	`
	result, err := tx.Exec(query,
		lease.ID, lease.ResourceID, lease.OwnerID, lease.Token,
		lease.Kind, lease.Reason, lease.AcquiredAt, lease.ExpiresAt,
		lease.ResourceID, now)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert lease", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read insert result", err)
	}
	if rows == 0 {
		return apperrors.NewWithDetails(apperrors.ErrConstraint,
			"a valid lease already exists for the resource",
			map[string]interface{}{"resource_id": lease.ResourceID})
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit lease insert", err)
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventInsert,
		ResourceKind: models.ResourceKindLease,
		After:        *lease,
		ActorID:      lease.OwnerID,
	})
	return nil
}

// FindByResource returns the lease row for the resource, or nil when none
// exists. Expired rows are returned as-is; validity is the caller's call
// (the lock manager reports ownership on AlreadyLocked, the sweep reclaims).
func (r *LeaseRepo) FindByResource(resourceID string) (*models.Lease, error) {
	query := `
	SELECT id, resource_id, owner_id, token, kind, reason, acquired_at, expires_at
	FROM leases WHERE resource_id = ?
	ORDER BY expires_at DESC LIMIT 1
	`
	stmt, err := r.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	return r.scanLease(stmt.QueryRow(resourceID))
}

// FindByToken returns the lease row matching (resource, token), or nil.
func (r *LeaseRepo) FindByToken(resourceID, token string) (*models.Lease, error) {
	query := `
	SELECT id, resource_id, owner_id, token, kind, reason, acquired_at, expires_at
	FROM leases WHERE resource_id = ? AND token = ?
	`
	stmt, err := r.prepareStmt(query)
	if err != nil {
		return nil, err
	}
	return r.scanLease(stmt.QueryRow(resourceID, token))
}

// scanLease scans a single lease row, mapping sql.ErrNoRows to (nil, nil).
func (r *LeaseRepo) scanLease(row *sql.Row) (*models.Lease, error) {
	var lease models.Lease
	err := row.Scan(&lease.ID, &lease.ResourceID, &lease.OwnerID, &lease.Token,
		&lease.Kind, &lease.Reason, &lease.AcquiredAt, &lease.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan lease", err)
	}
	return &lease, nil
}

// UpdateExpiry sets a new expiry on the lease and publishes an update event.
func (r *LeaseRepo) UpdateExpiry(lease *models.Lease, expiresAt int64) error {
	before := *lease

	result, err := r.db.Exec(`UPDATE leases SET expires_at = ? WHERE id = ?`,
		expiresAt, lease.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update lease expiry", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read update result", err)
	}
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "lease no longer exists")
	}

	lease.ExpiresAt = expiresAt
	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventUpdate,
		ResourceKind: models.ResourceKindLease,
		Before:       before,
		After:        *lease,
		ActorID:      lease.OwnerID,
	})
	return nil
}

// Delete removes the lease row and publishes a delete event.
func (r *LeaseRepo) Delete(lease *models.Lease) error {
	result, err := r.db.Exec(`DELETE FROM leases WHERE id = ?`, lease.ID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete lease", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read delete result", err)
	}
	if rows == 0 {
		return apperrors.New(apperrors.ErrNotFound, "lease no longer exists")
	}

	r.feed.Publish(models.ChangeEvent{
		EventType:    models.ChangeEventDelete,
		ResourceKind: models.ResourceKindLease,
		Before:       *lease,
		ActorID:      lease.OwnerID,
	})
	return nil
}

// DeleteExpired reclaims every aged-out lease row and publishes a delete
// event per reclaimed lease, so other clients see stale locks disappear.
// Returns the number of rows reclaimed.
func (r *LeaseRepo) DeleteExpired(now time.Time) (int, error) {
	cutoff := now.Unix()

	rows, err := r.db.Query(`
	SELECT id, resource_id, owner_id, token, kind, reason, acquired_at, expires_at
	FROM leases WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to list expired leases", err)
	}

	var expired []models.Lease
	for rows.Next() {
		var lease models.Lease
		if err := rows.Scan(&lease.ID, &lease.ResourceID, &lease.OwnerID, &lease.Token,
			&lease.Kind, &lease.Reason, &lease.AcquiredAt, &lease.ExpiresAt); err != nil {
			rows.Close()
			return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan expired lease", err)
		}
		expired = append(expired, lease)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate expired leases", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	if _, err := r.db.Exec(`DELETE FROM leases WHERE expires_at <= ?`, cutoff); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete expired leases", err)
	}

	for i := range expired {
		r.feed.Publish(models.ChangeEvent{
			EventType:    models.ChangeEventDelete,
			ResourceKind: models.ResourceKindLease,
			Before:       expired[i],
			ActorID:      expired[i].OwnerID,
		})
	}
	return len(expired), nil
}
