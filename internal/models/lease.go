// Package models provides data model definitions for the SchemaFlow
// collaboration core.
package models

import "time"

// LeaseKind determines the default duration and blast radius of the
// operations a lease protects.
type LeaseKind string

const (
	LeaseKindOptimistic  LeaseKind = "optimistic"
	LeaseKindPessimistic LeaseKind = "pessimistic"
	LeaseKindCritical    LeaseKind = "critical"
)

// Lease duration policy. MaxLeaseDuration is an absolute cap measured from
// the original acquisition, regardless of how many extensions are requested.
const (
	OptimisticLeaseDuration  = 30 * time.Minute
	PessimisticLeaseDuration = 120 * time.Minute
	CriticalLeaseDuration    = 240 * time.Minute
	MaxLeaseDuration         = 8 * time.Hour
	MaxExtensionMinutes      = 120
	MaxLeaseReasonLength     = 200
)

// DefaultDuration returns the default lease duration for the kind.
// Unknown kinds fall back to the optimistic duration.
func (k LeaseKind) DefaultDuration() time.Duration {
	switch k {
	case LeaseKindPessimistic:
		return PessimisticLeaseDuration
	case LeaseKindCritical:
		return CriticalLeaseDuration
	default:
		return OptimisticLeaseDuration
	}
}

// IsValid reports whether the kind is a known lease kind.
func (k LeaseKind) IsValid() bool {
	switch k {
	case LeaseKindOptimistic, LeaseKindPessimistic, LeaseKindCritical:
		return true
	}
	return false
}

// Lease is a time-bounded exclusive claim on a resource. At most one valid
// (non-expired) lease exists per resource; validity is a pure function of
// ExpiresAt versus the current time, never a stored flag.
type Lease struct {
	ID         UUID      `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	OwnerID    string    `db:"owner_id" json:"owner_id"`
	Token      string    `db:"token" json:"token"`
	Kind       LeaseKind `db:"kind" json:"kind"`
	Reason     string    `db:"reason" json:"reason"`
	AcquiredAt int64     `db:"acquired_at" json:"acquired_at"`
	ExpiresAt  int64     `db:"expires_at" json:"expires_at"`
}

// TableName returns the table name for Lease.
func (Lease) TableName() string {
	return "leases"
}

// Valid reports whether the lease is still valid at the given instant.
func (l *Lease) Valid(now time.Time) bool {
	return l.ExpiresAt > now.Unix()
}

// Remaining returns the time left on the lease at the given instant.
// Expired leases return zero.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if !l.Valid(now) {
		return 0
	}
	return time.Duration(l.ExpiresAt-now.Unix()) * time.Second
}

// HardExpiry returns the absolute expiry cap for the lease.
func (l *Lease) HardExpiry() int64 {
	return l.AcquiredAt + int64(MaxLeaseDuration.Seconds())
}

// AcquiredAtTime returns AcquiredAt as time.Time.
func (l *Lease) AcquiredAtTime() time.Time {
	return time.Unix(l.AcquiredAt, 0)
}

// ExpiresAtTime returns ExpiresAt as time.Time.
func (l *Lease) ExpiresAtTime() time.Time {
	return time.Unix(l.ExpiresAt, 0)
}
