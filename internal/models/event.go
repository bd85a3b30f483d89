// Package models provides data model definitions for the SchemaFlow
// collaboration core.
package models

import "time"

// ResourceKind identifies which record type a change or conflict applies to.
type ResourceKind string

const (
	ResourceKindLease        ResourceKind = "lease"
	ResourceKindTable        ResourceKind = "table"
	ResourceKindField        ResourceKind = "field"
	ResourceKindRelationship ResourceKind = "relationship"
)

// ChangeEventType is the row-level mutation type carried by the change feed.
type ChangeEventType string

const (
	ChangeEventInsert ChangeEventType = "insert"
	ChangeEventUpdate ChangeEventType = "update"
	ChangeEventDelete ChangeEventType = "delete"
)

// ChangeEvent is a row-level mutation pushed through the change feed for
// cross-client awareness. Events are consumed, never stored.
type ChangeEvent struct {
	EventType    ChangeEventType `json:"event_type"`
	ResourceKind ResourceKind    `json:"resource_kind"`
	Before       interface{}     `json:"before,omitempty"`
	After        interface{}     `json:"after,omitempty"`
	ActorID      string          `json:"actor_id"`
	ProjectID    string          `json:"project_id"`
	Timestamp    int64           `json:"timestamp"`
}

// Time returns the Timestamp as time.Time.
func (e *ChangeEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// RealTimeEventType classifies events derived from the change feed for
// local listeners.
type RealTimeEventType string

const (
	EventLeaseAcquired    RealTimeEventType = "lease_acquired"
	EventLeaseExtended    RealTimeEventType = "lease_extended"
	EventLeaseReleased    RealTimeEventType = "lease_released"
	EventResourceCreated  RealTimeEventType = "resource_created"
	EventResourceModified RealTimeEventType = "resource_modified"
	EventResourceDeleted  RealTimeEventType = "resource_deleted"
)

// RealTimeEvent is the locally derived view of a ChangeEvent, broadcast to
// registered listeners in arrival order.
type RealTimeEvent struct {
	Type         RealTimeEventType `json:"type"`
	ResourceKind ResourceKind      `json:"resource_kind"`
	ResourceID   string            `json:"resource_id"`
	ActorID      string            `json:"actor_id"`
	ProjectID    string            `json:"project_id"`
	Payload      interface{}       `json:"payload,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}
