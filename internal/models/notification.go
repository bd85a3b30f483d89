// Package models provides data model definitions for the SchemaFlow
// collaboration core.
package models

import "time"

// ActionKind distinguishes how the UI renders a notification action.
type ActionKind string

const (
	ActionKindPrimary   ActionKind = "primary"
	ActionKindSecondary ActionKind = "secondary"
	ActionKindDismiss   ActionKind = "dismiss"
)

// Action is a user-facing remediation offered on a notification.
type Action struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  ActionKind `json:"kind"`
}

// Notification is a session-local message produced from a conflict or a
// resolution suggestion. Notifications live in a bounded in-memory inbox and
// are never synchronized across clients.
type Notification struct {
	ID         UUID     `json:"id"`
	Severity   Severity `json:"severity"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Timestamp  int64    `json:"timestamp"`
	Read       bool     `json:"read"`
	Persistent bool     `json:"persistent"`
	Actions    []Action `json:"actions,omitempty"`
}

// Time returns the Timestamp as time.Time.
func (n *Notification) Time() time.Time {
	return time.Unix(n.Timestamp, 0)
}

// Actor identifies a collaborating user.
type Actor struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
