// Package notify fans conflict and advisor output out to the local
// session as user-facing notifications. Notifications belong to this
// client only; they are never synchronized across collaborators.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/uuid"
)

// DefaultInboxCapacity bounds the retained notification ring.
const DefaultInboxCapacity = 50

// Listener receives every dispatched notification.
type Listener func(models.Notification)

// Dispatcher delivers notifications to registered listeners and keeps a
// bounded inbox of recent ones. One dispatcher is constructed per session
// and passed by reference; there is no process-global registry.
type Dispatcher struct {
	logger *logging.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	inbox     []models.Notification
	capacity  int
}

// NewDispatcher creates a dispatcher with the given inbox capacity. A
// non-positive capacity falls back to DefaultInboxCapacity.
func NewDispatcher(capacity int, logger *logging.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &Dispatcher{
		logger:    logger,
		listeners: make(map[int]Listener),
		capacity:  capacity,
	}
}

// AddListener registers a listener and returns its unsubscribe function.
func (d *Dispatcher) AddListener(fn Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.listeners, id)
		})
	}
}

// Notify stores the notification in the inbox and invokes every listener.
// A panicking listener is logged and skipped so one bad listener cannot
// break delivery to the others.
func (d *Dispatcher) Notify(notification models.Notification) models.Notification {
	if notification.ID == "" {
		notification.ID = models.UUID(uuid.New())
	}
	if notification.Timestamp == 0 {
		notification.Timestamp = time.Now().Unix()
	}

	d.mu.Lock()
	d.inbox = append(d.inbox, notification)
	if overflow := len(d.inbox) - d.capacity; overflow > 0 {
		d.inbox = append(d.inbox[:0:0], d.inbox[overflow:]...)
	}
	fns := make([]Listener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Error("Notification listener panicked", nil,
						map[string]interface{}{
							"notification_id": notification.ID.String(),
							"panic":           rec,
						})
				}
			}()
			fn(notification)
		}()
	}

	return notification
}

// NotifyConflict builds a notification from a detected conflict and
// dispatches it.
func (d *Dispatcher) NotifyConflict(conflict models.Conflict, currentActorID string) models.Notification {
	return d.Notify(FromConflict(conflict, currentActorID))
}

// List returns the inbox newest-first.
func (d *Dispatcher) List() []models.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.Notification, len(d.inbox))
	for i, n := range d.inbox {
		out[len(d.inbox)-1-i] = n
	}
	return out
}

// MarkRead flags a notification as read. Returns false when the id is no
// longer in the inbox.
func (d *Dispatcher) MarkRead(id models.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.inbox {
		if d.inbox[i].ID == id {
			d.inbox[i].Read = true
			return true
		}
	}
	return false
}

// ClearRead drops read non-persistent notifications and returns how many
// were removed. Persistent notifications survive until the inbox ring
// evicts them.
func (d *Dispatcher) ClearRead() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.inbox[:0]
	removed := 0
	for _, n := range d.inbox {
		if n.Read && !n.Persistent {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	d.inbox = kept
	return removed
}

// Unread returns the number of unread notifications.
func (d *Dispatcher) Unread() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, n := range d.inbox {
		if !n.Read {
			count++
		}
	}
	return count
}

// FromConflict derives the user-facing notification for a conflict.
// Critical conflicts are persistent; actions depend on the conflict type,
// and every notification carries a terminal cancel action.
func FromConflict(conflict models.Conflict, currentActorID string) models.Notification {
	notification := models.Notification{
		ID:         models.UUID(uuid.New()),
		Severity:   conflict.Severity,
		Title:      conflict.Title,
		Message:    conflict.Description,
		Timestamp:  time.Now().Unix(),
		Persistent: conflict.Severity == models.SeverityCritical,
	}

	switch conflict.Type {
	case models.ConflictResourceLocked:
		if conflict.ConflictingActorID != "" && conflict.ConflictingActorID != currentActorID {
			notification.Actions = append(notification.Actions, models.Action{
				ID:    "request_lock",
				Label: "Request Lock",
				Kind:  models.ActionKindPrimary,
			})
		}
	case models.ConflictConcurrentEdit:
		notification.Actions = append(notification.Actions,
			models.Action{ID: "review_changes", Label: "Review Changes", Kind: models.ActionKindPrimary},
			models.Action{ID: "proceed_anyway", Label: "Proceed Anyway", Kind: models.ActionKindSecondary},
		)
	case models.ConflictSchemaModified, models.ConflictFieldConflict:
		notification.Actions = append(notification.Actions, models.Action{
			ID:    "rename_resource",
			Label: "Rename",
			Kind:  models.ActionKindPrimary,
		})
	}

	notification.Actions = append(notification.Actions, models.Action{
		ID:    "cancel",
		Label: "Cancel",
		Kind:  models.ActionKindDismiss,
	})

	return notification
}

// FromResolution derives a notification recommending the suggested
// resolution for a detection result.
func FromResolution(resolution models.Resolution, resourceID string) models.Notification {
	return models.Notification{
		ID:        models.UUID(uuid.New()),
		Severity:  models.SeverityMedium,
		Title:     "Suggested resolution",
		Message:   fmt.Sprintf("Recommended action for this conflict: %s.", resolutionLabel(resolution)),
		Timestamp: time.Now().Unix(),
		Actions: []models.Action{
			{ID: string(resolution), Label: resolutionLabel(resolution), Kind: models.ActionKindPrimary},
			{ID: "cancel", Label: "Cancel", Kind: models.ActionKindDismiss},
		},
	}
}

func resolutionLabel(resolution models.Resolution) string {
	switch resolution {
	case models.ResolutionCancelOperation:
		return "Cancel Operation"
	case models.ResolutionRequestLock:
		return "Request Lock"
	case models.ResolutionRenameResource:
		return "Rename Resource"
	case models.ResolutionMergeChanges:
		return "Merge Changes"
	case models.ResolutionSaveAsCopy:
		return "Save As Copy"
	case models.ResolutionForceOverride:
		return "Force Override"
	default:
		return "Proceed"
	}
}
