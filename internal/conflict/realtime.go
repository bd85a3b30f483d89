package conflict

import (
	"sync"

	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
)

// EventListener receives derived real-time events. Listeners run on the
// dispatch goroutine in arrival order and must not block; hand off to
// your own queue for slow work.
type EventListener func(models.RealTimeEvent)

// FeedSource is a subscribable change feed.
type FeedSource interface {
	Subscribe(kinds ...models.ResourceKind) (<-chan models.ChangeEvent, func())
}

// EventRouter holds the standing change-feed subscription and fans out
// derived RealTimeEvents to registered listeners. Dispatch is
// single-threaded per router to preserve arrival ordering.
type EventRouter struct {
	feed   FeedSource
	logger *logging.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[models.RealTimeEventType]map[int]EventListener

	unsubscribe func()
	done        chan struct{}
	running     bool
}

// NewEventRouter creates a router over the given feed.
func NewEventRouter(feed FeedSource, logger *logging.Logger) *EventRouter {
	if logger == nil {
		logger = logging.Get()
	}
	return &EventRouter{
		feed:      feed,
		logger:    logger,
		listeners: make(map[models.RealTimeEventType]map[int]EventListener),
	}
}

// Start subscribes to the feed for lease, table, field, and relationship
// changes and launches the dispatch loop. Starting a running router is a
// no-op.
func (r *EventRouter) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true

	events, unsubscribe := r.feed.Subscribe(
		models.ResourceKindLease,
		models.ResourceKindTable,
		models.ResourceKindField,
		models.ResourceKindRelationship,
	)
	r.unsubscribe = unsubscribe
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.dispatchLoop(events)

	r.logger.Info("Real-time event router started", nil)
}

// Stop cancels the subscription and waits for the dispatch loop to drain.
func (r *EventRouter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	unsubscribe := r.unsubscribe
	done := r.done
	r.mu.Unlock()

	unsubscribe()
	<-done

	r.logger.Info("Real-time event router stopped", nil)
}

// AddEventListener registers a listener for one derived event type and
// returns its unsubscribe function. Unsubscribing twice is harmless.
func (r *EventRouter) AddEventListener(eventType models.RealTimeEventType, fn EventListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners[eventType] == nil {
		r.listeners[eventType] = make(map[int]EventListener)
	}
	id := r.nextID
	r.nextID++
	r.listeners[eventType][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners[eventType], id)
		})
	}
}

func (r *EventRouter) dispatchLoop(events <-chan models.ChangeEvent) {
	defer close(r.done)

	for change := range events {
		event, ok := DeriveEvent(change)
		if !ok {
			continue
		}
		r.dispatch(event)
	}
}

// dispatch invokes every listener for the event type synchronously. A
// panicking listener is logged and skipped so it cannot break delivery
// to the others.
func (r *EventRouter) dispatch(event models.RealTimeEvent) {
	r.mu.RLock()
	fns := make([]EventListener, 0, len(r.listeners[event.Type]))
	for _, fn := range r.listeners[event.Type] {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Event listener panicked", nil,
						map[string]interface{}{
							"event_type": string(event.Type),
							"panic":      rec,
						})
				}
			}()
			fn(event)
		}()
	}
}

// DeriveEvent maps a raw change-feed event to its local real-time view.
// Lease rows map to acquire/extend/release; registry rows map to
// create/modify/delete.
func DeriveEvent(change models.ChangeEvent) (models.RealTimeEvent, bool) {
	event := models.RealTimeEvent{
		ResourceKind: change.ResourceKind,
		ResourceID:   resourceIDOf(change),
		ActorID:      change.ActorID,
		ProjectID:    change.ProjectID,
		Timestamp:    change.Timestamp,
	}

	if change.ResourceKind == models.ResourceKindLease {
		switch change.EventType {
		case models.ChangeEventInsert:
			event.Type = models.EventLeaseAcquired
			event.Payload = change.After
		case models.ChangeEventUpdate:
			event.Type = models.EventLeaseExtended
			event.Payload = change.After
		case models.ChangeEventDelete:
			event.Type = models.EventLeaseReleased
			event.Payload = change.Before
		default:
			return models.RealTimeEvent{}, false
		}
		return event, true
	}

	switch change.EventType {
	case models.ChangeEventInsert:
		event.Type = models.EventResourceCreated
		event.Payload = change.After
	case models.ChangeEventUpdate:
		event.Type = models.EventResourceModified
		event.Payload = change.After
	case models.ChangeEventDelete:
		event.Type = models.EventResourceDeleted
		event.Payload = change.Before
	default:
		return models.RealTimeEvent{}, false
	}
	return event, true
}

// resourceIDOf extracts the row identifier from whichever side of the
// change carries it.
func resourceIDOf(change models.ChangeEvent) string {
	for _, side := range []interface{}{change.After, change.Before} {
		switch v := side.(type) {
		case models.Lease:
			if change.ResourceKind == models.ResourceKindLease {
				return v.ResourceID
			}
		case models.Table:
			return v.ID.String()
		case models.Field:
			return v.ID.String()
		case models.Relationship:
			return v.ID.String()
		}
	}
	return ""
}
