// Package db provides the in-process change feed over store mutations.
package db

import (
	"sync"
	"time"

	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
)

// Feed pushes row-level ChangeEvents from the store to subscribers. Each
// subscriber gets its own buffered channel; publish order is preserved per
// subscriber. A slow subscriber drops its oldest events rather than ever
// blocking a publisher.
type Feed struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]*feedSubscriber
	buffer      int
	closed      bool
}

type feedSubscriber struct {
	ch    chan models.ChangeEvent
	kinds map[models.ResourceKind]bool // empty means all kinds
}

// NewFeed creates a change feed with the given per-subscriber buffer size.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		subscribers: make(map[int]*feedSubscriber),
		buffer:      buffer,
	}
}

// Subscribe registers a subscriber filtered to the given resource kinds
// (no kinds means all). It returns the event channel and an unsubscribe
// function; unsubscribing closes the channel.
func (f *Feed) Subscribe(kinds ...models.ResourceKind) (<-chan models.ChangeEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &feedSubscriber{
		ch:    make(chan models.ChangeEvent, f.buffer),
		kinds: make(map[models.ResourceKind]bool, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	if f.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subscribers[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if s, ok := f.subscribers[id]; ok {
				delete(f.subscribers, id)
				close(s.ch)
			}
		})
	}

	return sub.ch, unsubscribe
}

// Publish delivers an event to every matching subscriber. Publishing never
// blocks: when a subscriber's buffer is full its oldest event is dropped to
// make room, and the drop is logged.
func (f *Feed) Publish(event models.ChangeEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	for _, sub := range f.subscribers {
		if len(sub.kinds) > 0 && !sub.kinds[event.ResourceKind] {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			select {
			case dropped := <-sub.ch:
				logging.Warn("Change feed subscriber lagging, dropped oldest event",
					map[string]interface{}{
						"dropped_kind": string(dropped.ResourceKind),
						"dropped_type": string(dropped.EventType),
					})
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

// Close shuts down the feed and closes every subscriber channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for id, sub := range f.subscribers {
		delete(f.subscribers, id)
		close(sub.ch)
	}
}
