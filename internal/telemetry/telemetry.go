// Package telemetry keeps in-process counters for the collaboration
// session. Counters are local diagnostics only; nothing is ever
// transmitted off the machine.
package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates named counters and timings for one session.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]*int64
	started  time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]*int64),
		started:  time.Now(),
	}
}

// Incr adds one to the named counter.
func (c *Collector) Incr(name string) {
	c.Add(name, 1)
}

// Add adds delta to the named counter.
func (c *Collector) Add(name string, delta int64) {
	atomic.AddInt64(c.counter(name), delta)
}

// Get returns the current value of the named counter.
func (c *Collector) Get(name string) int64 {
	return atomic.LoadInt64(c.counter(name))
}

// Snapshot returns every counter with a stable key order, plus the
// session uptime in seconds.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.RLock()
	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string]int64, len(names)+1)
	for _, name := range names {
		out[name] = c.Get(name)
	}
	out["uptime_seconds"] = int64(time.Since(c.started).Seconds())
	return out
}

func (c *Collector) counter(name string) *int64 {
	c.mu.RLock()
	v, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.counters[name]; ok {
		return v
	}
	v = new(int64)
	c.counters[name] = v
	return v
}

// Counter names used across the daemon.
const (
	CounterLocksAcquired     = "locks_acquired"
	CounterLocksReleased     = "locks_released"
	CounterLocksExtended     = "locks_extended"
	CounterLocksRejected     = "locks_rejected"
	CounterDetections        = "detections"
	CounterConflictsFound    = "conflicts_found"
	CounterLeasesSwept       = "leases_swept"
	CounterEventsBroadcast   = "events_broadcast"
	CounterNotificationsSent = "notifications_sent"
)
