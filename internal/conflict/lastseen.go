package conflict

import "sync"

// LastSeenCache records when the local session last observed each
// resource. The concurrent-edit check compares a resource's last-modified
// timestamp against this cache. The cache is per-client advisory state:
// staleness or absence only affects warnings, never correctness.
type LastSeenCache interface {
	// Get returns the unix timestamp at which the resource was last
	// observed, and whether an observation exists at all.
	Get(resourceID string) (int64, bool)

	// Touch records that the resource was observed at the given time.
	Touch(resourceID string, seenAt int64)

	// Forget drops the observation for a resource, typically after the
	// resource is deleted.
	Forget(resourceID string)
}

// MemoryLastSeen is an in-memory LastSeenCache.
type MemoryLastSeen struct {
	mu   sync.RWMutex
	seen map[string]int64
}

// NewMemoryLastSeen creates an empty cache.
func NewMemoryLastSeen() *MemoryLastSeen {
	return &MemoryLastSeen{seen: make(map[string]int64)}
}

func (c *MemoryLastSeen) Get(resourceID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.seen[resourceID]
	return ts, ok
}

func (c *MemoryLastSeen) Touch(resourceID string, seenAt int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.seen[resourceID]; ok && current >= seenAt {
		return
	}
	c.seen[resourceID] = seenAt
}

func (c *MemoryLastSeen) Forget(resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, resourceID)
}
