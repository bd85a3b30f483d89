package conflict

import "testing"

func TestMemoryLastSeen(t *testing.T) {
	c := NewMemoryLastSeen()

	if _, ok := c.Get("table-1"); ok {
		t.Error("Fresh cache should have no observations")
	}

	c.Touch("table-1", 100)
	if ts, ok := c.Get("table-1"); !ok || ts != 100 {
		t.Errorf("Get = (%d, %v), want (100, true)", ts, ok)
	}

	// Observations only move forward.
	c.Touch("table-1", 50)
	if ts, _ := c.Get("table-1"); ts != 100 {
		t.Errorf("Stale touch moved observation back to %d", ts)
	}
	c.Touch("table-1", 200)
	if ts, _ := c.Get("table-1"); ts != 200 {
		t.Errorf("Get = %d, want 200", ts)
	}

	c.Forget("table-1")
	if _, ok := c.Get("table-1"); ok {
		t.Error("Forget should drop the observation")
	}
}

func TestMemoryLastSeenForgetUnknown(t *testing.T) {
	c := NewMemoryLastSeen()
	c.Forget("never-seen") // must not panic
}
