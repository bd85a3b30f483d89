package lock

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/schemaflow/backend/internal/logging"
)

// fakeExpiredStore counts sweep calls and returns a scripted result.
type fakeExpiredStore struct {
	mu    sync.Mutex
	calls int
	count int
	err   error
	swept chan struct{}
}

func (f *fakeExpiredStore) DeleteExpired(now time.Time) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.swept != nil {
		select {
		case f.swept <- struct{}{}:
		default:
		}
	}
	return f.count, f.err
}

func (f *fakeExpiredStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *logging.Logger {
	return logging.New(io.Discard, logging.LevelError)
}

func TestSweepNow(t *testing.T) {
	store := &fakeExpiredStore{count: 3}
	s := NewSweeper(store, time.Minute, quietLogger())

	count, err := s.SweepNow()
	if err != nil {
		t.Fatalf("SweepNow failed: %v", err)
	}
	if count != 3 {
		t.Errorf("SweepNow = %d, want 3", count)
	}
	if s.TotalSwept() != 3 {
		t.Errorf("TotalSwept = %d, want 3", s.TotalSwept())
	}
}

func TestSweepNowPropagatesError(t *testing.T) {
	store := &fakeExpiredStore{err: errors.New("disk gone")}
	s := NewSweeper(store, time.Minute, quietLogger())

	if _, err := s.SweepNow(); err == nil {
		t.Fatal("Expected an error from a failing store")
	}
	if s.TotalSwept() != 0 {
		t.Errorf("TotalSwept = %d, want 0 after failed sweep", s.TotalSwept())
	}
}

func TestSweeperLoopTicks(t *testing.T) {
	store := &fakeExpiredStore{count: 1, swept: make(chan struct{}, 1)}
	s := NewSweeper(store, 10*time.Millisecond, quietLogger())

	s.Start(context.Background())
	defer s.Stop()

	if !s.IsRunning() {
		t.Fatal("Sweeper should be running after Start")
	}

	select {
	case <-store.swept:
	case <-time.After(2 * time.Second):
		t.Fatal("Sweeper never ticked")
	}
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	store := &fakeExpiredStore{}
	s := NewSweeper(store, time.Minute, quietLogger())

	s.Start(context.Background())
	s.Start(context.Background()) // no-op on a running sweeper
	s.Stop()
	s.Stop() // no-op on a stopped sweeper

	if s.IsRunning() {
		t.Error("Sweeper should not be running after Stop")
	}
}

func TestSweeperHonorsContext(t *testing.T) {
	store := &fakeExpiredStore{}
	s := NewSweeper(store, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	// The loop exits on context cancellation; Stop still drains cleanly.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
