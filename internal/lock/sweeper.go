package lock

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/logging"
)

// ExpiredStore deletes leases whose expiry has passed and reports how many
// rows were reclaimed.
type ExpiredStore interface {
	DeleteExpired(now time.Time) (int, error)
}

// Sweeper periodically reclaims expired lease rows. Sweeping is pure
// hygiene: expired rows already read as unlocked everywhere, so the sweep
// interval affects storage size and delete-event latency, never
// correctness.
type Sweeper struct {
	store     ExpiredStore
	interval  time.Duration
	logger    *logging.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	lastSweep time.Time
	swept     int64
}

// NewSweeper creates a sweeper over the given store. A non-positive
// interval falls back to five minutes.
func NewSweeper(store ExpiredStore, interval time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Get()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	s.logger.Info("Lease sweeper started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop signals the loop and waits for it to drain.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Lease sweeper stopped", nil)
}

// SweepNow runs a single sweep immediately and returns the number of
// leases reclaimed.
func (s *Sweeper) SweepNow() (int, error) {
	count, err := s.store.DeleteExpired(time.Now())
	if err != nil {
		s.logger.ErrorWithCode("Lease sweep failed", string(apperrors.ErrDatabase), err, nil)
		return 0, err
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.swept += int64(count)
	s.mu.Unlock()

	if count > 0 {
		s.logger.Info("Expired leases reclaimed",
			map[string]interface{}{"count": count})
	}
	return count, nil
}

// IsRunning reports whether the sweep loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// TotalSwept returns the number of leases reclaimed since construction.
func (s *Sweeper) TotalSwept() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.swept
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			// A failed sweep is retried on the next tick.
			_, _ = s.SweepNow()
		}
	}
}
