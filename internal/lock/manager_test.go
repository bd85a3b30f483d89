// Package lock tests for lease acquisition, extension, and release.
package lock

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schemaflow/backend/internal/db"
	apperrors "github.com/schemaflow/backend/internal/errors"
	"github.com/schemaflow/backend/internal/logging"
	"github.com/schemaflow/backend/internal/models"
)

// newTestManager builds a manager over a real migrated store in a per-test
// temp directory.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	feed := db.NewFeed(16)
	repo := db.NewLeaseRepo(database.DB, feed)
	t.Cleanup(func() {
		repo.Close()
		feed.Close()
		database.Close()
	})

	return NewManager(repo, logging.New(io.Discard, logging.LevelError))
}

func TestAcquireAppliesKindDefaults(t *testing.T) {
	tests := []struct {
		name string
		kind models.LeaseKind
		want time.Duration
	}{
		{"optimistic default", models.LeaseKindOptimistic, 30 * time.Minute},
		{"pessimistic default", models.LeaseKindPessimistic, 120 * time.Minute},
		{"critical default", models.LeaseKindCritical, 240 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)

			lease, err := m.Acquire("table-1", "actor-1", tt.kind, "schema edit", 0)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			got := time.Duration(lease.ExpiresAt-lease.AcquiredAt) * time.Second
			if got != tt.want {
				t.Errorf("Lease duration = %v, want %v", got, tt.want)
			}
			if lease.Token == "" {
				t.Error("Expected a non-empty lease token")
			}
			if lease.ID == "" {
				t.Error("Expected a non-empty lease ID")
			}
		})
	}
}

func TestAcquireValidation(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name       string
		resourceID string
		ownerID    string
		kind       models.LeaseKind
		reason     string
		duration   time.Duration
	}{
		{"empty resource", "", "actor-1", models.LeaseKindOptimistic, "edit", 0},
		{"empty owner", "table-1", "", models.LeaseKindOptimistic, "edit", 0},
		{"unknown kind", "table-1", "actor-1", models.LeaseKind("exclusive"), "edit", 0},
		{"empty reason", "table-1", "actor-1", models.LeaseKindOptimistic, "", 0},
		{"reason too long", "table-1", "actor-1", models.LeaseKindOptimistic, strings.Repeat("x", 201), 0},
		{"negative duration", "table-1", "actor-1", models.LeaseKindOptimistic, "edit", -time.Minute},
		{"duration over cap", "table-1", "actor-1", models.LeaseKindOptimistic, "edit", 9 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Acquire(tt.resourceID, tt.ownerID, tt.kind, tt.reason, tt.duration)
			if !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("Expected INVALID_REQUEST, got %v", err)
			}
		})
	}
}

func TestAcquireHeldResource(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Acquire("table-1", "actor-1", models.LeaseKindPessimistic, "schema edit", 0); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	// A second actor is rejected and told who holds the lock.
	_, err := m.Acquire("table-1", "actor-2", models.LeaseKindOptimistic, "adding field", 0)
	if !apperrors.Is(err, apperrors.ErrAlreadyLocked) {
		t.Fatalf("Expected ALREADY_LOCKED, got %v", err)
	}
	if own, _ := apperrors.Detail(err, "is_own_lock"); own != false {
		t.Errorf("is_own_lock = %v, want false", own)
	}
	if owner, _ := apperrors.Detail(err, "owner_id"); owner != "actor-1" {
		t.Errorf("owner_id detail = %v, want actor-1", owner)
	}

	// Ownership does not grant re-entrancy.
	_, err = m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "another edit", 0)
	if !apperrors.Is(err, apperrors.ErrAlreadyLocked) {
		t.Fatalf("Expected ALREADY_LOCKED for own re-acquire, got %v", err)
	}
	if own, _ := apperrors.Detail(err, "is_own_lock"); own != true {
		t.Errorf("is_own_lock = %v, want true", own)
	}

	// A different resource is unaffected.
	if _, err := m.Acquire("table-2", "actor-2", models.LeaseKindOptimistic, "adding field", 0); err != nil {
		t.Errorf("Acquire on free resource failed: %v", err)
	}
}

func TestConcurrentAcquireMutualExclusion(t *testing.T) {
	m := newTestManager(t)

	const actors = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		leases []*models.Lease
		locked int
	)

	wg.Add(actors)
	for i := 0; i < actors; i++ {
		go func(i int) {
			defer wg.Done()
			lease, err := m.Acquire("table-1", "actor-"+string(rune('a'+i)), models.LeaseKindOptimistic, "edit", 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				leases = append(leases, lease)
			case apperrors.Is(err, apperrors.ErrAlreadyLocked):
				locked++
			default:
				t.Errorf("Unexpected acquire error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(leases) != 1 {
		t.Fatalf("Expected exactly 1 successful acquire, got %d", len(leases))
	}
	if locked != actors-1 {
		t.Errorf("Expected %d ALREADY_LOCKED results, got %d", actors-1, locked)
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	m := newTestManager(t)

	past := time.Now().Add(-10 * time.Minute)
	m.now = func() time.Time { return past }

	if _, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 5*time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// The old lease aged out; a new actor may claim the resource.
	m.now = time.Now
	lease, err := m.Acquire("table-1", "actor-2", models.LeaseKindOptimistic, "edit", 0)
	if err != nil {
		t.Fatalf("Acquire over expired lease failed: %v", err)
	}
	if lease.OwnerID != "actor-2" {
		t.Errorf("Lease owner = %s, want actor-2", lease.OwnerID)
	}
}

func TestReleaseLifecycle(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindPessimistic, "schema edit", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Non-owner release is rejected.
	err = m.Release("table-1", "actor-2", lease.Token)
	if !apperrors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("Expected FORBIDDEN for non-owner release, got %v", err)
	}

	if err := m.Release("table-1", "actor-1", lease.Token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Releasing again reports NOT_FOUND rather than succeeding silently.
	err = m.Release("table-1", "actor-1", lease.Token)
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Expected NOT_FOUND on double release, got %v", err)
	}

	// The resource is free for anyone now.
	if _, err := m.Acquire("table-1", "actor-2", models.LeaseKindOptimistic, "edit", 0); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestReleaseUnknownToken(t *testing.T) {
	m := newTestManager(t)

	err := m.Release("table-1", "actor-1", "no-such-token")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestExtendPushesExpiry(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	originalExpiry := lease.ExpiresAt

	extended, err := m.Extend("table-1", "actor-1", lease.Token, 30)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if extended.ExpiresAt != originalExpiry+30*60 {
		t.Errorf("ExpiresAt = %d, want %d", extended.ExpiresAt, originalExpiry+30*60)
	}
	if extended.ExpiresAt < originalExpiry {
		t.Error("Extension decreased expiry")
	}
}

func TestExtendCappedAtHardExpiry(t *testing.T) {
	m := newTestManager(t)

	// Acquired at full duration; one minute later an oversized extension
	// lands exactly on the absolute cap, not beyond it.
	acquired := time.Now().Add(-time.Minute)
	m.now = func() time.Time { return acquired }

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindCritical, "migration", models.MaxLeaseDuration)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m.now = time.Now
	extended, err := m.Extend("table-1", "actor-1", lease.Token, 500)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if want := lease.HardExpiry(); extended.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want hard cap %d", extended.ExpiresAt, want)
	}
	if got := extended.ExpiresAt - extended.AcquiredAt; got > int64(models.MaxLeaseDuration.Seconds()) {
		t.Errorf("Lease lifetime %ds exceeds the 8h cap", got)
	}
}

func TestExtendRepeatedStaysUnderCap(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindCritical, "migration", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	prev := lease.ExpiresAt
	for i := 0; i < 6; i++ {
		extended, err := m.Extend("table-1", "actor-1", lease.Token, 120)
		if err != nil {
			t.Fatalf("Extend %d failed: %v", i, err)
		}
		if extended.ExpiresAt < prev {
			t.Fatalf("Extension %d decreased expiry", i)
		}
		prev = extended.ExpiresAt
	}

	if prev != lease.HardExpiry() {
		t.Errorf("Final expiry = %d, want hard cap %d", prev, lease.HardExpiry())
	}
}

func TestExtendValidation(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	for _, minutes := range []int{0, -30} {
		if _, err := m.Extend("table-1", "actor-1", lease.Token, minutes); !apperrors.Is(err, apperrors.ErrInvalid) {
			t.Errorf("Extend(%d): expected INVALID_REQUEST, got %v", minutes, err)
		}
	}
}

func TestExtendExpiredLease(t *testing.T) {
	m := newTestManager(t)

	past := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return past }

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 5*time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// An expired lease can never be resurrected, even by its owner.
	m.now = time.Now
	_, err = m.Extend("table-1", "actor-1", lease.Token, 30)
	if !apperrors.Is(err, apperrors.ErrLockExpired) {
		t.Errorf("Expected LOCK_EXPIRED, got %v", err)
	}
}

func TestExtendForeignLease(t *testing.T) {
	m := newTestManager(t)

	lease, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	_, err = m.Extend("table-1", "actor-2", lease.Token, 30)
	if !apperrors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("Expected FORBIDDEN, got %v", err)
	}
}

func TestExtendUnknownToken(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Extend("table-1", "actor-1", "no-such-token", 30)
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestQueryExcludesExpired(t *testing.T) {
	m := newTestManager(t)

	if lease, err := m.Query("table-1"); err != nil || lease != nil {
		t.Fatalf("Query on free resource = (%v, %v), want (nil, nil)", lease, err)
	}

	past := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return past }
	if _, err := m.Acquire("table-1", "actor-1", models.LeaseKindOptimistic, "edit", 5*time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Expired rows read as unlocked without being mutated.
	m.now = time.Now
	lease, err := m.Query("table-1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if lease != nil {
		t.Errorf("Query returned expired lease %+v, want nil", lease)
	}
}

func TestQueryReturnsValidLease(t *testing.T) {
	m := newTestManager(t)

	acquired, err := m.Acquire("table-1", "actor-1", models.LeaseKindPessimistic, "schema edit", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lease, err := m.Query("table-1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if lease == nil {
		t.Fatal("Query returned nil for a held resource")
	}
	if lease.ID != acquired.ID || lease.OwnerID != "actor-1" {
		t.Errorf("Query returned wrong lease: %+v", lease)
	}
}
