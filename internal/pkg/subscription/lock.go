package subscription

import (
	"strconv"
	"time"

	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/env"
)

// DefaultLockTTL bounds the unavailability window after a crashed executor.
// A reader observing an older lock treats the record as unlocked.
const DefaultLockTTL = 5 * time.Minute

// LockManager acquires and releases the per-subscription processing lock via
// conditional writes. Acquisition never blocks or queues: contention is an
// immediate PROCESSING_CHANGE error, pushing retry responsibility to the
// caller.
type LockManager struct {
	repo repository.SubscriptionRepository
	ttl  time.Duration
}

// NewLockManager creates a lock manager with the given TTL.
func NewLockManager(repo repository.SubscriptionRepository, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockManager{repo: repo, ttl: ttl}
}

// LockTTLFromEnv reads SUB_LOCK_TTL_MINUTES, falling back to the default.
func LockTTLFromEnv() time.Duration {
	raw := env.GetEnv("SUB_LOCK_TTL_MINUTES", "")
	if raw == "" {
		return DefaultLockTTL
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return DefaultLockTTL
	}
	return time.Duration(minutes) * time.Minute
}

// TTL returns the configured lock TTL.
func (m *LockManager) TTL() time.Duration {
	return m.ttl
}

// Acquire claims the processing lock for a subscription.
func (m *LockManager) Acquire(userID uint, now time.Time) error {
	ok, err := m.repo.AcquireProcessing(userID, now, m.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return NewTransitionError(CodeProcessingChange, "another change is being processed, retry shortly")
	}
	return nil
}

// Release clears the processing lock. Used on rejection and abort paths;
// successful commits release the lock atomically inside CommitMutation.
func (m *LockManager) Release(userID uint) error {
	return m.repo.ReleaseProcessing(userID)
}
