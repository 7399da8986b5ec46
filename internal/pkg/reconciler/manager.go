package reconciler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/env"
	"github.com/MarkusWeber/ShotVault/internal/pkg/metrics/counter"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

const (
	// DefaultSweepInterval is how often the scheduled-change sweep runs.
	DefaultSweepInterval = 1 * time.Minute

	// DefaultSweepBuffer widens the due check backwards so a sweep racing a
	// period boundary still picks the change up.
	DefaultSweepBuffer = 30 * time.Second

	// DefaultSweepBatch bounds how many due records one sweep processes.
	DefaultSweepBatch = 100

	// DefaultFlushInterval is how often pending metric counters are drained
	// from Redis into the database.
	DefaultFlushInterval = 5 * time.Second
)

// Manager runs the scheduled-change sweep in the background. Downgrades and
// cancellations are stored as pending changes with an effective time; the
// sweep applies the ones that became due through the same executor path as
// user-initiated transitions, so locking and auditing stay uniform.
type Manager struct {
	exec  *subscription.Executor
	subs  repository.SubscriptionRepository
	clock func() time.Time

	interval      time.Duration
	buffer        time.Duration
	batch         int
	flushInterval time.Duration
	flush         func() error

	sweepTicker *time.Ticker
	flushTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager creates a sweep manager with defaults overridable via
// RECONCILER_SWEEP_INTERVAL_SECONDS.
func NewManager(exec *subscription.Executor, subs repository.SubscriptionRepository) *Manager {
	interval := DefaultSweepInterval
	if raw := env.GetEnv("RECONCILER_SWEEP_INTERVAL_SECONDS", ""); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}
	return &Manager{
		exec:          exec,
		subs:          subs,
		clock:         time.Now,
		interval:      interval,
		buffer:        DefaultSweepBuffer,
		batch:         DefaultSweepBatch,
		flushInterval: DefaultFlushInterval,
		flush:         counter.FlushAll,
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *Manager) SetClock(fn func() time.Time) {
	m.clock = fn
}

// SetFlush overrides the counter flush function. Intended for tests.
func (m *Manager) SetFlush(fn func() error) {
	m.flush = fn
}

// Start launches the background sweep worker.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	m.sweepTicker = time.NewTicker(m.interval)
	m.flushTicker = time.NewTicker(m.flushInterval)
	m.wg.Add(2)
	go m.sweepWorker()
	go m.flushWorker()

	log.Infof("[Reconciler] Started (sweep interval: %s, flush interval: %s)", m.interval, m.flushInterval)
}

// Stop stops the background sweep worker and waits for it to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	log.Info("[Reconciler] Stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Reconciler] Sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if applied, err := m.SweepOnce(context.Background()); err != nil {
				log.Errorf("[Reconciler] Sweep error: %v", err)
			} else if applied > 0 {
				log.Infof("[Reconciler] Applied %d scheduled change(s)", applied)
			}
		}
	}
}

// flushWorker periodically drains pending metric counters into the database
// so rejection counts survive a Redis restart and never grow unboundedly.
func (m *Manager) flushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			// Final drain so shutdown does not strand pending counts.
			if err := m.flush(); err != nil {
				log.Errorf("[Reconciler] Counter flush error: %v", err)
			}
			log.Info("[Reconciler] Flush worker stopping")
			return
		case <-m.flushTicker.C:
			if err := m.flush(); err != nil {
				log.Errorf("[Reconciler] Counter flush error: %v", err)
			}
		}
	}
}

// SweepOnce applies all due scheduled changes and returns how many were
// applied. Each record is handled in isolation: one failing subscription
// never stalls the rest of the batch, and every outcome short of success is
// safe to retry on the next run.
func (m *Manager) SweepOnce(ctx context.Context) (int, error) {
	now := m.clock()

	due, err := m.subs.ListDuePending(now, m.buffer, m.batch)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range due {
		sub := &due[i]
		_, err := m.exec.Execute(ctx, sub.UserID, subscription.Request{
			Action: subscription.ActionApplyScheduled,
			Buffer: m.buffer,
		})
		if err == nil {
			applied++
			continue
		}
		switch subscription.CodeOf(err) {
		case subscription.CodeNoPendingChange, subscription.CodeNotDue:
			// Another actor settled or superseded the change between the
			// listing and the lock. Nothing to do.
		case subscription.CodeProcessingChange:
			// A user-initiated transition holds the lock; the next sweep
			// will pick the record up again.
			log.Debugf("[Reconciler] User %d locked, deferring scheduled change", sub.UserID)
		default:
			log.Errorf("[Reconciler] Failed to apply scheduled change for user %d: %v", sub.UserID, err)
		}
	}
	return applied, nil
}
