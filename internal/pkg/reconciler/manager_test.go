package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/payment"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

type stubGateway struct {
	charges int
}

func (s *stubGateway) Charge(_ context.Context, _ uint, _ plans.Plan, amount decimal.Decimal) (*payment.Receipt, error) {
	s.charges++
	return &payment.Receipt{Reference: "rcpt_stub", Amount: amount, ChargedAt: time.Now()}, nil
}

func (s *stubGateway) Refund(context.Context, uint, decimal.Decimal) error { return nil }

type stubUsage struct{}

func (stubUsage) StorageUsed(uint) (int64, error) { return 0, nil }

func (stubUsage) GalleryCount(uint) (int, error) { return 0, nil }

type reconcilerEnv struct {
	db      *gorm.DB
	repos   *repository.Repositories
	gateway *stubGateway
	exec    *subscription.Executor
	mgr     *Manager
	now     time.Time
}

func newReconcilerEnv(t *testing.T) *reconcilerEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Subscription{},
		&models.RefundRequest{},
		&models.AuditLogEntry{},
		&models.WebhookEvent{},
	))

	repos := repository.NewRepositories(db)
	gw := &stubGateway{}
	locks := subscription.NewLockManager(repos.Subscription, 5*time.Minute)
	exec := subscription.NewExecutor(repos, locks, gw, stubUsage{}, nil)
	mgr := NewManager(exec, repos.Subscription)
	// No Redis in tests; the flush tests install their own function.
	mgr.SetFlush(func() error { return nil })

	env := &reconcilerEnv{db: db, repos: repos, gateway: gw, exec: exec, mgr: mgr, now: time.Now()}
	exec.SetClock(func() time.Time { return env.now })
	mgr.SetClock(func() time.Time { return env.now })
	return env
}

func (env *reconcilerEnv) seedPending(t *testing.T, userID uint, plan, status, pendingPlan string, changeAt time.Time) *models.Subscription {
	t.Helper()
	start := env.now.Add(-30 * 24 * time.Hour)
	first := start
	sub := &models.Subscription{
		UserID:              userID,
		Plan:                plan,
		Status:              status,
		CurrentPeriodStart:  &start,
		CurrentPeriodEnd:    &changeAt,
		PendingPlan:         &pendingPlan,
		PendingPlanChangeAt: &changeAt,
		RefundStatus:        models.RefundStatusNone,
		FirstSubscribedAt:   &first,
	}
	require.NoError(t, env.db.Create(sub).Error)
	return sub
}

func TestSweepAppliesDueDowngrade(t *testing.T) {
	env := newReconcilerEnv(t)
	env.seedPending(t, 1, "pro", models.SubStatusActive, "plus", env.now.Add(-time.Minute))

	applied, err := env.mgr.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "plus", stored.Plan)
	assert.Equal(t, models.SubStatusActive, stored.Status)
	assert.Nil(t, stored.PendingPlan)
	assert.Nil(t, stored.PendingPlanChangeAt)
	require.NotNil(t, stored.CurrentPeriodEnd)
	assert.True(t, stored.CurrentPeriodEnd.After(env.now), "downgrade to a paid plan opens a new period")
	assert.False(t, stored.ProcessingChange)
}

func TestSweepAppliesCancellation(t *testing.T) {
	env := newReconcilerEnv(t)
	env.seedPending(t, 1, "plus", models.SubStatusCanceled, "free", env.now.Add(-time.Minute))

	applied, err := env.mgr.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "free", stored.Plan)
	assert.Equal(t, models.SubStatusNone, stored.Status)
	assert.Nil(t, stored.CurrentPeriodEnd)
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newReconcilerEnv(t)
	env.seedPending(t, 1, "plus", models.SubStatusCanceled, "free", env.now.Add(-time.Minute))

	applied, err := env.mgr.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = env.mgr.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	var count int64
	require.NoError(t, env.db.Model(&models.AuditLogEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "second sweep must not append a second audit entry")
}

func TestSweepBufferWidensDueCheck(t *testing.T) {
	env := newReconcilerEnv(t)
	// Due 20s from now: inside the 30s buffer.
	env.seedPending(t, 1, "plus", models.SubStatusActive, "free", env.now.Add(20*time.Second))
	// Due in 2 minutes: outside the buffer.
	env.seedPending(t, 2, "pro", models.SubStatusActive, "plus", env.now.Add(2*time.Minute))

	applied, err := env.mgr.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	early, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "free", early.Plan)

	late, err := env.repos.Subscription.GetByUserID(2)
	require.NoError(t, err)
	assert.Equal(t, "pro", late.Plan)
	assert.NotNil(t, late.PendingPlan)
}

func TestSweepSkipsLockedRecord(t *testing.T) {
	env := newReconcilerEnv(t)
	env.seedPending(t, 1, "plus", models.SubStatusActive, "free", env.now.Add(-time.Minute))
	env.seedPending(t, 2, "pro", models.SubStatusActive, "plus", env.now.Add(-time.Minute))

	// Simulate a user-initiated transition in flight on user 1.
	ok, err := env.repos.Subscription.AcquireProcessing(1, env.now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	applied, err := env.mgr.SweepOnce(context.Background())
	require.NoError(t, err, "a locked record must not fail the sweep")
	assert.Equal(t, 1, applied)

	locked, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "plus", locked.Plan, "locked record stays untouched")
	assert.NotNil(t, locked.PendingPlan)

	other, err := env.repos.Subscription.GetByUserID(2)
	require.NoError(t, err)
	assert.Equal(t, "plus", other.Plan)
}

func TestManagerStartStop(t *testing.T) {
	env := newReconcilerEnv(t)

	env.mgr.Start()
	assert.True(t, env.mgr.IsRunning())
	// Double start is a no-op.
	env.mgr.Start()

	env.mgr.Stop()
	assert.False(t, env.mgr.IsRunning())
	// Double stop is a no-op.
	env.mgr.Stop()
}

func TestManagerRunsCounterFlush(t *testing.T) {
	env := newReconcilerEnv(t)

	flushed := make(chan struct{}, 16)
	env.mgr.SetFlush(func() error {
		select {
		case flushed <- struct{}{}:
		default:
		}
		return nil
	})
	env.mgr.flushInterval = 10 * time.Millisecond

	env.mgr.Start()
	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("flush worker never ran")
	}
	env.mgr.Stop()
}
