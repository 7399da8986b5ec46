package subscription

import (
	"context"
	"errors"
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
)

const gibi = int64(1) << 30

type fakeGateway struct {
	chargeErr   error
	refundErr   error
	chargeCalls int
	refundCalls int
	lastAmount  decimal.Decimal
}

func (f *fakeGateway) Charge(_ context.Context, _ uint, _ plans.Plan, amount decimal.Decimal) (*payment.Receipt, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.chargeCalls++
	f.lastAmount = amount
	return &payment.Receipt{Reference: "rcpt_test", Amount: amount, ChargedAt: time.Now()}, nil
}

func (f *fakeGateway) Refund(_ context.Context, _ uint, amount decimal.Decimal) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refundCalls++
	f.lastAmount = amount
	return nil
}

type fakeUsage struct {
	storage   int64
	galleries int
}

func (f *fakeUsage) StorageUsed(uint) (int64, error) { return f.storage, nil }

func (f *fakeUsage) GalleryCount(uint) (int, error) { return f.galleries, nil }

type testEnv struct {
	db      *gorm.DB
	repos   *repository.Repositories
	gateway *fakeGateway
	usage   *fakeUsage
	exec    *Executor
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.RefundRequest{},
		&models.AuditLogEntry{},
		&models.WebhookEvent{},
	))

	repos := repository.NewRepositories(db)
	gw := &fakeGateway{}
	us := &fakeUsage{storage: 1 * gibi, galleries: 1}
	locks := NewLockManager(repos.Subscription, 5*time.Minute)
	exec := NewExecutor(repos, locks, gw, us, nil)

	env := &testEnv{db: db, repos: repos, gateway: gw, usage: us, exec: exec, now: time.Now()}
	exec.SetClock(func() time.Time { return env.now })
	return env
}

func (env *testEnv) seedActive(t *testing.T, plan string, firstSubscribedAgo time.Duration) *models.Subscription {
	t.Helper()
	start := env.now.Add(-10 * 24 * time.Hour)
	end := env.now.Add(20 * 24 * time.Hour)
	first := env.now.Add(-firstSubscribedAgo)
	sub := &models.Subscription{
		UserID:             1,
		Plan:               plan,
		Status:             models.SubStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		RefundStatus:       models.RefundStatusNone,
		FirstSubscribedAt:  &first,
	}
	require.NoError(t, env.db.Create(sub).Error)
	return sub
}

func (env *testEnv) auditCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.db.Model(&models.AuditLogEntry{}).Where("action = ?", action).Count(&count).Error)
	return count
}

func TestExecuteSubscribe(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionSubscribe, TargetPlan: plans.PlanPlus})
	require.NoError(t, err)

	assert.Equal(t, "plus", sub.Plan)
	assert.Equal(t, models.SubStatusActive, sub.Status)
	assert.NotNil(t, sub.CurrentPeriodEnd)
	assert.NotNil(t, sub.FirstSubscribedAt)
	assert.False(t, sub.ProcessingChange, "lock must be released after commit")
	assert.Equal(t, 1, env.gateway.chargeCalls)
	assert.True(t, env.gateway.lastAmount.Equal(plans.Price(plans.PlanPlus)))
	assert.EqualValues(t, 1, env.auditCount(t, models.AuditActionSubscribe))
}

func TestExecuteGatewayFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.chargeErr = errors.New("card declined")

	_, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionSubscribe, TargetPlan: plans.PlanPlus})
	require.Error(t, err)
	assert.Equal(t, CodePaymentFailed, CodeOf(err))

	// State untouched and lock released.
	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "free", stored.Plan)
	assert.Equal(t, models.SubStatusNone, stored.Status)
	assert.False(t, stored.ProcessingChange)
	assert.EqualValues(t, 0, env.auditCount(t, models.AuditActionSubscribe))
}

func TestExecuteMutualExclusion(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 24*time.Hour)

	// First caller holds the lock; the second must get PROCESSING_CHANGE.
	ok, err := env.repos.Subscription.AcquireProcessing(1, env.now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionUpgrade, TargetPlan: plans.PlanPro})
	require.Error(t, err)
	assert.Equal(t, CodeProcessingChange, CodeOf(err))
	assert.True(t, IsRetryable(err))

	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, "plus", stored.Plan, "loser must not mutate state")
}

func TestExecuteUpgradeClearsPendingDowngrade(t *testing.T) {
	env := newTestEnv(t)
	sub := env.seedActive(t, "plus", 24*time.Hour)

	// Schedule a downgrade first.
	updated, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionDowngrade, TargetPlan: plans.PlanFree})
	require.NoError(t, err)
	require.NotNil(t, updated.PendingPlan)
	assert.Equal(t, "free", *updated.PendingPlan)
	assert.Equal(t, sub.CurrentPeriodEnd.Unix(), updated.PendingPlanChangeAt.Unix())
	assert.Equal(t, "plus", updated.Plan, "downgrade must not apply immediately")

	// The upgrade supersedes the scheduled downgrade.
	updated, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionUpgrade, TargetPlan: plans.PlanPro})
	require.NoError(t, err)
	assert.Equal(t, "pro", updated.Plan)
	assert.Nil(t, updated.PendingPlan)
	assert.Nil(t, updated.PendingPlanChangeAt)
	assert.Equal(t, 1, env.gateway.chargeCalls)

	var entry models.AuditLogEntry
	require.NoError(t, env.db.Where("action = ?", models.AuditActionUpgrade).First(&entry).Error)
	assert.Contains(t, entry.Metadata, "superseded_pending_plan")
}

func TestExecuteCancelAndReactivate(t *testing.T) {
	env := newTestEnv(t)
	sub := env.seedActive(t, "pro", 24*time.Hour)

	updated, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, updated.Status)
	require.NotNil(t, updated.PendingPlan)
	assert.Equal(t, "free", *updated.PendingPlan)
	assert.Equal(t, "pro", updated.Plan, "plan stays until period end")

	updated, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionReactivate})
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusActive, updated.Status)
	assert.Nil(t, updated.PendingPlan)
	assert.Nil(t, updated.PendingPlanChangeAt)

	// Cancel again, then jump past period end: reactivation is too late.
	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionCancel})
	require.NoError(t, err)
	env.now = sub.CurrentPeriodEnd.Add(time.Second)
	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionReactivate})
	require.Error(t, err)
	assert.Equal(t, CodePeriodEnded, CodeOf(err))
}

func TestExecuteRefundFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 10*24*time.Hour)
	env.usage.storage = 3 * gibi
	env.usage.galleries = 3

	// Establish the upgrade path in the audit log.
	require.NoError(t, env.repos.Audit.Append(&models.AuditLogEntry{
		UUID: "seed-1", UserID: 1, SubscriptionID: 1,
		Action: models.AuditActionSubscribe, FromPlan: "free", ToPlan: "plus",
	}))

	updated, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionRequestRefund, Reason: "not what I expected"})
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, updated.RefundStatus)

	var row models.RefundRequest
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)
	assert.Equal(t, models.RefundStatusPending, row.Status)
	assert.Equal(t, "free->plus", row.DetectedPath)
	assert.False(t, row.ManualReview)
	assert.EqualValues(t, 3*gibi, row.UsageStorageBytes)
	assert.True(t, row.Amount.Equal(plans.Price(plans.PlanPlus)))

	// Pending refund gates every other mutation.
	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionUpgrade, TargetPlan: plans.PlanPro})
	assert.Equal(t, CodeRefundPending, CodeOf(err))
	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionCancel})
	assert.Equal(t, CodeRefundPending, CodeOf(err))

	// Approval refunds and reverts to free immediately.
	updated, err = env.exec.ResolveRefund(context.Background(), row.UUID, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, "free", updated.Plan)
	assert.Equal(t, models.SubStatusNone, updated.Status)
	assert.Equal(t, models.RefundStatusApproved, updated.RefundStatus)
	assert.Nil(t, updated.CurrentPeriodEnd)
	assert.Equal(t, 1, env.gateway.refundCalls)

	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)
	assert.Equal(t, models.RefundStatusApproved, row.Status)
	assert.EqualValues(t, 1, env.auditCount(t, models.AuditActionRefundApproved))
}

func TestExecuteRefundDenied(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 5*24*time.Hour)
	env.usage.storage = 1 * gibi
	env.usage.galleries = 1

	_, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionRequestRefund, Reason: "changed my mind"})
	require.NoError(t, err)

	var row models.RefundRequest
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)
	// No audit path was seeded, so the conservative fallback applies.
	assert.True(t, row.ManualReview)
	assert.Equal(t, "unknown", row.DetectedPath)

	updated, err := env.exec.ResolveRefund(context.Background(), row.UUID, false, "outside policy")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusDenied, updated.RefundStatus)
	assert.Equal(t, "plus", updated.Plan, "denial keeps the subscription")
	assert.Equal(t, 0, env.gateway.refundCalls)

	// A denied refund no longer gates mutations.
	_, err = env.exec.Execute(context.Background(), 1, Request{Action: ActionUpgrade, TargetPlan: plans.PlanPro})
	require.NoError(t, err)
}

func TestResolveRefundFailureKeepsRowResolvable(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 10*24*time.Hour)

	_, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionRequestRefund, Reason: "billing error"})
	require.NoError(t, err)

	var row models.RefundRequest
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)

	// A gateway outage mid-approval must leave row and subscription in
	// lockstep: both still pending, nothing half-resolved.
	env.gateway.refundErr = errors.New("gateway unavailable")
	_, err = env.exec.ResolveRefund(context.Background(), row.UUID, true, "ok")
	assert.Equal(t, CodePaymentFailed, CodeOf(err))

	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)
	assert.Equal(t, models.RefundStatusPending, row.Status)
	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusPending, stored.RefundStatus)

	// A retry once the gateway recovers resolves both together.
	env.gateway.refundErr = nil
	updated, err := env.exec.ResolveRefund(context.Background(), row.UUID, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusApproved, updated.RefundStatus)
	require.NoError(t, env.db.Where("user_id = ?", 1).First(&row).Error)
	assert.Equal(t, models.RefundStatusApproved, row.Status)
}

func TestExecuteRefundIneligibleUsage(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 10*24*time.Hour)
	env.usage.storage = 7 * gibi

	require.NoError(t, env.repos.Audit.Append(&models.AuditLogEntry{
		UUID: "seed-1", UserID: 1, SubscriptionID: 1,
		Action: models.AuditActionSubscribe, FromPlan: "free", ToPlan: "plus",
	}))

	_, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionRequestRefund})
	require.Error(t, err)
	assert.Equal(t, CodeRefundNotEligible, CodeOf(err))

	var count int64
	require.NoError(t, env.db.Model(&models.RefundRequest{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "rejected request must not create a refund row")

	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusNone, stored.RefundStatus)
	assert.False(t, stored.ProcessingChange)
}

func TestExecuteRejectionsProduceNoAudit(t *testing.T) {
	env := newTestEnv(t)
	env.seedActive(t, "plus", 24*time.Hour)

	_, err := env.exec.Execute(context.Background(), 1, Request{Action: ActionUpgrade, TargetPlan: plans.PlanPlus})
	assert.Equal(t, CodeInvalidUpgrade, CodeOf(err))

	var count int64
	require.NoError(t, env.db.Model(&models.AuditLogEntry{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	stored, err := env.repos.Subscription.GetByUserID(1)
	require.NoError(t, err)
	assert.False(t, stored.ProcessingChange, "rejection must release the lock")
}

func TestExecuteNoSubscription(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.exec.Execute(context.Background(), 7, Request{Action: ActionCancel})
	assert.Equal(t, CodeNoSubscription, CodeOf(err))
}
