package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/payment"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
	"github.com/MarkusWeber/ShotVault/internal/pkg/usage"
)

// Notifier is the post-commit notification collaborator. Implementations are
// fire-and-forget; the executor never waits on them and they never run
// inside the processing lock.
type Notifier interface {
	NotifyTransition(userID uint, action Action, sub *models.Subscription)
}

// Executor orchestrates a transition: acquire lock, re-load, validate,
// charge, commit atomically, notify. It contains no transition rules itself;
// those live in Validate.
type Executor struct {
	subs     repository.SubscriptionRepository
	audits   repository.AuditRepository
	refunds  repository.RefundRepository
	locks    *LockManager
	gateway  payment.Gateway
	usage    usage.Source
	notifier Notifier
	now      func() time.Time
}

// NewExecutor wires an executor from its collaborators. notifier may be nil.
func NewExecutor(
	repos *repository.Repositories,
	locks *LockManager,
	gateway payment.Gateway,
	usageSrc usage.Source,
	notifier Notifier,
) *Executor {
	return &Executor{
		subs:     repos.Subscription,
		audits:   repos.Audit,
		refunds:  repos.Refund,
		locks:    locks,
		gateway:  gateway,
		usage:    usageSrc,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the executor's clock. Intended for tests.
func (e *Executor) SetClock(fn func() time.Time) {
	e.now = fn
}

// Execute runs one requested transition for a user and returns the new
// subscription state. Rejections come back as *TransitionError with a
// stable code; PROCESSING_CHANGE means retry with backoff.
func (e *Executor) Execute(ctx context.Context, userID uint, req Request) (*models.Subscription, error) {
	now := e.now()

	sub, err := e.subs.GetByUserID(userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if req.Action != ActionSubscribe {
			return nil, NewTransitionError(CodeNoSubscription, "")
		}
		// Signup normally creates the baseline record; create it lazily for
		// users predating that.
		sub = &models.Subscription{
			UserID:       userID,
			Plan:         string(plans.PlanFree),
			Status:       models.SubStatusNone,
			RefundStatus: models.RefundStatusNone,
		}
		if cerr := e.subs.Create(sub); cerr != nil {
			return nil, cerr
		}
	}

	if err := e.locks.Acquire(userID, now); err != nil {
		return nil, err
	}

	// Re-load under the lock so a snapshot mutated by the previous holder is
	// never validated.
	sub, err = e.subs.GetByUserID(userID)
	if err != nil {
		e.release(userID)
		return nil, err
	}

	detectedPath := "unknown"
	if req.Action == ActionRequestRefund && req.Refund == nil {
		rc, path, rcErr := e.buildRefundContext(sub)
		if rcErr != nil {
			e.release(userID)
			return nil, rcErr
		}
		req.Refund = rc
		detectedPath = path
	}

	res := Validate(sub, req, now)
	if !res.Allowed {
		e.release(userID)
		return nil, NewTransitionError(res.Code, "")
	}

	entry, refundRow, err := e.apply(ctx, sub, req, res, now, detectedPath)
	if err != nil {
		e.release(userID)
		return nil, err
	}

	// The refund row commits together with the state change; an aborted
	// transition leaves no open request behind.
	var extras []func(tx *gorm.DB) error
	if refundRow != nil {
		extras = append(extras, func(tx *gorm.DB) error {
			return tx.Create(refundRow).Error
		})
	}

	if err := e.subs.CommitMutation(sub, entry, extras...); err != nil {
		if errors.Is(err, repository.ErrLockLost) {
			// The TTL expired mid-flight and another executor claimed the
			// record. Nothing was written; the caller may retry.
			return nil, NewTransitionError(CodeProcessingChange, "lock expired before commit")
		}
		e.release(userID)
		return nil, err
	}

	if e.notifier != nil {
		snapshot := *sub
		go e.notifier.NotifyTransition(userID, req.Action, &snapshot)
	}
	return sub, nil
}

// ResolveRefund applies an operator decision to an open refund request.
// Approval refunds via the gateway and forces the subscription to
// plan=free/status=none immediately, regardless of period end.
func (e *Executor) ResolveRefund(ctx context.Context, refundUUID string, approve bool, notes string) (*models.Subscription, error) {
	now := e.now()

	row, err := e.refunds.GetByUUID(refundUUID)
	if err != nil {
		return nil, err
	}
	if !row.IsOpen() {
		return nil, NewTransitionError(CodeRefundExists, "refund request already resolved")
	}

	if err := e.locks.Acquire(row.UserID, now); err != nil {
		return nil, err
	}
	sub, err := e.subs.GetByUserID(row.UserID)
	if err != nil {
		e.release(row.UserID)
		return nil, err
	}
	if sub.RefundStatus != models.RefundStatusPending {
		e.release(row.UserID)
		return nil, NewTransitionError(CodeRefundExists, "subscription has no pending refund")
	}

	var entry *models.AuditLogEntry
	action := ActionRequestRefund
	status := models.RefundStatusDenied
	if approve {
		if err := e.gateway.Refund(ctx, row.UserID, row.Amount); err != nil {
			e.release(row.UserID)
			log.Errorf("[Subscription] gateway refund failed for user %d: %v", row.UserID, err)
			return nil, NewTransitionError(CodePaymentFailed, "refund could not be processed")
		}
		fromPlan := sub.Plan
		sub.Plan = string(plans.PlanFree)
		sub.Status = models.SubStatusNone
		sub.PendingPlan = nil
		sub.PendingPlanChangeAt = nil
		sub.CurrentPeriodStart = nil
		sub.CurrentPeriodEnd = nil
		sub.RefundStatus = models.RefundStatusApproved
		status = models.RefundStatusApproved
		entry = e.newEntry(sub, models.AuditActionRefundApproved, fromPlan, sub.Plan, &now, map[string]interface{}{
			"refund_uuid": row.UUID,
			"amount":      row.Amount.StringFixed(2),
		})
	} else {
		sub.RefundStatus = models.RefundStatusDenied
		entry = e.newEntry(sub, models.AuditActionRefundDenied, sub.Plan, sub.Plan, &now, map[string]interface{}{
			"refund_uuid": row.UUID,
		})
	}

	// The row resolution rides in the commit transaction: refund_status on
	// the subscription and the refund row can never disagree.
	resolveRow := func(tx *gorm.DB) error {
		return e.refunds.ResolveTx(tx, row.ID, status, notes, now)
	}
	if err := e.subs.CommitMutation(sub, entry, resolveRow); err != nil {
		if errors.Is(err, repository.ErrLockLost) {
			return nil, NewTransitionError(CodeProcessingChange, "lock expired before commit")
		}
		e.release(row.UserID)
		return nil, err
	}

	if e.notifier != nil {
		snapshot := *sub
		go e.notifier.NotifyTransition(row.UserID, action, &snapshot)
	}
	return sub, nil
}

// apply mutates the in-memory snapshot for an accepted transition, performs
// the pre-commit gateway charge for immediate paid actions, and produces the
// audit entry. The store is not touched here.
func (e *Executor) apply(
	ctx context.Context,
	sub *models.Subscription,
	req Request,
	res Result,
	now time.Time,
	detectedPath string,
) (*models.AuditLogEntry, *models.RefundRequest, error) {
	fromPlan := sub.Plan

	switch req.Action {
	case ActionSubscribe:
		receipt, err := e.charge(ctx, sub.UserID, req.TargetPlan)
		if err != nil {
			return nil, nil, err
		}
		periodEnd := now.AddDate(0, 1, 0)
		sub.Plan = string(req.TargetPlan)
		sub.Status = models.SubStatusActive
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &periodEnd
		sub.PendingPlan = nil
		sub.PendingPlanChangeAt = nil
		if sub.FirstSubscribedAt == nil {
			sub.FirstSubscribedAt = &now
		}
		entry := e.newEntry(sub, models.AuditActionSubscribe, fromPlan, sub.Plan, &now, map[string]interface{}{
			"receipt": receipt.Reference,
		})
		return entry, nil, nil

	case ActionUpgrade:
		receipt, err := e.charge(ctx, sub.UserID, req.TargetPlan)
		if err != nil {
			return nil, nil, err
		}
		meta := map[string]interface{}{"receipt": receipt.Reference}
		if res.ClearsPendingDowngrade {
			meta["superseded_pending_plan"] = *sub.PendingPlan
		}
		sub.Plan = string(req.TargetPlan)
		sub.PendingPlan = nil
		sub.PendingPlanChangeAt = nil
		entry := e.newEntry(sub, models.AuditActionUpgrade, fromPlan, sub.Plan, &now, meta)
		return entry, nil, nil

	case ActionDowngrade:
		effectiveAt := now
		if sub.CurrentPeriodEnd != nil {
			effectiveAt = *sub.CurrentPeriodEnd
		}
		target := string(req.TargetPlan)
		sub.PendingPlan = &target
		sub.PendingPlanChangeAt = &effectiveAt
		entry := e.newEntry(sub, models.AuditActionDowngradeScheduled, fromPlan, target, &effectiveAt, nil)
		return entry, nil, nil

	case ActionCancel:
		effectiveAt := now
		if sub.CurrentPeriodEnd != nil {
			effectiveAt = *sub.CurrentPeriodEnd
		}
		var meta map[string]interface{}
		if res.ClearsPendingDowngrade {
			meta = map[string]interface{}{"superseded_pending_plan": *sub.PendingPlan}
		}
		free := string(plans.PlanFree)
		sub.Status = models.SubStatusCanceled
		sub.PendingPlan = &free
		sub.PendingPlanChangeAt = &effectiveAt
		entry := e.newEntry(sub, models.AuditActionCancel, fromPlan, free, &effectiveAt, meta)
		return entry, nil, nil

	case ActionReactivate:
		sub.Status = models.SubStatusActive
		sub.PendingPlan = nil
		sub.PendingPlanChangeAt = nil
		entry := e.newEntry(sub, models.AuditActionReactivate, fromPlan, sub.Plan, &now, nil)
		return entry, nil, nil

	case ActionRequestRefund:
		sub.RefundStatus = models.RefundStatusPending
		row := &models.RefundRequest{
			UUID:              uuid.NewString(),
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			Reason:            req.Reason,
			Status:            models.RefundStatusPending,
			Amount:            plans.Price(plans.Plan(sub.Plan)),
			UsageStorageBytes: req.Refund.StorageBytes,
			UsageGalleryCount: req.Refund.GalleryCount,
			DetectedPath:      detectedPath,
			ManualReview:      res.ManualReview,
		}
		entry := e.newEntry(sub, models.AuditActionRefundRequested, fromPlan, fromPlan, &now, map[string]interface{}{
			"refund_uuid":   row.UUID,
			"ceiling_plan":  string(res.CeilingPlan),
			"manual_review": res.ManualReview,
			"detected_path": detectedPath,
		})
		return entry, row, nil

	case ActionApplyScheduled:
		newPlan := *sub.PendingPlan
		sub.Plan = newPlan
		sub.PendingPlan = nil
		sub.PendingPlanChangeAt = nil
		if plans.IsPaid(plans.Plan(newPlan)) {
			start := now
			if sub.CurrentPeriodEnd != nil {
				start = *sub.CurrentPeriodEnd
			}
			end := start.AddDate(0, 1, 0)
			sub.Status = models.SubStatusActive
			sub.CurrentPeriodStart = &start
			sub.CurrentPeriodEnd = &end
		} else {
			sub.Status = models.SubStatusNone
			sub.CurrentPeriodStart = nil
			sub.CurrentPeriodEnd = nil
		}
		entry := e.newEntry(sub, models.AuditActionApplyScheduled, fromPlan, newPlan, &now, nil)
		return entry, nil, nil

	case ActionRenewPeriod:
		start := now
		if sub.CurrentPeriodEnd != nil {
			start = *sub.CurrentPeriodEnd
		}
		end := start.AddDate(0, 1, 0)
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		entry := e.newEntry(sub, models.AuditActionPeriodRenewed, fromPlan, fromPlan, &start, nil)
		return entry, nil, nil

	default:
		return nil, nil, NewTransitionError(CodeInvalidAction, "")
	}
}

func (e *Executor) charge(ctx context.Context, userID uint, plan plans.Plan) (*payment.Receipt, error) {
	receipt, err := e.gateway.Charge(ctx, userID, plan, plans.Price(plan))
	if err != nil {
		// Gateway details never reach the caller; the transition simply did
		// not happen.
		log.Errorf("[Subscription] gateway charge failed for user %d plan %s: %v", userID, plan, err)
		return nil, NewTransitionError(CodePaymentFailed, "payment could not be processed")
	}
	return receipt, nil
}

// buildRefundContext derives the upgrade path from the audit log and reads
// current usage. A missing path is not an error: the validator falls back to
// the most restrictive limits and flags the request for manual review.
func (e *Executor) buildRefundContext(sub *models.Subscription) (*RefundContext, string, error) {
	storage, err := e.usage.StorageUsed(sub.UserID)
	if err != nil {
		return nil, "", err
	}
	galleries, err := e.usage.GalleryCount(sub.UserID)
	if err != nil {
		return nil, "", err
	}

	rc := &RefundContext{StorageBytes: storage, GalleryCount: galleries}
	path := "unknown"

	first, err := e.audits.FirstPaidTransition(sub.UserID)
	switch {
	case err == nil:
		rc.PathKnown = true
		rc.PathFrom = plans.Normalize(first.FromPlan)
		rc.PathTo = plans.Normalize(first.ToPlan)
		path = first.FromPlan + "->" + first.ToPlan
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No recorded paid transition; conservative fallback applies.
	default:
		return nil, "", err
	}
	return rc, path, nil
}

func (e *Executor) newEntry(sub *models.Subscription, action, fromPlan, toPlan string, effectiveAt *time.Time, meta map[string]interface{}) *models.AuditLogEntry {
	metadata := ""
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			metadata = string(data)
		}
	}
	return &models.AuditLogEntry{
		UUID:           uuid.NewString(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Action:         action,
		FromPlan:       fromPlan,
		ToPlan:         toPlan,
		EffectiveAt:    effectiveAt,
		Metadata:       metadata,
	}
}

func (e *Executor) release(userID uint) {
	if err := e.locks.Release(userID); err != nil {
		log.Errorf("[Subscription] failed to release processing lock for user %d: %v", userID, err)
	}
}
