package subscription

import (
	"time"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
)

// RefundWindow is how long after the first paid subscription a refund may be
// requested.
const RefundWindow = 14 * 24 * time.Hour

// Effect describes when an accepted transition takes effect.
type Effect int

const (
	EffectImmediate Effect = iota
	EffectScheduledAtPeriodEnd
	EffectPendingApproval
)

// RefundContext carries the I/O-derived facts a refund eligibility check
// needs, so the validator itself stays pure. The executor assembles it from
// the audit log and the usage source before validating.
type RefundContext struct {
	StorageBytes int64
	GalleryCount int

	// PathKnown is false when no paid transition could be found in the
	// audit log. PathFrom/PathTo describe the first recorded paid
	// transition when known.
	PathKnown bool
	PathFrom  plans.Plan
	PathTo    plans.Plan
}

// Request is a single requested transition.
type Request struct {
	Action     Action
	TargetPlan plans.Plan
	Reason     string

	// Refund is required for ActionRequestRefund.
	Refund *RefundContext

	// Buffer widens the due check backwards for ActionApplyScheduled, so a
	// sweep racing a period boundary still treats the change as due.
	Buffer time.Duration
}

// Result is the validator's verdict.
type Result struct {
	Allowed bool
	Code    Code
	Effect  Effect

	// ClearsPendingDowngrade is set when an accepted upgrade supersedes a
	// scheduled downgrade. The upgrade wins; the pending change is dropped.
	ClearsPendingDowngrade bool

	// CeilingPlan and ManualReview describe the refund eligibility decision:
	// which plan's limits were applied, and whether the conservative
	// unknown-path fallback was taken.
	CeilingPlan  plans.Plan
	ManualReview bool
}

func reject(code Code) Result {
	return Result{Allowed: false, Code: code}
}

// Validate decides whether a requested transition is legal for the given
// subscription snapshot. It is a pure function: no I/O, no clock access
// beyond the now argument, no mutation.
//
// Mutual exclusion against concurrent transitions is not decided here; the
// executor enforces it by acquiring the processing lock before validating,
// and lock acquisition failure surfaces as PROCESSING_CHANGE.
func Validate(sub *models.Subscription, req Request, now time.Time) Result {
	switch req.Action {
	case ActionSubscribe:
		return validateSubscribe(sub, req)
	case ActionUpgrade:
		return validateUpgrade(sub, req)
	case ActionDowngrade:
		return validateDowngrade(sub, req)
	case ActionCancel:
		return validateCancel(sub)
	case ActionReactivate:
		return validateReactivate(sub, now)
	case ActionRequestRefund:
		return validateRequestRefund(sub, req, now)
	case ActionApplyScheduled:
		return validateApplyScheduled(sub, req, now)
	case ActionRenewPeriod:
		return validateRenewPeriod(sub)
	default:
		return reject(CodeInvalidAction)
	}
}

func validateSubscribe(sub *models.Subscription, req Request) Result {
	if req.TargetPlan == "" {
		return reject(CodeMissingPlan)
	}
	if !plans.IsValid(req.TargetPlan) || req.TargetPlan == plans.PlanFree {
		return reject(CodeInvalidPlan)
	}
	if sub.Status == models.SubStatusCanceled {
		// A canceled subscription still runs until period end; the user must
		// reactivate instead of opening a second one.
		return reject(CodeSubscriptionCanceled)
	}
	if plans.IsPaid(plans.Plan(sub.Plan)) || sub.Status == models.SubStatusActive {
		return reject(CodeAlreadySubscribed)
	}
	return Result{Allowed: true, Effect: EffectImmediate}
}

func validateUpgrade(sub *models.Subscription, req Request) Result {
	if req.TargetPlan == "" {
		return reject(CodeMissingPlan)
	}
	if !plans.IsValid(req.TargetPlan) {
		return reject(CodeInvalidPlan)
	}
	if !plans.IsPaid(plans.Plan(sub.Plan)) || sub.Status == models.SubStatusNone {
		return reject(CodeNoSubscription)
	}
	if sub.Status == models.SubStatusCanceled {
		return reject(CodeSubscriptionCanceled)
	}
	if sub.RefundStatus == models.RefundStatusPending {
		return reject(CodeRefundPending)
	}
	if plans.Compare(req.TargetPlan, plans.Plan(sub.Plan)) <= 0 {
		return reject(CodeInvalidUpgrade)
	}
	// A scheduled downgrade does not block an upgrade; the upgrade
	// supersedes it and the pending change is cleared on commit.
	return Result{
		Allowed:                true,
		Effect:                 EffectImmediate,
		ClearsPendingDowngrade: sub.HasPendingChange(),
	}
}

func validateDowngrade(sub *models.Subscription, req Request) Result {
	if req.TargetPlan == "" {
		return reject(CodeMissingPlan)
	}
	if !plans.IsValid(req.TargetPlan) {
		return reject(CodeInvalidPlan)
	}
	if !plans.IsPaid(plans.Plan(sub.Plan)) || sub.Status == models.SubStatusNone {
		return reject(CodeNoSubscription)
	}
	if sub.Status == models.SubStatusCanceled {
		return reject(CodeSubscriptionCanceled)
	}
	if sub.RefundStatus == models.RefundStatusPending {
		return reject(CodeRefundPending)
	}
	if sub.HasPendingChange() {
		return reject(CodePendingDowngrade)
	}
	if plans.Compare(req.TargetPlan, plans.Plan(sub.Plan)) >= 0 {
		return reject(CodeInvalidDowngrade)
	}
	return Result{Allowed: true, Effect: EffectScheduledAtPeriodEnd}
}

func validateCancel(sub *models.Subscription) Result {
	if sub.Status == models.SubStatusNone || !plans.IsPaid(plans.Plan(sub.Plan)) {
		return reject(CodeNoSubscription)
	}
	if sub.Status == models.SubStatusCanceled {
		return reject(CodeAlreadyCanceled)
	}
	if sub.RefundStatus == models.RefundStatusPending {
		return reject(CodeRefundPending)
	}
	// A scheduled downgrade is superseded: cancelling is strictly more
	// restrictive than any downgrade, so the pending change is replaced.
	return Result{
		Allowed:                true,
		Effect:                 EffectScheduledAtPeriodEnd,
		ClearsPendingDowngrade: sub.HasPendingChange(),
	}
}

func validateReactivate(sub *models.Subscription, now time.Time) Result {
	if sub.Status == models.SubStatusNone {
		return reject(CodeNoSubscription)
	}
	if sub.Status != models.SubStatusCanceled {
		return reject(CodeNotCanceled)
	}
	if !sub.InPeriod(now) {
		return reject(CodePeriodEnded)
	}
	return Result{Allowed: true, Effect: EffectImmediate}
}

func validateRequestRefund(sub *models.Subscription, req Request, now time.Time) Result {
	if !plans.IsPaid(plans.Plan(sub.Plan)) {
		return reject(CodeNoSubscription)
	}
	if sub.RefundStatus != models.RefundStatusNone {
		return reject(CodeRefundExists)
	}
	if sub.FirstSubscribedAt == nil || now.Sub(*sub.FirstSubscribedAt) > RefundWindow {
		return reject(CodeRefundWindowExpired)
	}
	if req.Refund == nil {
		return reject(CodeInternal)
	}

	// The usage ceiling is the lower plan of the detected upgrade path
	// (free->plus applies free's limits). When no path can be derived the
	// most restrictive plan's limits apply and the request is flagged for
	// manual review. This fallback is deliberately conservative; keep it.
	ceiling := plans.MostRestrictive()
	manual := true
	if req.Refund.PathKnown {
		ceiling = req.Refund.PathFrom
		manual = false
	}

	limits := plans.PlanLimits(ceiling)
	if req.Refund.StorageBytes > limits.MaxStorageBytes {
		return reject(CodeRefundNotEligible)
	}
	if req.Refund.GalleryCount > limits.MaxGalleries {
		return reject(CodeRefundNotEligible)
	}

	return Result{
		Allowed:      true,
		Effect:       EffectPendingApproval,
		CeilingPlan:  ceiling,
		ManualReview: manual,
	}
}

func validateApplyScheduled(sub *models.Subscription, req Request, now time.Time) Result {
	if !sub.HasPendingChange() || sub.PendingPlanChangeAt == nil {
		// Already applied (or a reactivation won the race). The sweep
		// treats this as a no-op, which is what makes it idempotent.
		return reject(CodeNoPendingChange)
	}
	if now.Add(req.Buffer).Before(*sub.PendingPlanChangeAt) {
		return reject(CodeNotDue)
	}
	return Result{Allowed: true, Effect: EffectImmediate}
}

func validateRenewPeriod(sub *models.Subscription) Result {
	if sub.Status != models.SubStatusActive || !plans.IsPaid(plans.Plan(sub.Plan)) {
		return reject(CodeNoSubscription)
	}
	if sub.HasPendingChange() {
		// The provider invoiced a period the user already scheduled away
		// from; let the sweep settle the pending change first.
		return reject(CodePendingDowngrade)
	}
	return Result{Allowed: true, Effect: EffectImmediate}
}
