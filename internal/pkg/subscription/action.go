package subscription

import "strings"

// Action is a requested subscription state change.
type Action string

const (
	ActionSubscribe     Action = "subscribe"
	ActionUpgrade       Action = "upgrade"
	ActionDowngrade     Action = "downgrade"
	ActionCancel        Action = "cancel"
	ActionReactivate    Action = "reactivate"
	ActionRequestRefund Action = "request_refund"

	// ActionApplyScheduled is synthetic: only the reconciler issues it to
	// move a due pending_plan into effect.
	ActionApplyScheduled Action = "apply_scheduled"

	// ActionRenewPeriod is synthetic: issued by webhook ingestion when the
	// provider reports a paid invoice for the next period.
	ActionRenewPeriod Action = "renew_period"
)

// ParseAction resolves an externally supplied action name. Synthetic actions
// are not accepted from the outside.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionSubscribe:
		return ActionSubscribe, nil
	case ActionUpgrade:
		return ActionUpgrade, nil
	case ActionDowngrade:
		return ActionDowngrade, nil
	case ActionCancel:
		return ActionCancel, nil
	case ActionReactivate:
		return ActionReactivate, nil
	case ActionRequestRefund:
		return ActionRequestRefund, nil
	default:
		return "", NewTransitionError(CodeInvalidAction, "unknown action "+raw)
	}
}
