package mail

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

// Notifier emails users after a subscription transition committed. It
// implements subscription.Notifier and is always called post-commit: a
// failing mail server can never roll back or delay a transition.
type Notifier struct {
	users repository.UserRepository
}

// NewNotifier creates a mail notifier backed by the user repository.
func NewNotifier(users repository.UserRepository) *Notifier {
	return &Notifier{users: users}
}

// NotifyTransition sends the notification for one committed transition.
// Errors are logged and swallowed.
func (n *Notifier) NotifyTransition(userID uint, action subscription.Action, sub *models.Subscription) {
	user, err := n.users.GetByID(userID)
	if err != nil {
		log.Errorf("[Mail] Cannot notify user %d: %v", userID, err)
		return
	}

	subject, body := buildMessage(user, action, sub)
	if subject == "" {
		return
	}
	if err := SendMail(user.Email, subject, body); err != nil {
		log.Errorf("[Mail] Failed to send %s notification to user %d: %v", action, userID, err)
	}
}

func buildMessage(user *models.User, action subscription.Action, sub *models.Subscription) (string, string) {
	greeting := fmt.Sprintf("<p>Hi %s,</p>", user.Name)

	switch action {
	case subscription.ActionSubscribe:
		return "Welcome to ShotVault " + sub.Plan,
			greeting + fmt.Sprintf("<p>Your <strong>%s</strong> subscription is active. Enjoy the extra space!</p>", sub.Plan)
	case subscription.ActionUpgrade:
		return "Your plan was upgraded",
			greeting + fmt.Sprintf("<p>You are now on the <strong>%s</strong> plan.</p>", sub.Plan)
	case subscription.ActionDowngrade:
		pending := ""
		if sub.PendingPlan != nil {
			pending = *sub.PendingPlan
		}
		when := ""
		if sub.PendingPlanChangeAt != nil {
			when = sub.PendingPlanChangeAt.Format("January 2, 2006")
		}
		return "Your downgrade is scheduled",
			greeting + fmt.Sprintf("<p>Your plan changes to <strong>%s</strong> on %s. Until then you keep your current limits.</p>", pending, when)
	case subscription.ActionCancel:
		when := ""
		if sub.PendingPlanChangeAt != nil {
			when = sub.PendingPlanChangeAt.Format("January 2, 2006")
		}
		return "Your subscription was cancelled",
			greeting + fmt.Sprintf("<p>Your subscription ends on %s. You can reactivate any time before that.</p>", when)
	case subscription.ActionReactivate:
		return "Welcome back",
			greeting + fmt.Sprintf("<p>Your <strong>%s</strong> subscription continues as before.</p>", sub.Plan)
	case subscription.ActionRequestRefund:
		switch sub.RefundStatus {
		case models.RefundStatusPending:
			return "We received your refund request",
				greeting + "<p>Your refund request is being reviewed. We will get back to you shortly.</p>"
		case models.RefundStatusApproved:
			return "Your refund was approved",
				greeting + "<p>Your refund has been issued and your account was moved to the free plan.</p>"
		case models.RefundStatusDenied:
			return "Your refund request was declined",
				greeting + "<p>After review we could not approve your refund request. Your subscription stays active.</p>"
		}
		return "", ""
	default:
		// Sweep and provider driven transitions stay silent.
		return "", ""
	}
}
