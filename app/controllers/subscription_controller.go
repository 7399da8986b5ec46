package controllers

import (
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/database"
	"github.com/MarkusWeber/ShotVault/internal/pkg/mail"
	"github.com/MarkusWeber/ShotVault/internal/pkg/payment"
	"github.com/MarkusWeber/ShotVault/internal/pkg/plans"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
	"github.com/MarkusWeber/ShotVault/internal/pkg/usage"
	"github.com/MarkusWeber/ShotVault/internal/pkg/usercontext"
)

var validate = validator.New()

var (
	execOnce sync.Once
	execInst *subscription.Executor
)

// getExecutor lazily wires the transition executor from the global DB and
// environment configuration.
func getExecutor() *subscription.Executor {
	execOnce.Do(func() {
		if execInst != nil {
			return
		}
		db := database.GetDB()
		repository.InitializeFactory(db)
		repos := repository.GetGlobalFactory().GetRepositories()
		locks := subscription.NewLockManager(repos.Subscription, subscription.LockTTLFromEnv())
		execInst = subscription.NewExecutor(
			repos,
			locks,
			payment.NewClientFromEnv(),
			usage.NewSource(db),
			mail.NewNotifier(repos.User),
		)
	})
	return execInst
}

// SetExecutor injects a prebuilt executor. Intended for tests.
func SetExecutor(e *subscription.Executor) {
	execInst = e
	execOnce = sync.Once{}
	if e != nil {
		execOnce.Do(func() {})
	}
}

type changeSubscriptionRequest struct {
	Action string `json:"action" validate:"required"`
	Plan   string `json:"plan"`
	Reason string `json:"reason" validate:"max=500"`
}

// HandleGetSubscription returns the caller's subscription state. Users
// without a record are reported as free/none rather than 404.
func HandleGetSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	sub, err := repository.GetGlobalFactory().GetSubscriptionRepository().GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(subscriptionResponse(&models.Subscription{
				UserID:       userID,
				Plan:         string(plans.PlanFree),
				Status:       models.SubStatusNone,
				RefundStatus: models.RefundStatusNone,
			}))
		}
		return respondTransitionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// HandleChangeSubscription applies one requested transition for the caller.
func HandleChangeSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	var req changeSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": "invalid JSON body",
		})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": err.Error(),
		})
	}

	action, err := subscription.ParseAction(req.Action)
	if err != nil {
		return respondTransitionError(c, err)
	}

	var target plans.Plan
	if req.Plan != "" {
		// Legacy plan names from older clients are normalized at the boundary;
		// everything past this point sees canonical identifiers only.
		target = plans.Normalize(req.Plan)
	}

	sub, err := getExecutor().Execute(c.Context(), userID, subscription.Request{
		Action:     action,
		TargetPlan: target,
		Reason:     req.Reason,
	})
	if err != nil {
		return respondTransitionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// HandleSubscriptionHistory returns the caller's transition log, newest first.
func HandleSubscriptionHistory(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	entries, err := repository.GetGlobalFactory().GetAuditRepository().ListByUser(userID, 50)
	if err != nil {
		return respondTransitionError(c, err)
	}

	out := make([]fiber.Map, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		out = append(out, fiber.Map{
			"id":           e.UUID,
			"action":       e.Action,
			"from_plan":    e.FromPlan,
			"to_plan":      e.ToPlan,
			"effective_at": formatTimePtr(e.EffectiveAt),
			"created_at":   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"history": out})
}

// HandleGetPlans lists the plan registry with limits and prices.
func HandleGetPlans(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, 3)
	for _, p := range plans.All() {
		limits := plans.PlanLimits(p)
		out = append(out, fiber.Map{
			"name":              string(p),
			"level":             plans.Level(p),
			"price":             plans.Price(p).StringFixed(2),
			"max_storage_bytes": limits.MaxStorageBytes,
			"max_galleries":     limits.MaxGalleries,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

func subscriptionResponse(sub *models.Subscription) fiber.Map {
	limits := plans.PlanLimits(plans.Plan(sub.Plan))
	resp := fiber.Map{
		"plan":                 sub.Plan,
		"status":               sub.Status,
		"refund_status":        sub.RefundStatus,
		"change_in_progress":   sub.LockHeld(time.Now(), subscription.LockTTLFromEnv()),
		"current_period_start": formatTimePtr(sub.CurrentPeriodStart),
		"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		"max_storage_bytes":    limits.MaxStorageBytes,
		"max_galleries":        limits.MaxGalleries,
	}
	if sub.PendingPlan != nil {
		resp["pending_plan"] = *sub.PendingPlan
		resp["pending_plan_change_at"] = formatTimePtr(sub.PendingPlanChangeAt)
	}
	return resp
}
