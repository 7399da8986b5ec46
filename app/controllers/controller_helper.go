package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarkusWeber/ShotVault/internal/pkg/metrics/counter"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

// respondTransitionError turns an executor error into the JSON error shape
// all subscription endpoints share. Rejection codes are counted; internal
// errors are logged but never leaked to the client.
func respondTransitionError(c *fiber.Ctx, err error) error {
	code := subscription.CodeOf(err)
	if code == subscription.CodeInternal {
		log.Errorf("[Subscription] internal error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "something went wrong, please try again",
		})
	}

	if cerr := counter.AddRejection(string(code)); cerr != nil {
		log.Debugf("[Subscription] rejection counter unavailable: %v", cerr)
	}

	resp := fiber.Map{
		"error": string(code),
	}
	if code == subscription.CodeProcessingChange {
		resp["message"] = "another change is being processed, retry shortly"
		resp["retryable"] = true
	}
	return c.Status(code.HTTPStatus()).JSON(resp)
}

// formatTimePtr renders an optional timestamp as RFC3339 UTC, or nil.
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
