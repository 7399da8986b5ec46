package controllers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/env"
	"github.com/MarkusWeber/ShotVault/internal/pkg/payment"
	"github.com/MarkusWeber/ShotVault/internal/pkg/reconciler"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
)

const webhookProvider = "paygate"

var (
	ingestOnce sync.Once
	ingestInst *reconciler.Ingestor
)

func getIngestor() *reconciler.Ingestor {
	ingestOnce.Do(func() {
		if ingestInst != nil {
			return
		}
		ingestInst = reconciler.NewIngestor(
			getExecutor(),
			repository.GetGlobalFactory().GetWebhookEventRepository(),
		)
	})
	return ingestInst
}

// SetIngestor injects a prebuilt webhook ingestor. Intended for tests.
func SetIngestor(in *reconciler.Ingestor) {
	ingestInst = in
	ingestOnce = sync.Once{}
	if in != nil {
		ingestOnce.Do(func() {})
	}
}

type webhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		UserID uint `json:"user_id"`
	} `json:"data"`
}

// HandlePaymentWebhook receives provider webhooks. The raw body is verified
// against the shared secret before anything is parsed; a 5xx answer asks the
// provider to redeliver, anything else settles the delivery.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("PAYGATE_WEBHOOK_SECRET", "")
	body := c.Body()

	if !payment.VerifyWebhookSignature(body, c.Get("X-PayGate-Signature"), secret) {
		log.Warnf("[Webhook] Rejected delivery with invalid signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid_signature",
		})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid_payload",
		})
	}

	err := getIngestor().Ingest(c.Context(), reconciler.Event{
		Provider:   webhookProvider,
		EventID:    payload.ID,
		Type:       payload.Type,
		UserID:     payload.Data.UserID,
		RawPayload: body,
	})
	if err != nil {
		if subscription.CodeOf(err) == subscription.CodeProcessingChange {
			// Lock contention; the provider retries with backoff.
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "busy",
			})
		}
		log.Errorf("[Webhook] Failed to process %s/%s: %v", payload.Type, payload.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "processing_failed",
		})
	}
	return c.JSON(fiber.Map{"received": true})
}
