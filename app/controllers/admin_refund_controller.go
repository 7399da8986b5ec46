package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/repository"
)

type resolveRefundRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes" validate:"max=1000"`
}

// HandleAdminListRefunds returns open refund requests for review, oldest
// first with manual-review cases on top.
func HandleAdminListRefunds(c *fiber.Ctx) error {
	reqs, err := repository.GetGlobalFactory().GetRefundRepository().ListOpen(100)
	if err != nil {
		return respondTransitionError(c, err)
	}

	out := make([]fiber.Map, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		out = append(out, fiber.Map{
			"uuid":                r.UUID,
			"user_id":             r.UserID,
			"amount":              r.Amount.StringFixed(2),
			"reason":              r.Reason,
			"usage_storage_bytes": r.UsageStorageBytes,
			"usage_gallery_count": r.UsageGalleryCount,
			"detected_path":       r.DetectedPath,
			"manual_review":       r.ManualReview,
			"created_at":          r.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"refund_requests": out})
}

// HandleAdminResolveRefund approves or denies one refund request.
func HandleAdminResolveRefund(c *fiber.Ctx) error {
	refundUUID := c.Params("uuid")
	if refundUUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "bad_request",
			"message": "refund uuid missing",
		})
	}

	var req resolveRefundRequest
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

	sub, err := getExecutor().ResolveRefund(c.Context(), refundUUID, req.Approve, req.Notes)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "not_found",
			})
		}
		return respondTransitionError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}
