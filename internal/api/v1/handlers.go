package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MarkusWeber/ShotVault/app/controllers"
	"github.com/MarkusWeber/ShotVault/internal/pkg/middleware"
)

// APIServer implements the v1 subscription API surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// GetPlans lists the plan registry.
func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	return controllers.HandleGetPlans(c)
}

// GetSubscription returns the caller's subscription state.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	return controllers.HandleGetSubscription(c)
}

// PostSubscriptionChange applies a requested transition for the caller.
func (s *APIServer) PostSubscriptionChange(c *fiber.Ctx) error {
	return controllers.HandleChangeSubscription(c)
}

// GetSubscriptionHistory returns the caller's transition log.
func (s *APIServer) GetSubscriptionHistory(c *fiber.Ctx) error {
	return controllers.HandleSubscriptionHistory(c)
}

// GetAdminRefunds lists open refund requests (admin only).
func (s *APIServer) GetAdminRefunds(c *fiber.Ctx) error {
	return controllers.HandleAdminListRefunds(c)
}

// PostAdminResolveRefund decides one refund request (admin only).
func (s *APIServer) PostAdminResolveRefund(c *fiber.Ctx) error {
	return controllers.HandleAdminResolveRefund(c)
}

// RegisterHandlers wires the v1 routes onto the given router group.
func RegisterHandlers(v1 fiber.Router, s *APIServer) {
	v1.Get("/ping", s.GetPing)
	v1.Get("/plans", s.GetPlans)

	v1.Get("/subscription", middleware.RequireAuth, s.GetSubscription)
	v1.Post("/subscription/change", middleware.RequireAuth, s.PostSubscriptionChange)
	v1.Get("/subscription/history", middleware.RequireAuth, s.GetSubscriptionHistory)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/refunds", s.GetAdminRefunds)
	admin.Post("/refunds/:uuid/resolve", s.PostAdminResolveRefund)
}
