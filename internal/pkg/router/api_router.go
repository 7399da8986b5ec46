package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/MarkusWeber/ShotVault/app/controllers"
	apiv1 "github.com/MarkusWeber/ShotVault/internal/api/v1"
	"github.com/MarkusWeber/ShotVault/internal/pkg/constants"
	"github.com/MarkusWeber/ShotVault/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Provider webhooks authenticate via signature, not user identity, and
	// must never be rate limited away from us.
	app.Post(constants.WebhookRoute, controllers.HandlePaymentWebhook)

	api := app.Group(constants.APIRoute, limiter.New(), middleware.UserContextMiddleware)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer()
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
