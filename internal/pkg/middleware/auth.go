package middleware

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MarkusWeber/ShotVault/app/models"
	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the authenticated user for every request.
// Authentication itself happens at the edge; the gateway forwards the
// verified identity in the X-User-ID header. Requests without the header
// pass through as anonymous and are stopped by RequireAuth where needed.
func UserContextMiddleware(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Get("X-User-ID"))
	if raw == "" {
		setAnonymous(c)
		return c.Next()
	}
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || userID == 0 {
		setAnonymous(c)
		return c.Next()
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(uint(userID))
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("user lookup failed for id %d: %v", userID, err)
		}
		setAnonymous(c)
		return c.Next()
	}
	if user.Status != models.STATUS_ACTIVE {
		setAnonymous(c)
		return c.Next()
	}

	plan := "free"
	if sub, err := repository.GetGlobalFactory().GetSubscriptionRepository().GetByUserID(user.ID); err == nil {
		plan = sub.Plan
	}

	c.Locals("USER_CONTEXT", usercontext.UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		IsLoggedIn: true,
		IsAdmin:    user.IsAdmin(),
		Plan:       plan,
	})
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUserID, user.ID)
	c.Locals(usercontext.KeyUsername, user.Name)
	c.Locals(usercontext.KeyIsAdmin, user.IsAdmin())
	return c.Next()
}

func setAnonymous(c *fiber.Ctx) {
	c.Locals("USER_CONTEXT", usercontext.UserContext{IsLoggedIn: false, IsAdmin: false})
	c.Locals(usercontext.KeyFromProtected, false)
	c.Locals(usercontext.KeyIsAdmin, false)
}

// RequireAuth ensures an authenticated user and returns JSON 401 otherwise.
func RequireAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures an authenticated admin and returns JSON 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
