package middleware

import (
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const userLocal = "user"

// RequireAuth ensures a user is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals(userLocal)
		if user == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		// Attach auth context for handlers (same key)
		c.Locals("auth", user)
		return c.Next()
	}
}

// RequireEligible ensures the session user has passed the eligibility check.
// Must run after RequireAuth. Returns 403 for authenticated but ineligible users.
func RequireEligible() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals(userLocal).(map[string]interface{})
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		eligible, _ := user["eligible"].(bool)
		if !eligible {
			return response.Error(c, "Account has not completed the eligibility check", fiber.StatusForbidden, nil)
		}
		return c.Next()
	}
}

// GetUser returns the session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}
