// middleware/auth.go
package middleware

import (
	"strings"

	"gamified-lms/logger"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID = "user_id"
	localRoles  = "user_roles"
)

// UserContextMiddleware reads the identity headers set by the gateway.
// Every route behind it requires X-User-ID.
func UserContextMiddleware(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn("X-User-ID missing on secured route", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through the gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localRoles, roles)
		return c.Next()
	}
}

// RequireRole rejects callers holding none of roles. It must run after UserContextMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}
	return func(c *fiber.Ctx) error {
		for _, r := range UserRoles(c) {
			if allowed[r] {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}

// UserID returns the caller set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(localRoles).([]string)
	return roles
}
