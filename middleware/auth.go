package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"helpdesk-bot/models"
	"helpdesk-bot/services"
)

func RequireAuth(c *fiber.Ctx) error {
	sessionID := c.Cookies(services.SessionCookieName)
	if sessionID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	session, err := services.GetSessionByID(c.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to get session", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	if session == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired session",
		})
	}

	c.Locals("user_id", session.UserID)
	c.Locals("username", session.Username)
	c.Locals("company_id", session.CompanyID)
	c.Locals("role", session.Role)

	// Sliding expiration on activity
	services.ExtendSession(c.Context(), sessionID)

	return c.Next()
}

func RequireRole(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRole, ok := c.Locals("role").(string)
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Access denied",
			})
		}

		for _, allowed := range roles {
			if models.UserRole(userRole) == allowed {
				return c.Next()
			}
		}

		slog.Info("Access denied", "user_role", userRole, "required_roles", roles)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
}
