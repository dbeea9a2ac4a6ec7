package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"helpdesk-bot/models"
	"helpdesk-bot/services"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

func Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username and password are required",
		})
	}

	user, err := services.AuthenticateUser(c.Context(), req.Username, req.Password)
	if err != nil {
		slog.Info("Login rejected", "username", req.Username)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	session, err := services.CreateSession(c.Context(), user, c.IP(), c.Get("User-Agent"))
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     services.SessionCookieName,
		Value:    session.SessionID,
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		SameSite: "Lax",
		Path:     "/",
	})

	slog.Info("User logged in", "userID", user.UserID, "companyID", user.CompanyID)

	return c.Status(fiber.StatusOK).JSON(LoginResponse{
		Message: "Login successful",
		User:    user,
	})
}

func Logout(c *fiber.Ctx) error {
	sessionID := c.Cookies(services.SessionCookieName)
	if sessionID != "" {
		if err := services.DestroySession(c.Context(), sessionID); err != nil {
			slog.Error("Failed to destroy session", "error", err)
		}
	}

	c.ClearCookie(services.SessionCookieName)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Logged out successfully",
	})
}

// Me returns the authenticated user's profile
func Me(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	user, err := services.GetUserByID(c.Context(), userID)
	if err != nil {
		slog.Error("Failed to get user", "userID", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load user",
		})
	}
	if user == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	return c.JSON(user)
}
