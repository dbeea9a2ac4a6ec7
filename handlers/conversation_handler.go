package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"helpdesk-bot/models"
	"helpdesk-bot/services"
)

// ListConversations returns the company's conversations, filtered and
// paginated
func ListConversations(c *fiber.Ctx) error {
	companyID, _ := c.Locals("company_id").(string)

	filter := services.ConversationFilter{
		PageID:     c.Query("page_id"),
		Status:     c.Query("status"),
		Handler:    c.Query("handler"),
		AssignedTo: c.Query("assigned_to"),
	}
	if v := c.Query("needs_attention"); v != "" {
		needs := v == "true"
		filter.NeedsAttention = &needs
	}

	limit := queryInt(c, "limit", 20, 100)
	page := queryInt(c, "page", 1, 10000)
	skip := (page - 1) * limit

	conversations, total, err := services.ListConversations(c.Context(), companyID, filter, limit, skip)
	if err != nil {
		slog.Error("Failed to list conversations", "companyID", companyID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetConversation returns a single conversation
func GetConversation(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}

// ListConversationMessages returns a conversation's messages in send order
func ListConversationMessages(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	limit := queryInt(c, "limit", 50, 200)
	page := queryInt(c, "page", 1, 10000)
	skip := (page - 1) * limit

	messages, total, err := services.ListMessages(c.Context(), conv.ConversationID, limit, skip)
	if err != nil {
		slog.Error("Failed to list messages", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list messages",
		})
	}

	return c.JSON(fiber.Map{
		"messages": messages,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// AssignConversation assigns the conversation to the calling staff member,
// or to the user named in the body
func AssignConversation(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	// Body is optional; default is self-assignment
	_ = c.BodyParser(&req)

	targetID := req.UserID
	if targetID == "" {
		targetID, _ = c.Locals("user_id").(string)
	}

	staff, err := loadStaffUser(c, targetID)
	if err != nil {
		return err
	}

	updated, err := services.Pipeline().AssignConversation(c.Context(), conv.ConversationID, staff)
	if err != nil {
		slog.Error("Failed to assign conversation", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to assign conversation",
		})
	}

	return c.JSON(updated)
}

// ReturnToBot hands the conversation back to the chatbot
func ReturnToBot(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	userID, _ := c.Locals("user_id").(string)
	staff, err := loadStaffUser(c, userID)
	if err != nil {
		return err
	}

	updated, err := services.Pipeline().ReturnConversationToBot(c.Context(), conv.ConversationID, staff)
	if err != nil {
		slog.Error("Failed to return conversation to bot", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to return conversation to bot",
		})
	}

	return c.JSON(updated)
}

// MarkRead clears the attention flag on a conversation
func MarkRead(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	updated, err := services.Pipeline().MarkConversationRead(c.Context(), conv.ConversationID)
	if err != nil {
		slog.Error("Failed to mark conversation read", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to mark conversation read",
		})
	}

	return c.JSON(updated)
}

// MarkUnread re-flags a conversation for attention
func MarkUnread(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	userID, _ := c.Locals("user_id").(string)
	staff, err := loadStaffUser(c, userID)
	if err != nil {
		return err
	}

	updated, err := services.Pipeline().MarkConversationUnread(c.Context(), conv.ConversationID, staff)
	if err != nil {
		slog.Error("Failed to mark conversation unread", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to mark conversation unread",
		})
	}

	return c.JSON(updated)
}

// CloseConversation closes a conversation
func CloseConversation(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	updated, err := services.Pipeline().CloseConversation(c.Context(), conv.ConversationID)
	if err != nil {
		slog.Error("Failed to close conversation", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to close conversation",
		})
	}

	return c.JSON(updated)
}

// SendStaffMessage sends a staff reply into the conversation's channel
func SendStaffMessage(c *fiber.Ctx) error {
	conv, err := loadCompanyConversation(c)
	if err != nil {
		return err
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message text is required",
		})
	}

	userID, _ := c.Locals("user_id").(string)
	staff, err := loadStaffUser(c, userID)
	if err != nil {
		return err
	}

	company, page, err := services.NewPageResolver().ResolvePage(c.Context(), conv.PageID)
	if err != nil {
		slog.Error("Failed to resolve page for staff message", "pageID", conv.PageID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve page",
		})
	}

	msg, err := services.Pipeline().HandleStaffMessage(c.Context(), company, page, conv.ConversationID, staff, req.Text)
	if err != nil {
		if errors.Is(err, services.ErrNoReplyTarget) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Conversation has no comment to reply to",
			})
		}
		slog.Error("Failed to send staff message", "conversationID", conv.ConversationID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to send message",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

// loadCompanyConversation loads the conversation named in the path and
// enforces tenant ownership. The returned error is a *fiber.Error carrying
// the status; a non-nil error always means no conversation.
func loadCompanyConversation(c *fiber.Ctx) (*models.Conversation, error) {
	companyID, _ := c.Locals("company_id").(string)
	conversationID := c.Params("conversationID")

	conv, err := services.Pipeline().GetConversation(c.Context(), conversationID)
	if err != nil {
		slog.Error("Failed to get conversation", "conversationID", conversationID, "error", err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to load conversation")
	}
	if conv == nil || conv.CompanyID != companyID {
		return nil, fiber.NewError(fiber.StatusNotFound, "Conversation not found")
	}

	return conv, nil
}

// loadStaffUser loads a staff user scoped to the caller's company
func loadStaffUser(c *fiber.Ctx, userID string) (*models.User, error) {
	companyID, _ := c.Locals("company_id").(string)

	user, err := services.GetUserByID(c.Context(), userID)
	if err != nil {
		slog.Error("Failed to load staff user", "userID", userID, "error", err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to load user")
	}
	if user == nil || user.CompanyID != companyID {
		return nil, fiber.NewError(fiber.StatusNotFound, "User not found")
	}

	return user, nil
}

func queryInt(c *fiber.Ctx, key string, def, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
