package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"helpdesk-bot/config"
	"helpdesk-bot/models"
	"helpdesk-bot/services"
)

const processTimeout = 30 * time.Second

func RegisterRoutes(app *fiber.App, cfg *config.Config) {
	webhook := app.Group("/webhook")

	// Webhook verification endpoint
	webhook.Get("/", verifyWebhook(cfg))

	// Webhook event handler
	webhook.Post("/", handleWebhookEvent(cfg))
}

// verifyWebhook answers the platform's subscription handshake
func verifyWebhook(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode == "subscribe" && token == cfg.VerifyToken {
			slog.Info("Webhook verified successfully")
			return c.SendString(challenge)
		}

		slog.Warn("Webhook verification failed", "mode", mode)
		return c.SendStatus(fiber.StatusForbidden)
	}
}

// handleWebhookEvent accepts a callback, acknowledges immediately, and hands
// the entries to the pipeline in the background. Slow processing must never
// make the platform retry the delivery.
func handleWebhookEvent(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Body()

		if !verifySignature(cfg, raw, c.Get("X-Hub-Signature-256")) {
			if cfg.StrictSignature {
				slog.Warn("Webhook signature rejected")
				services.GetMetrics().EventsDropped.WithLabelValues("bad_signature").Inc()
				return c.SendStatus(fiber.StatusForbidden)
			}
			// Lenient mode keeps processing so a misconfigured secret does
			// not silently drop customer traffic
			slog.Warn("Webhook signature verification failed, continuing in lenient mode")
		}

		var body WebhookEvent
		if err := json.Unmarshal(raw, &body); err != nil {
			slog.Error("Failed to parse webhook body", "error", err)
			return c.SendStatus(fiber.StatusBadRequest)
		}

		if body.Object != "page" {
			return c.SendStatus(fiber.StatusNotFound)
		}

		go processWebhookEvent(body)

		return c.SendString("EVENT_RECEIVED")
	}
}

// verifySignature checks the HMAC-SHA256 payload signature. Without an app
// secret there is nothing to verify and the payload passes; whether a failed
// check drops the delivery is the caller's strict-mode decision.
func verifySignature(cfg *config.Config, body []byte, header string) bool {
	if cfg.AppSecret == "" {
		return true
	}
	if header == "" {
		return false
	}

	provided := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(provided), []byte(expected))
}

// processWebhookEvent runs every entry through the pipeline
func processWebhookEvent(body WebhookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	for _, entry := range body.Entry {
		pageID := entry.ID

		company, err := services.GetCompanyByPageID(ctx, pageID)
		if err != nil {
			slog.Error("Failed to look up company for page", "pageID", pageID, "error", err)
			continue
		}
		if company == nil {
			slog.Warn("Webhook for unknown or inactive page", "pageID", pageID)
			services.GetMetrics().EventsDropped.WithLabelValues("unknown_page").Inc()
			continue
		}

		page, err := services.GetPageConfig(company, pageID)
		if err != nil {
			slog.Error("Page missing from company config", "pageID", pageID, "error", err)
			continue
		}

		for _, messaging := range entry.Messaging {
			if messaging.Message == nil {
				continue
			}
			handleMessaging(ctx, company, page, messaging)
		}

		for _, change := range entry.Changes {
			if change.Field != "feed" || change.Value.Item != "comment" {
				continue
			}
			handleCommentChange(ctx, company, page, change.Value)
		}
	}
}

func handleMessaging(ctx context.Context, company *models.Company, page *models.Page, messaging Messaging) {
	ev := services.InboundMessage{
		MID:      messaging.Message.MID,
		ThreadID: messaging.Sender.ID,
		SenderID: messaging.Sender.ID,
		Text:     messaging.Message.Text,
		IsEcho:   messaging.Message.IsEcho,
		SentAt:   eventTime(messaging.Timestamp),
	}

	for _, att := range messaging.Message.Attachments {
		ev.Attachments = append(ev.Attachments, models.Attachment{
			Type: att.Type,
			URL:  att.Payload.URL,
		})
	}

	if err := services.Pipeline().HandleMessage(ctx, company, page, ev); err != nil {
		slog.Error("Failed to process message event",
			"mid", ev.MID, "pageID", page.PageID, "error", err)
	}
}

func handleCommentChange(ctx context.Context, company *models.Company, page *models.Page, value ChangeValue) {
	senderID := value.SenderID
	senderName := value.SenderName
	if value.From != nil {
		if value.From.ID != "" {
			senderID = value.From.ID
		}
		if value.From.Name != "" {
			senderName = value.From.Name
		}
	}

	ev := services.InboundComment{
		CommentID:  value.CommentID,
		PostID:     value.PostID,
		ParentID:   value.ParentID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       value.Message,
		SentAt:     eventTime(value.CreatedTime),
	}

	if err := services.Pipeline().HandleComment(ctx, company, page, ev); err != nil {
		slog.Error("Failed to process comment event",
			"commentID", ev.CommentID, "pageID", page.PageID, "error", err)
	}
}

// eventTime converts a platform timestamp, tolerating both seconds and
// milliseconds
func eventTime(ts int64) time.Time {
	if ts == 0 {
		return time.Now()
	}
	if ts > 1e12 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}
