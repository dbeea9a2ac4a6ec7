package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"helpdesk-bot/models"
)

// ProcessAssistantReply delivers an assistant response: per-item send and
// persist, customer info merge, and at most one escalation per response.
// It is the dispatcher's fire target.
func (p *EventProcessor) ProcessAssistantReply(ctx context.Context, params DispatchParams, reply *AssistantReply) {
	conv, err := p.store.GetConversation(ctx, params.ConversationID)
	if err != nil {
		slog.Error("Failed to load conversation for assistant reply",
			"conversationID", params.ConversationID, "error", err)
		return
	}
	if conv == nil {
		slog.Warn("Assistant reply for unknown conversation",
			"conversationID", params.ConversationID)
		return
	}

	// A human may have taken over or closed the thread while the assistant
	// was thinking; their state wins
	if conv.CurrentHandler != models.HandlerChatbot || conv.Status != models.StatusOpen {
		slog.Info("Dropping assistant reply, conversation no longer bot-handled",
			"conversationID", conv.ConversationID,
			"currentHandler", conv.CurrentHandler,
			"status", conv.Status)
		GetMetrics().EventsDropped.WithLabelValues("handler_changed").Inc()
		return
	}

	company, page, err := p.pages.ResolvePage(ctx, params.PageID)
	if err != nil {
		slog.Error("Failed to resolve page for assistant reply",
			"pageID", params.PageID, "error", err)
		return
	}

	for _, item := range reply.Items {
		if item.ExtractedCustomerInfo != nil {
			if err := p.store.MergeCustomerInfo(ctx, params.CompanyID, params.PageID, params.CustomerID, item.ExtractedCustomerInfo); err != nil {
				slog.Warn("Failed to merge extracted customer info",
					"customerID", params.CustomerID, "error", err)
			}
		}

		if strings.TrimSpace(item.Answer) == "" {
			continue
		}

		conv = p.deliverReplyItem(ctx, company, page, conv, item)
	}

	if reply.WantsHuman() {
		p.escalate(ctx, conv)
	}
}

// deliverReplyItem sends one answer, records it, and returns the updated
// conversation state
func (p *EventProcessor) deliverReplyItem(ctx context.Context, company *models.Company, page *models.Page, conv *models.Conversation, item ReplyItem) *models.Conversation {
	attachments := p.rehostImages(ctx, item.Images)

	externalID, deliveryStatus := "", models.DeliverySent
	var err error

	switch conv.Source {
	case models.SourceComment:
		target := conv.LastCommentID
		if target == "" {
			slog.Warn("No comment to reply under, skipping delivery",
				"conversationID", conv.ConversationID)
			return conv
		}
		externalID, err = p.social.ReplyToComment(ctx, page, target, item.Answer)
	default:
		var attachment *models.Attachment
		if len(attachments) > 0 {
			attachment = &attachments[0]
		}
		externalID, err = p.social.SendMessage(ctx, page, conv.CustomerID, item.Answer, attachment)
	}
	if err != nil {
		slog.Error("Failed to deliver assistant reply",
			"conversationID", conv.ConversationID, "error", err)
		deliveryStatus = models.DeliveryFailed
	}

	now := time.Now()
	msg := &models.Message{
		ExternalID:     externalID,
		ConversationID: conv.ConversationID,
		CompanyID:      conv.CompanyID,
		PageID:         conv.PageID,
		SenderType:     models.SenderChatbot,
		SenderID:       page.PageID,
		SenderName:     page.PageName,
		MessageType:    "text",
		Text:           item.Answer,
		Attachments:    attachments,
		SentAt:         now,
		DeliveryStatus: deliveryStatus,
	}

	// The platform message ID doubles as the dedup key, so the delivery echo
	// coming back through the webhook is already a known event
	if _, err := p.store.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to record assistant reply",
			"conversationID", conv.ConversationID, "error", err)
		return conv
	}

	patch := MessageArrival(models.SenderChatbot, conv.CurrentHandler, "", "").
		WithRollups(item.Answer, now, models.SenderChatbot)

	updated, err := p.store.ApplyPatch(ctx, conv.ConversationID, patch)
	if err != nil || updated == nil {
		slog.Error("Failed to apply chatbot arrival transition",
			"conversationID", conv.ConversationID, "error", err)
		updated = conv
	}

	p.broadcastNewMessage(company.CompanyID, page.PageID, updated, msg)

	return updated
}

// escalate hands the conversation to humans and flags it for attention
func (p *EventProcessor) escalate(ctx context.Context, conv *models.Conversation) {
	// A customer message may have re-armed the dispatcher while replies were
	// being delivered; escalation makes that dispatch moot
	p.dispatcher.Cancel(conv.ConversationID)

	updated, err := p.store.ApplyPatch(ctx, conv.ConversationID,
		EscalatePatch("assistant requested human support", time.Now()))
	if err != nil || updated == nil {
		slog.Error("Failed to escalate conversation",
			"conversationID", conv.ConversationID, "error", err)
		return
	}

	GetMetrics().Escalations.Inc()
	slog.Info("Conversation escalated to human support",
		"conversationID", conv.ConversationID, "companyID", conv.CompanyID)

	p.broadcastConversation(EventConversationEscalated, updated)
}

func (p *EventProcessor) rehostImages(ctx context.Context, urls []string) []models.Attachment {
	var attachments []models.Attachment
	for _, url := range urls {
		if url == "" {
			continue
		}
		att, err := p.media.Rehost(ctx, url)
		if err != nil {
			slog.Warn("Failed to re-host assistant image, using source URL", "error", err)
			att = models.Attachment{Type: "image", URL: url}
		}
		attachments = append(attachments, att)
	}
	return attachments
}
