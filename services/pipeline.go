package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"helpdesk-bot/models"
)

// ErrNoReplyTarget is returned when a comment conversation has no upstream
// comment to reply under yet
var ErrNoReplyTarget = errors.New("conversation has no comment to reply to")

// Store is the persistence surface the pipeline drives. The production
// implementation is MongoDB; tests plug in fakes.
type Store interface {
	ResolveCustomer(ctx context.Context, in CustomerUpsert) (*models.Customer, bool, error)
	ResolveMessengerConversation(ctx context.Context, customer *models.Customer, pageName, threadID string) (*models.Conversation, bool, error)
	ResolveCommentConversation(ctx context.Context, customer *models.Customer, pageName, postID string, post *PostMeta) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	SeenEvent(ctx context.Context, externalID string) (bool, error)
	AppendMessage(ctx context.Context, message *models.Message) (bool, error)
	ApplyPatch(ctx context.Context, conversationID string, patch ConversationPatch) (*models.Conversation, error)
	MergeCustomerInfo(ctx context.Context, companyID, pageID, customerID string, info *ExtractedCustomerInfo) error
}

// SocialClient is the outbound social-platform collaborator
type SocialClient interface {
	SendMessage(ctx context.Context, page *models.Page, recipientID, text string, attachment *models.Attachment) (string, error)
	ReplyToComment(ctx context.Context, page *models.Page, commentID, text string) (string, error)
	FetchProfile(ctx context.Context, page *models.Page, userID string) (*Profile, error)
	FetchPost(ctx context.Context, page *models.Page, postID string) (*PostMeta, error)
}

// Broadcaster pushes state deltas to connected staff clients
type Broadcaster interface {
	BroadcastToCompany(companyID string, message BroadcastMessage)
}

// PageResolver maps a page ID back to its tenant configuration
type PageResolver interface {
	ResolvePage(ctx context.Context, pageID string) (*models.Company, *models.Page, error)
}

// MediaStore re-hosts upstream media into our own object store. The store
// itself is an external collaborator; the default implementation passes the
// upstream URL through untouched.
type MediaStore interface {
	Rehost(ctx context.Context, url string) (models.Attachment, error)
}

// InboundMessage is a normalized direct-message event
type InboundMessage struct {
	MID         string
	ThreadID    string
	SenderID    string
	Text        string
	Attachments []models.Attachment
	IsEcho      bool
	SentAt      time.Time
}

// InboundComment is a normalized page-post comment event
type InboundComment struct {
	CommentID  string
	PostID     string
	ParentID   string
	SenderID   string
	SenderName string
	Text       string
	SentAt     time.Time
}

// EventProcessor runs the inbound pipeline: dedup, identity resolution,
// conversation resolution, append, handler transition, fan-out, and the
// debounced assistant dispatch.
type EventProcessor struct {
	store      Store
	social     SocialClient
	media      MediaStore
	ws         Broadcaster
	pages      PageResolver
	dispatcher *Dispatcher

	// Fallback debounce window in seconds when the tenant has no override
	defaultDelay int
}

// NewEventProcessor wires the pipeline. The dispatcher is attached afterwards
// because its fire callback needs the processor.
func NewEventProcessor(store Store, social SocialClient, media MediaStore, ws Broadcaster, pages PageResolver, defaultDelay int) *EventProcessor {
	return &EventProcessor{
		store:        store,
		social:       social,
		media:        media,
		ws:           ws,
		pages:        pages,
		defaultDelay: defaultDelay,
	}
}

// SetDispatcher attaches the debounced dispatcher
func (p *EventProcessor) SetDispatcher(d *Dispatcher) {
	p.dispatcher = d
}

// Dispatcher returns the attached dispatcher
func (p *EventProcessor) Dispatcher() *Dispatcher {
	return p.dispatcher
}

// GetConversation loads one conversation through the pipeline's store.
// Unknown ids return (nil, nil).
func (p *EventProcessor) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return p.store.GetConversation(ctx, conversationID)
}

// HandleMessage runs one direct-message event through the pipeline
func (p *EventProcessor) HandleMessage(ctx context.Context, company *models.Company, page *models.Page, ev InboundMessage) error {
	m := GetMetrics()
	m.EventsReceived.WithLabelValues(models.SourceMessenger).Inc()

	// Echoes confirm messages this system already wrote synchronously when
	// it sent them; they never reach conversation resolution
	if ev.IsEcho {
		m.EventsEcho.Inc()
		slog.Debug("Echo event discarded", "mid", ev.MID)
		return nil
	}

	if seen, err := p.store.SeenEvent(ctx, ev.MID); err != nil {
		return fmt.Errorf("dedup check: %w", err)
	} else if seen {
		m.EventsDuplicate.Inc()
		return nil
	}

	// Lazy profile refresh with a readable fallback when the platform is shy
	name, firstName, lastName, avatar := ev.SenderID, "", "", ""
	profileStale := false
	profile, err := p.social.FetchProfile(ctx, page, ev.SenderID)
	if err != nil {
		slog.Warn("Failed to fetch user profile", "senderID", ev.SenderID, "error", err)
		name = FallbackName(ev.SenderID)
		profileStale = true
	} else if profile.Name() != "" {
		name = profile.Name()
		firstName = profile.FirstName
		lastName = profile.LastName
		avatar = profile.Picture
	} else {
		name = FallbackName(ev.SenderID)
	}

	customer, _, err := p.store.ResolveCustomer(ctx, CustomerUpsert{
		CompanyID:    company.CompanyID,
		PageID:       page.PageID,
		PageName:     page.PageName,
		CustomerID:   ev.SenderID,
		Name:         name,
		FirstName:    firstName,
		LastName:     lastName,
		AvatarURL:    avatar,
		LastMessage:  ev.Text,
		ProfileStale: profileStale,
	})
	if err != nil {
		return fmt.Errorf("resolve customer: %w", err)
	}
	// A known customer keeps their stored name when the fetch failed
	if profileStale && customer.Name != "" {
		name = customer.Name
	}

	conv, created, err := p.store.ResolveMessengerConversation(ctx, customer, page.PageName, ev.ThreadID)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		p.ws.BroadcastToCompany(company.CompanyID, BroadcastMessage{
			PageID: page.PageID,
			Type:   EventNewConversation,
			Data:   conv,
		})
	}

	messageType := "text"
	if len(ev.Attachments) > 0 {
		messageType = "attachment"
	}

	msg := &models.Message{
		ExternalID:     ev.MID,
		ConversationID: conv.ConversationID,
		CompanyID:      company.CompanyID,
		PageID:         page.PageID,
		SenderType:     models.SenderCustomer,
		SenderID:       ev.SenderID,
		SenderName:     name,
		MessageType:    messageType,
		Text:           ev.Text,
		Attachments:    ev.Attachments,
		SentAt:         ev.SentAt,
	}

	inserted, err := p.store.AppendMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		// Lost the race against a concurrent redelivery; the winner already
		// ran the side effects
		m.EventsDuplicate.Inc()
		return nil
	}

	patch := MessageArrival(models.SenderCustomer, conv.CurrentHandler, "", "").
		WithRollups(ev.Text, ev.SentAt, models.SenderCustomer)

	updated, err := p.store.ApplyPatch(ctx, conv.ConversationID, patch)
	if err != nil {
		// Rollup drift is accepted over wrapping the pipeline in a
		// transaction; the message itself is safely stored
		slog.Error("Failed to apply arrival transition",
			"conversationID", conv.ConversationID, "error", err)
		updated = conv
	}

	p.broadcastNewMessage(company.CompanyID, page.PageID, updated, msg)

	p.maybeArmDispatch(company, page, updated)

	return nil
}

// HandleComment runs one page-post comment event through the pipeline
func (p *EventProcessor) HandleComment(ctx context.Context, company *models.Company, page *models.Page, ev InboundComment) error {
	m := GetMetrics()
	m.EventsReceived.WithLabelValues(models.SourceComment).Inc()

	// Comments authored by the page are this system's own replies coming back
	if ev.SenderID == "" || ev.SenderID == page.PageID {
		m.EventsEcho.Inc()
		slog.Debug("Skipping page's own comment", "commentID", ev.CommentID, "pageID", page.PageID)
		return nil
	}

	if seen, err := p.store.SeenEvent(ctx, ev.CommentID); err != nil {
		return fmt.Errorf("dedup check: %w", err)
	} else if seen {
		m.EventsDuplicate.Inc()
		return nil
	}

	name := ev.SenderName
	profileStale := false
	if name == "" {
		name = FallbackName(ev.SenderID)
		profileStale = true
	}

	customer, _, err := p.store.ResolveCustomer(ctx, CustomerUpsert{
		CompanyID:    company.CompanyID,
		PageID:       page.PageID,
		PageName:     page.PageName,
		CustomerID:   ev.SenderID,
		Name:         name,
		LastMessage:  ev.Text,
		ProfileStale: profileStale,
	})
	if err != nil {
		return fmt.Errorf("resolve customer: %w", err)
	}
	if profileStale && customer.Name != "" {
		name = customer.Name
	}

	// Post metadata is denormalized onto the conversation when the thread
	// opens; the fetch failing only costs the preview
	post, err := p.social.FetchPost(ctx, page, ev.PostID)
	if err != nil {
		slog.Warn("Failed to fetch post metadata", "postID", ev.PostID, "error", err)
		post = nil
	}

	conv, created, err := p.store.ResolveCommentConversation(ctx, customer, page.PageName, ev.PostID, post)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		p.ws.BroadcastToCompany(company.CompanyID, BroadcastMessage{
			PageID: page.PageID,
			Type:   EventNewConversation,
			Data:   conv,
		})
	}

	msg := &models.Message{
		ExternalID:     ev.CommentID,
		ConversationID: conv.ConversationID,
		CompanyID:      company.CompanyID,
		PageID:         page.PageID,
		SenderType:     models.SenderCustomer,
		SenderID:       ev.SenderID,
		SenderName:     name,
		MessageType:    "text",
		Text:           ev.Text,
		SentAt:         ev.SentAt,
	}

	inserted, err := p.store.AppendMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		m.EventsDuplicate.Inc()
		return nil
	}

	patch := MessageArrival(models.SenderCustomer, conv.CurrentHandler, "", "").
		WithRollups(ev.Text, ev.SentAt, models.SenderCustomer)
	patch.LastCommentID = strPtr(ev.CommentID)

	updated, err := p.store.ApplyPatch(ctx, conv.ConversationID, patch)
	if err != nil {
		slog.Error("Failed to apply arrival transition",
			"conversationID", conv.ConversationID, "error", err)
		updated = conv
	}

	p.broadcastNewMessage(company.CompanyID, page.PageID, updated, msg)

	p.maybeArmDispatch(company, page, updated)

	return nil
}

// HandleStaffMessage sends a staff reply through the social collaborator and
// records it. A staff message always takes the conversation over for humans.
func (p *EventProcessor) HandleStaffMessage(ctx context.Context, company *models.Company, page *models.Page, conversationID string, staff *models.User, text string) (*models.Message, error) {
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}

	var externalID string
	switch conv.Source {
	case models.SourceComment:
		if conv.LastCommentID == "" {
			return nil, ErrNoReplyTarget
		}
		externalID, err = p.social.ReplyToComment(ctx, page, conv.LastCommentID, text)
	default:
		externalID, err = p.social.SendMessage(ctx, page, conv.CustomerID, text, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("send staff reply: %w", err)
	}

	now := time.Now()
	msg := &models.Message{
		ExternalID:     externalID,
		ConversationID: conv.ConversationID,
		CompanyID:      company.CompanyID,
		PageID:         page.PageID,
		SenderType:     models.SenderStaff,
		SenderID:       staff.UserID,
		SenderName:     staff.FullName,
		MessageType:    "text",
		Text:           text,
		SentAt:         now,
		DeliveryStatus: models.DeliverySent,
	}

	if _, err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	patch := MessageArrival(models.SenderStaff, conv.CurrentHandler, staff.UserID, staff.FullName).
		WithRollups(text, now, models.SenderStaff)

	updated, err := p.store.ApplyPatch(ctx, conv.ConversationID, patch)
	if err != nil {
		slog.Error("Failed to apply staff arrival transition",
			"conversationID", conv.ConversationID, "error", err)
		updated = conv
	}

	// Human took over, any pending automated reply is stale
	p.dispatcher.Cancel(conv.ConversationID)

	p.broadcastNewMessage(company.CompanyID, page.PageID, updated, msg)
	p.broadcastConversation(EventConversationUpdated, updated)

	return msg, nil
}

// AssignConversation hands a conversation to a specific staff member
func (p *EventProcessor) AssignConversation(ctx context.Context, conversationID string, staff *models.User) (*models.Conversation, error) {
	updated, err := p.store.ApplyPatch(ctx, conversationID, AssignPatch(staff.UserID, staff.FullName))
	if err != nil || updated == nil {
		return updated, err
	}

	p.dispatcher.Cancel(conversationID)
	p.broadcastConversation(EventConversationUpdated, updated)
	return updated, nil
}

// ReturnConversationToBot hands a conversation back to the chatbot
func (p *EventProcessor) ReturnConversationToBot(ctx context.Context, conversationID string, staff *models.User) (*models.Conversation, error) {
	updated, err := p.store.ApplyPatch(ctx, conversationID, ReturnToBotPatch(staff.UserID))
	if err != nil || updated == nil {
		return updated, err
	}

	p.broadcastConversation(EventConversationUpdated, updated)
	return updated, nil
}

// MarkConversationRead clears the attention flag. The original first-reader
// record is preserved.
func (p *EventProcessor) MarkConversationRead(ctx context.Context, conversationID string) (*models.Conversation, error) {
	updated, err := p.store.ApplyPatch(ctx, conversationID, MarkReadPatch())
	if err != nil || updated == nil {
		return updated, err
	}

	p.broadcastConversation(EventConversationUpdated, updated)
	return updated, nil
}

// MarkConversationUnread re-flags a conversation, recording who flagged it
func (p *EventProcessor) MarkConversationUnread(ctx context.Context, conversationID string, staff *models.User) (*models.Conversation, error) {
	updated, err := p.store.ApplyPatch(ctx, conversationID, MarkUnreadPatch(staff.UserID, staff.FullName))
	if err != nil || updated == nil {
		return updated, err
	}

	p.broadcastConversation(EventConversationUpdated, updated)
	return updated, nil
}

// CloseConversation closes a conversation and drops any pending dispatch
func (p *EventProcessor) CloseConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	updated, err := p.store.ApplyPatch(ctx, conversationID, ClosePatch())
	if err != nil || updated == nil {
		return updated, err
	}

	p.dispatcher.Cancel(conversationID)
	p.broadcastConversation(EventConversationUpdated, updated)
	return updated, nil
}

// maybeArmDispatch (re)arms the debounce timer when the conversation
// qualifies for an automated reply
func (p *EventProcessor) maybeArmDispatch(company *models.Company, page *models.Page, conv *models.Conversation) {
	if conv.CurrentHandler != models.HandlerChatbot || conv.Status != models.StatusOpen {
		return
	}
	if !company.IsActive || !company.BotEnabled || !page.BotEnabled {
		return
	}

	p.dispatcher.Arm(DispatchParams{
		CompanyID:      company.CompanyID,
		ConversationID: conv.ConversationID,
		PageID:         page.PageID,
		CustomerID:     conv.CustomerID,
	}, DispatchDelay(company, p.defaultDelay))
}

func (p *EventProcessor) broadcastNewMessage(companyID, pageID string, conv *models.Conversation, msg *models.Message) {
	p.ws.BroadcastToCompany(companyID, BroadcastMessage{
		PageID: pageID,
		Type:   EventNewMessage,
		Data: map[string]interface{}{
			"conversation_id":          conv.ConversationID,
			"message":                  msg,
			"current_handler":          conv.CurrentHandler,
			"needs_attention":          conv.NeedsAttention,
			"last_message_text":        conv.LastMessageText,
			"last_message_at":          conv.LastMessageAt,
			"last_message_from":        conv.LastMessageFrom,
			"total_messages":           conv.TotalMessages,
			"unread_customer_messages": conv.UnreadCustomerMessages,
		},
	})
}

func (p *EventProcessor) broadcastConversation(eventType string, conv *models.Conversation) {
	p.ws.BroadcastToCompany(conv.CompanyID, BroadcastMessage{
		PageID: conv.PageID,
		Type:   eventType,
		Data:   conv,
	})
}

// Singleton wiring used by the HTTP layer

var pipeline *EventProcessor

// InitPipeline installs the process-wide event processor
func InitPipeline(p *EventProcessor) {
	pipeline = p
}

// Pipeline returns the process-wide event processor
func Pipeline() *EventProcessor {
	return pipeline
}
