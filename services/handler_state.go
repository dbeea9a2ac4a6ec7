package services

import (
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"

	"helpdesk-bot/models"
)

// ConversationPatch is an explicit, typed partial update for a conversation.
// Every handler and attention transition in the system is expressed as one of
// these and applied through a single code path, so the transition table stays
// exhaustive and testable.
type ConversationPatch struct {
	CurrentHandler *string
	NeedsAttention *bool
	IsRead         *bool
	ReadBy         *string // empty string clears read_by / read_by_name
	ReadByName     *string
	AssignedTo     *string
	AssignedName   *string
	Status         *string

	// Unread counter: ResetUnread wins over UnreadDelta
	UnreadDelta int
	ResetUnread bool

	// Rollup fields, set on every message arrival
	CountMessage    bool
	LastMessageText *string
	LastMessageAt   *time.Time
	LastMessageFrom *string
	LastCommentID   *string

	// Escalation metadata
	EscalatedFromBot *bool
	EscalationReason *string
	EscalatedAt      *time.Time

	// Return-to-bot bookkeeping
	IncReturnedToBot bool
	LastReturnedBy   *string
}

// MessageArrival returns the transition triggered by a message being appended
// to a conversation, according to who sent it and who currently handles the
// thread.
//
//	customer + chatbot handler: nothing changes, the assistant will answer
//	customer + human handler:   the thread demands attention and counts unread
//	staff:                      handler is forced to human, thread is read
//	chatbot:                    counters reset, handler stays as-is
func MessageArrival(senderType, currentHandler, staffID, staffName string) ConversationPatch {
	var patch ConversationPatch
	patch.CountMessage = true

	switch senderType {
	case models.SenderCustomer:
		if currentHandler == models.HandlerHuman {
			patch.NeedsAttention = boolPtr(true)
			patch.IsRead = boolPtr(false)
			patch.ReadBy = strPtr("")
			patch.ReadByName = strPtr("")
			patch.UnreadDelta = 1
		} else {
			patch.NeedsAttention = boolPtr(false)
		}
	case models.SenderStaff:
		patch.CurrentHandler = strPtr(models.HandlerHuman)
		patch.NeedsAttention = boolPtr(false)
		patch.IsRead = boolPtr(true)
		patch.ReadBy = strPtr(staffID)
		patch.ReadByName = strPtr(staffName)
		patch.ResetUnread = true
	case models.SenderChatbot:
		patch.NeedsAttention = boolPtr(false)
		patch.ResetUnread = true
	}

	return patch
}

// WithRollups attaches the last-message rollup fields to an arrival patch
func (p ConversationPatch) WithRollups(text string, at time.Time, from string) ConversationPatch {
	p.LastMessageText = strPtr(truncatePreview(text))
	p.LastMessageAt = &at
	p.LastMessageFrom = strPtr(from)
	return p
}

// AssignPatch transfers a conversation to a specific staff member
func AssignPatch(staffID, staffName string) ConversationPatch {
	return ConversationPatch{
		CurrentHandler: strPtr(models.HandlerHuman),
		NeedsAttention: boolPtr(false),
		AssignedTo:     strPtr(staffID),
		AssignedName:   strPtr(staffName),
	}
}

// ReturnToBotPatch hands a conversation back to the chatbot
func ReturnToBotPatch(staffID string) ConversationPatch {
	return ConversationPatch{
		CurrentHandler:   strPtr(models.HandlerChatbot),
		NeedsAttention:   boolPtr(false),
		ResetUnread:      true,
		IncReturnedToBot: true,
		LastReturnedBy:   strPtr(staffID),
	}
}

// MarkReadPatch marks a conversation read. It deliberately leaves read_by
// untouched so the record of the actual first reader survives.
func MarkReadPatch() ConversationPatch {
	return ConversationPatch{
		NeedsAttention: boolPtr(false),
		IsRead:         boolPtr(true),
	}
}

// MarkUnreadPatch flags a conversation for attention. read_by records who
// flagged it.
func MarkUnreadPatch(staffID, staffName string) ConversationPatch {
	return ConversationPatch{
		NeedsAttention: boolPtr(true),
		IsRead:         boolPtr(false),
		ReadBy:         strPtr(staffID),
		ReadByName:     strPtr(staffName),
	}
}

// EscalatePatch is the system-initiated transfer from chatbot to human
func EscalatePatch(reason string, at time.Time) ConversationPatch {
	return ConversationPatch{
		CurrentHandler:   strPtr(models.HandlerHuman),
		NeedsAttention:   boolPtr(true),
		IsRead:           boolPtr(false),
		EscalatedFromBot: boolPtr(true),
		EscalationReason: strPtr(reason),
		EscalatedAt:      &at,
	}
}

// ClosePatch closes a conversation
func ClosePatch() ConversationPatch {
	return ConversationPatch{
		Status:         strPtr(models.StatusClosed),
		NeedsAttention: boolPtr(false),
	}
}

// ToUpdate translates the patch into a MongoDB update document
func (p ConversationPatch) ToUpdate() bson.M {
	set := bson.M{"updated_at": time.Now()}
	inc := bson.M{}

	if p.CurrentHandler != nil {
		set["current_handler"] = *p.CurrentHandler
	}
	if p.NeedsAttention != nil {
		set["needs_attention"] = *p.NeedsAttention
	}
	if p.IsRead != nil {
		set["is_read"] = *p.IsRead
	}
	if p.ReadBy != nil {
		set["read_by"] = *p.ReadBy
	}
	if p.ReadByName != nil {
		set["read_by_name"] = *p.ReadByName
	}
	if p.AssignedTo != nil {
		set["assigned_to"] = *p.AssignedTo
	}
	if p.AssignedName != nil {
		set["assigned_name"] = *p.AssignedName
	}
	if p.Status != nil {
		set["status"] = *p.Status
	}
	if p.ResetUnread {
		set["unread_customer_messages"] = 0
	} else if p.UnreadDelta != 0 {
		inc["unread_customer_messages"] = p.UnreadDelta
	}
	if p.CountMessage {
		inc["total_messages"] = 1
	}
	if p.LastMessageText != nil {
		set["last_message_text"] = *p.LastMessageText
	}
	if p.LastMessageAt != nil {
		set["last_message_at"] = *p.LastMessageAt
	}
	if p.LastMessageFrom != nil {
		set["last_message_from"] = *p.LastMessageFrom
	}
	if p.LastCommentID != nil {
		set["last_comment_id"] = *p.LastCommentID
	}
	if p.EscalatedFromBot != nil {
		set["escalated_from_bot"] = *p.EscalatedFromBot
	}
	if p.EscalationReason != nil {
		set["escalation_reason"] = *p.EscalationReason
	}
	if p.EscalatedAt != nil {
		set["escalated_at"] = *p.EscalatedAt
	}
	if p.IncReturnedToBot {
		inc["returned_to_bot_count"] = 1
	}
	if p.LastReturnedBy != nil {
		set["last_returned_by"] = *p.LastReturnedBy
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return update
}

// Apply mirrors ToUpdate on an in-memory conversation. The fan-out payload is
// built from the patched document without re-reading it.
func (p ConversationPatch) Apply(conv *models.Conversation) {
	if p.CurrentHandler != nil {
		conv.CurrentHandler = *p.CurrentHandler
	}
	if p.NeedsAttention != nil {
		conv.NeedsAttention = *p.NeedsAttention
	}
	if p.IsRead != nil {
		conv.IsRead = *p.IsRead
	}
	if p.ReadBy != nil {
		conv.ReadBy = *p.ReadBy
	}
	if p.ReadByName != nil {
		conv.ReadByName = *p.ReadByName
	}
	if p.AssignedTo != nil {
		conv.AssignedTo = *p.AssignedTo
	}
	if p.AssignedName != nil {
		conv.AssignedName = *p.AssignedName
	}
	if p.Status != nil {
		conv.Status = *p.Status
	}
	if p.ResetUnread {
		conv.UnreadCustomerMessages = 0
	} else {
		conv.UnreadCustomerMessages += p.UnreadDelta
	}
	if p.CountMessage {
		conv.TotalMessages++
	}
	if p.LastMessageText != nil {
		conv.LastMessageText = *p.LastMessageText
	}
	if p.LastMessageAt != nil {
		conv.LastMessageAt = *p.LastMessageAt
	}
	if p.LastMessageFrom != nil {
		conv.LastMessageFrom = *p.LastMessageFrom
	}
	if p.LastCommentID != nil {
		conv.LastCommentID = *p.LastCommentID
	}
	if p.EscalatedFromBot != nil {
		conv.EscalatedFromBot = *p.EscalatedFromBot
	}
	if p.EscalationReason != nil {
		conv.EscalationReason = *p.EscalationReason
	}
	if p.EscalatedAt != nil {
		conv.EscalatedAt = p.EscalatedAt
	}
	if p.IncReturnedToBot {
		conv.ReturnedToBotCount++
	}
	if p.LastReturnedBy != nil {
		conv.LastReturnedBy = *p.LastReturnedBy
	}
	conv.UpdatedAt = time.Now()
}

// truncatePreview keeps the conversation-list preview short, cutting on a
// rune boundary so a multi-byte character is never split
func truncatePreview(text string) string {
	const maxPreview = 200
	if len(text) <= maxPreview {
		return text
	}
	cut := maxPreview
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
