package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation sources
const (
	SourceMessenger = "messenger"
	SourceComment   = "comment"
)

// Conversation statuses
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusArchived = "archived"
)

// Conversation handlers
const (
	HandlerChatbot = "chatbot"
	HandlerHuman   = "human"
)

// Message sender types
const (
	SenderCustomer = "customer"
	SenderChatbot  = "chatbot"
	SenderStaff    = "staff"
)

// Conversation represents a single thread between a customer and a page.
// Messenger threads are keyed by (page, customer); comment threads are keyed
// by (post, customer), so one customer can hold several open comment
// conversations at once, one per post.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	ThreadID       string             `bson:"thread_id,omitempty" json:"thread_id,omitempty"` // Upstream thread ID, unique when present
	CompanyID      string             `bson:"company_id" json:"company_id"`
	PageID         string             `bson:"page_id" json:"page_id"`
	PageName       string             `bson:"page_name" json:"page_name"`
	CustomerID     string             `bson:"customer_id" json:"customer_id"` // External platform user ID
	CustomerName   string             `bson:"customer_name" json:"customer_name"`
	CustomerAvatar string             `bson:"customer_avatar,omitempty" json:"customer_avatar,omitempty"`
	Source         string             `bson:"source" json:"source"` // "messenger" or "comment", immutable after creation
	Status         string             `bson:"status" json:"status"` // "open", "closed", "archived"
	CurrentHandler string             `bson:"current_handler" json:"current_handler"`
	AssignedTo     string             `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"` // Staff user ID
	AssignedName   string             `bson:"assigned_name,omitempty" json:"assigned_name,omitempty"`
	NeedsAttention bool               `bson:"needs_attention" json:"needs_attention"`
	IsRead         bool               `bson:"is_read" json:"is_read"`
	ReadBy         string             `bson:"read_by,omitempty" json:"read_by,omitempty"`
	ReadByName     string             `bson:"read_by_name,omitempty" json:"read_by_name,omitempty"`
	Priority       string             `bson:"priority,omitempty" json:"priority,omitempty"`

	// Rollup fields, recomputed on every message append
	LastMessageText        string    `bson:"last_message_text,omitempty" json:"last_message_text,omitempty"`
	LastMessageAt          time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	LastMessageFrom        string    `bson:"last_message_from,omitempty" json:"last_message_from,omitempty"`
	TotalMessages          int       `bson:"total_messages" json:"total_messages"`
	UnreadCustomerMessages int       `bson:"unread_customer_messages" json:"unread_customer_messages"`

	// Escalation metadata
	EscalatedFromBot bool       `bson:"escalated_from_bot" json:"escalated_from_bot"`
	EscalationReason string     `bson:"escalation_reason,omitempty" json:"escalation_reason,omitempty"`
	EscalatedAt      *time.Time `bson:"escalated_at,omitempty" json:"escalated_at,omitempty"`

	// Return-to-bot bookkeeping
	ReturnedToBotCount int    `bson:"returned_to_bot_count" json:"returned_to_bot_count"`
	LastReturnedBy     string `bson:"last_returned_by,omitempty" json:"last_returned_by,omitempty"`

	// Denormalized post metadata, comment-sourced threads only
	PostID        string     `bson:"post_id,omitempty" json:"post_id,omitempty"`
	PostContent   string     `bson:"post_content,omitempty" json:"post_content,omitempty"`
	PostPhotos    []string   `bson:"post_photos,omitempty" json:"post_photos,omitempty"`
	PostPermalink string     `bson:"post_permalink,omitempty" json:"post_permalink,omitempty"`
	PostCreatedAt *time.Time `bson:"post_created_at,omitempty" json:"post_created_at,omitempty"`

	// Last customer comment ID, used as the reply target for comment threads
	LastCommentID string `bson:"last_comment_id,omitempty" json:"last_comment_id,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
