package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Delivery statuses for outbound messages
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryPending = "pending"
)

// Attachment holds both the upstream URL the platform gave us and the
// re-hosted copy in our own object store, when one exists.
type Attachment struct {
	Type       string `bson:"type" json:"type"` // "image", "video", "file", ...
	URL        string `bson:"url" json:"url"`   // Upstream URL
	StorageURL string `bson:"storage_url,omitempty" json:"storage_url,omitempty"`
	StorageKey string `bson:"storage_key,omitempty" json:"storage_key,omitempty"`
}

// Message is one entry in a conversation's append-only log. Messages are
// immutable once created.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	MessageID      string             `bson:"message_id" json:"message_id"`                     // Internally generated
	ExternalID     string             `bson:"external_id,omitempty" json:"external_id,omitempty"` // Upstream message/comment ID, unique and sparse
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	CompanyID      string             `bson:"company_id" json:"company_id"`
	PageID         string             `bson:"page_id" json:"page_id"`
	SenderType     string             `bson:"sender_type" json:"sender_type"` // "customer", "chatbot", "staff"
	SenderID       string             `bson:"sender_id" json:"sender_id"`
	SenderName     string             `bson:"sender_name,omitempty" json:"sender_name,omitempty"`
	MessageType    string             `bson:"message_type" json:"message_type"` // "text", "image", "attachment"
	Text           string             `bson:"text" json:"text"`
	Attachments    []Attachment       `bson:"attachments,omitempty" json:"attachments,omitempty"`
	SentAt         time.Time          `bson:"sent_at" json:"sent_at"` // Authoritative event time
	DeliveryStatus string             `bson:"delivery_status,omitempty" json:"delivery_status,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
