package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Company represents a tenant: an isolated organization owning one or more
// pages. Every entity in the system is scoped to a company.
type Company struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CompanyID   string             `bson:"company_id" json:"company_id"`
	CompanyName string             `bson:"company_name" json:"company_name"`

	Pages []Page `bson:"pages" json:"pages"`

	IsActive   bool `bson:"is_active" json:"is_active"`
	BotEnabled bool `bson:"bot_enabled" json:"bot_enabled"` // Master switch for automated replies

	// Quiet period after the last customer message before the assistant is
	// invoked, in seconds. An explicit 0 dispatches immediately; nil means
	// no override and the server default applies. Clamped to 30.
	DispatchDelaySeconds *int `bson:"dispatch_delay_seconds,omitempty" json:"dispatch_delay_seconds,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Page represents one social-platform page owned by a company.
type Page struct {
	PageID      string `bson:"page_id" json:"page_id"`
	PageName    string `bson:"page_name" json:"page_name"`
	AccessToken string `bson:"access_token" json:"access_token"`
	IsActive    bool   `bson:"is_active" json:"is_active"`
	BotEnabled  bool   `bson:"bot_enabled" json:"bot_enabled"` // Per-page automation switch
}
