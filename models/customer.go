package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Customer represents a platform user who has contacted a page. One record
// per (company, page, external user ID): the same person talking to two pages
// of the same company is two customers.
type Customer struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CustomerID string             `bson:"customer_id" json:"customer_id"` // External platform user ID
	CompanyID  string             `bson:"company_id" json:"company_id"`
	PageID     string             `bson:"page_id" json:"page_id"`
	PageName   string             `bson:"page_name" json:"page_name"`

	// Display fields refreshed lazily from the upstream profile
	Name      string `bson:"name" json:"name"`
	FirstName string `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string `bson:"last_name,omitempty" json:"last_name,omitempty"`
	AvatarURL string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`

	// Attributes extracted by the assistant or edited by staff
	Phone           string   `bson:"phone,omitempty" json:"phone,omitempty"`
	Email           string   `bson:"email,omitempty" json:"email,omitempty"`
	Address         string   `bson:"address,omitempty" json:"address,omitempty"`
	PurchaseHistory []string `bson:"purchase_history,omitempty" json:"purchase_history,omitempty"`

	MessageCount int       `bson:"message_count" json:"message_count"`
	LastMessage  string    `bson:"last_message,omitempty" json:"last_message,omitempty"`
	LastSeen     time.Time `bson:"last_seen" json:"last_seen"`
	FirstSeen    time.Time `bson:"first_seen" json:"first_seen"`
	Archived     bool      `bson:"archived" json:"archived"` // Customers are never deleted, only archived
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
