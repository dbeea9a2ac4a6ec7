package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserRole represents the role of a staff user
type UserRole string

const (
	RoleCompanyAdmin UserRole = "company_admin"
	RoleHumanAgent   UserRole = "human_agent"
	RoleViewer       UserRole = "viewer"
)

// User represents a staff member of a company
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID   string             `bson:"user_id" json:"user_id"`
	Username string             `bson:"username" json:"username"`
	Email    string             `bson:"email" json:"email"`
	FullName string             `bson:"full_name" json:"full_name"`

	CompanyID string   `bson:"company_id" json:"company_id"`
	Role      UserRole `bson:"role" json:"role"`

	PasswordHash string `bson:"password_hash" json:"-"`

	IsActive  bool      `bson:"is_active" json:"is_active"`
	LastLogin time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
