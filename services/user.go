package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"helpdesk-bot/models"
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword compares a password against its bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateUser creates a new staff user
func CreateUser(ctx context.Context, user *models.User, password string) error {
	collection := GetDatabase().Collection("users")

	existing := collection.FindOne(ctx, bson.M{
		"username":   user.Username,
		"company_id": user.CompanyID,
	})
	if existing.Err() != mongo.ErrNoDocuments {
		return fmt.Errorf("user already exists with this username in your company")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user.ID = primitive.NewObjectID()
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.PasswordHash = hash
	user.IsActive = true
	user.CreatedAt = now
	user.UpdatedAt = now

	if _, err := collection.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("User created",
		"userID", user.UserID,
		"username", user.Username,
		"companyID", user.CompanyID,
		"role", user.Role)

	return nil
}

// GetUserByID retrieves a user by their user ID
func GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	collection := GetDatabase().Collection("users")

	var user models.User
	err := collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// AuthenticateUser validates credentials and returns the user on success
func AuthenticateUser(ctx context.Context, username, password string) (*models.User, error) {
	collection := GetDatabase().Collection("users")

	var user models.User
	err := collection.FindOne(ctx, bson.M{
		"username":  username,
		"is_active": true,
	}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("invalid username or password")
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("invalid username or password")
	}

	_, err = collection.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{"last_login": time.Now()}},
	)
	if err != nil {
		slog.Warn("Failed to record last login", "userID", user.UserID, "error", err)
	}

	return &user, nil
}
