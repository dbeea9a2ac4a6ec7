package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"helpdesk-bot/models"
)

const (
	SessionDuration   = 24 * time.Hour
	SessionCookieName = "session"
)

// GenerateSessionID generates a secure random session ID
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession creates a new session in the database
func CreateSession(ctx context.Context, user *models.User, ipAddress, userAgent string) (*models.Session, error) {
	sessionID, err := GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &models.Session{
		ID:           primitive.NewObjectID(),
		SessionID:    sessionID,
		UserID:       user.UserID,
		Username:     user.Username,
		CompanyID:    user.CompanyID,
		Role:         string(user.Role),
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(SessionDuration),
	}

	collection := GetDatabase().Collection("sessions")
	if _, err := collection.InsertOne(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// GetSessionByID retrieves a live session by session ID. Expired sessions
// are treated as missing; the TTL index reaps them eventually.
func GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	collection := GetDatabase().Collection("sessions")

	var session models.Session
	err := collection.FindOne(ctx, bson.M{
		"session_id": sessionID,
		"expires_at": bson.M{"$gt": time.Now()},
	}).Decode(&session)

	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// ExtendSession slides the expiration window of a session
func ExtendSession(ctx context.Context, sessionID string) error {
	collection := GetDatabase().Collection("sessions")

	_, err := collection.UpdateOne(
		ctx,
		bson.M{"session_id": sessionID},
		bson.M{
			"$set": bson.M{
				"last_accessed": time.Now(),
				"expires_at":    time.Now().Add(SessionDuration),
			},
		},
	)

	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}

	return nil
}

// DestroySession removes a session
func DestroySession(ctx context.Context, sessionID string) error {
	collection := GetDatabase().Collection("sessions")

	if _, err := collection.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	return nil
}

// DestroyUserSessions removes all sessions for a specific user
func DestroyUserSessions(ctx context.Context, userID string) error {
	collection := GetDatabase().Collection("sessions")

	if _, err := collection.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to destroy user sessions: %w", err)
	}

	return nil
}
