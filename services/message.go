package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"helpdesk-bot/models"
)

// SeenEvent reports whether a message with this external ID has already been
// persisted. Used as the fast path; the unique index on external_id remains
// the authority under concurrent redelivery.
func SeenEvent(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}

	collection := database.Collection("messages")

	count, err := collection.CountDocuments(ctx, bson.M{"external_id": externalID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AppendMessage appends a message to its conversation's log. Returns false
// when a message with the same external ID already exists; the duplicate
// insert is a no-op, not an error, so webhook retries die here quietly.
func AppendMessage(ctx context.Context, message *models.Message) (bool, error) {
	collection := database.Collection("messages")

	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	message.CreatedAt = time.Now()

	_, err := collection.InsertOne(ctx, message)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			slog.Info("Duplicate event suppressed",
				"externalID", message.ExternalID,
				"conversationID", message.ConversationID)
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// ListMessages returns a page of a conversation's messages in arrival order
func ListMessages(ctx context.Context, conversationID string, limit, skip int) ([]models.Message, int64, error) {
	collection := database.Collection("messages")

	filter := bson.M{"conversation_id": conversationID}

	totalCount, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		slog.Error("Failed to count messages", "error", err)
		totalCount = 0
	}

	findOptions := options.Find().
		SetSort(bson.M{"sent_at": 1}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, 0, err
	}

	return messages, totalCount, nil
}
