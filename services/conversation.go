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

// PostMeta is the denormalized metadata of the post a comment thread hangs off
type PostMeta struct {
	Content   string
	Photos    []string
	Permalink string
	CreatedAt *time.Time
}

// ResolveMessengerConversation returns the open messenger conversation for a
// (page, customer) pair, creating one when none exists. When the platform
// supplied an explicit thread ID it is used as a direct lookup.
func ResolveMessengerConversation(ctx context.Context, customer *models.Customer, pageName, threadID string) (*models.Conversation, bool, error) {
	collection := database.Collection("conversations")

	var filter bson.M
	if threadID != "" {
		filter = bson.M{"thread_id": threadID}
	} else {
		filter = bson.M{
			"page_id":     customer.PageID,
			"customer_id": customer.CustomerID,
			"source":      models.SourceMessenger,
			"status":      models.StatusOpen,
		}
	}

	var conv models.Conversation
	err := collection.FindOne(ctx, filter).Decode(&conv)
	if err == nil {
		return &conv, false, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, err
	}

	conv = newConversation(customer, pageName, models.SourceMessenger)
	conv.ThreadID = threadID

	created, existing, err := insertConversation(ctx, &conv, filter)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return existing, false, nil
	}
	return &conv, true, nil
}

// ResolveCommentConversation returns the open conversation for a
// (post, customer) pair. Every distinct post the customer comments on gets
// its own thread; comments and replies within one post merge into it.
func ResolveCommentConversation(ctx context.Context, customer *models.Customer, pageName, postID string, post *PostMeta) (*models.Conversation, bool, error) {
	collection := database.Collection("conversations")

	filter := bson.M{
		"page_id":     customer.PageID,
		"customer_id": customer.CustomerID,
		"source":      models.SourceComment,
		"post_id":     postID,
		"status":      models.StatusOpen,
	}

	var conv models.Conversation
	err := collection.FindOne(ctx, filter).Decode(&conv)
	if err == nil {
		return &conv, false, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, err
	}

	conv = newConversation(customer, pageName, models.SourceComment)
	conv.PostID = postID
	if post != nil {
		conv.PostContent = post.Content
		conv.PostPhotos = post.Photos
		conv.PostPermalink = post.Permalink
		conv.PostCreatedAt = post.CreatedAt
	}

	created, existing, err := insertConversation(ctx, &conv, filter)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return existing, false, nil
	}
	return &conv, true, nil
}

// newConversation builds a conversation with the default state for a thread
// opened by an inbound customer event
func newConversation(customer *models.Customer, pageName, source string) models.Conversation {
	now := time.Now()
	return models.Conversation{
		ConversationID: uuid.NewString(),
		CompanyID:      customer.CompanyID,
		PageID:         customer.PageID,
		PageName:       pageName,
		CustomerID:     customer.CustomerID,
		CustomerName:   customer.Name,
		CustomerAvatar: customer.AvatarURL,
		Source:         source,
		Status:         models.StatusOpen,
		CurrentHandler: models.HandlerChatbot,
		NeedsAttention: false,
		IsRead:         false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// insertConversation inserts conv, falling back to a re-read when a
// concurrent event created the thread first (unique thread_id or the open
// thread the refetch filter matches)
func insertConversation(ctx context.Context, conv *models.Conversation, refetch bson.M) (bool, *models.Conversation, error) {
	collection := database.Collection("conversations")

	_, err := collection.InsertOne(ctx, conv)
	if err == nil {
		slog.Info("New conversation created",
			"conversationID", conv.ConversationID,
			"customerID", conv.CustomerID,
			"pageID", conv.PageID,
			"source", conv.Source)
		return true, nil, nil
	}

	if mongo.IsDuplicateKeyError(err) {
		var existing models.Conversation
		if ferr := collection.FindOne(ctx, refetch).Decode(&existing); ferr == nil {
			return false, &existing, nil
		}
		return false, nil, err
	}

	return false, nil, err
}

// GetConversation retrieves a conversation by its internal ID
func GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	collection := database.Collection("conversations")

	var conv models.Conversation
	err := collection.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &conv, nil
}

// ApplyConversationPatch applies a typed patch and returns the updated
// document. All conversation state transitions funnel through here.
func ApplyConversationPatch(ctx context.Context, conversationID string, patch ConversationPatch) (*models.Conversation, error) {
	collection := database.Collection("conversations")

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conv models.Conversation
	err := collection.FindOneAndUpdate(ctx,
		bson.M{"conversation_id": conversationID},
		patch.ToUpdate(),
		opts,
	).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &conv, nil
}

// ConversationFilter narrows staff conversation listings
type ConversationFilter struct {
	PageID         string
	Status         string
	Handler        string
	NeedsAttention *bool
	AssignedTo     string
}

// ListConversations returns a page of conversations for a company, most
// recently active first
func ListConversations(ctx context.Context, companyID string, f ConversationFilter, limit, skip int) ([]models.Conversation, int64, error) {
	collection := database.Collection("conversations")

	filter := bson.M{"company_id": companyID}
	if f.PageID != "" {
		filter["page_id"] = f.PageID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Handler != "" {
		filter["current_handler"] = f.Handler
	}
	if f.NeedsAttention != nil {
		filter["needs_attention"] = *f.NeedsAttention
	}
	if f.AssignedTo != "" {
		filter["assigned_to"] = f.AssignedTo
	}

	totalCount, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		slog.Error("Failed to count conversations", "error", err)
		totalCount = 0
	}

	findOptions := options.Find().
		SetSort(bson.M{"last_message_at": -1}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var conversations []models.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, 0, err
	}

	return conversations, totalCount, nil
}
