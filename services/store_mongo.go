package services

import (
	"context"
	"fmt"

	"helpdesk-bot/models"
)

// mongoStore adapts the package-level MongoDB operations to the Store
// interface the pipeline consumes
type mongoStore struct{}

// NewMongoStore returns the MongoDB-backed Store. InitServices must have run.
func NewMongoStore() Store {
	return mongoStore{}
}

func (mongoStore) ResolveCustomer(ctx context.Context, in CustomerUpsert) (*models.Customer, bool, error) {
	return ResolveCustomer(ctx, in)
}

func (mongoStore) ResolveMessengerConversation(ctx context.Context, customer *models.Customer, pageName, threadID string) (*models.Conversation, bool, error) {
	return ResolveMessengerConversation(ctx, customer, pageName, threadID)
}

func (mongoStore) ResolveCommentConversation(ctx context.Context, customer *models.Customer, pageName, postID string, post *PostMeta) (*models.Conversation, bool, error) {
	return ResolveCommentConversation(ctx, customer, pageName, postID, post)
}

func (mongoStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return GetConversation(ctx, conversationID)
}

func (mongoStore) SeenEvent(ctx context.Context, externalID string) (bool, error) {
	return SeenEvent(ctx, externalID)
}

func (mongoStore) AppendMessage(ctx context.Context, message *models.Message) (bool, error) {
	return AppendMessage(ctx, message)
}

func (mongoStore) ApplyPatch(ctx context.Context, conversationID string, patch ConversationPatch) (*models.Conversation, error) {
	return ApplyConversationPatch(ctx, conversationID, patch)
}

func (mongoStore) MergeCustomerInfo(ctx context.Context, companyID, pageID, customerID string, info *ExtractedCustomerInfo) error {
	return MergeCustomerInfo(ctx, companyID, pageID, customerID, info)
}

// mongoPageResolver resolves tenant configuration through the cached company
// lookup
type mongoPageResolver struct{}

// NewPageResolver returns the MongoDB-backed PageResolver
func NewPageResolver() PageResolver {
	return mongoPageResolver{}
}

func (mongoPageResolver) ResolvePage(ctx context.Context, pageID string) (*models.Company, *models.Page, error) {
	company, err := GetCompanyByPageID(ctx, pageID)
	if err != nil {
		return nil, nil, err
	}
	if company == nil {
		return nil, nil, fmt.Errorf("no active company for page %s", pageID)
	}

	page, err := GetPageConfig(company, pageID)
	if err != nil {
		return nil, nil, err
	}
	return company, page, nil
}

// passthroughMedia keeps assistant-provided image URLs as-is. Swapped for a
// real object-store client in deployments that re-host media.
type passthroughMedia struct{}

// NewPassthroughMedia returns the no-op MediaStore
func NewPassthroughMedia() MediaStore {
	return passthroughMedia{}
}

func (passthroughMedia) Rehost(_ context.Context, url string) (models.Attachment, error) {
	return models.Attachment{
		Type:       "image",
		URL:        url,
		StorageURL: url,
	}, nil
}
