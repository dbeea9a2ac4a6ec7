package services

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"helpdesk-bot/models"
)

// CustomerUpsert carries the identity and freshest profile fields for one
// inbound event.
type CustomerUpsert struct {
	CompanyID   string
	PageID      string
	PageName    string
	CustomerID  string // External platform user ID
	Name        string
	FirstName   string
	LastName    string
	AvatarURL   string
	LastMessage string

	// ProfileStale marks events whose sender profile could not be fetched.
	// The Name carried here is a placeholder; an existing customer's stored
	// profile fields win over it.
	ProfileStale bool
}

// ResolveCustomer finds or creates the customer record for a
// (company, page, external user) triple. On find it refreshes the
// denormalized profile fields and, when they changed, pushes the new
// name/avatar onto all open conversations of that customer.
func ResolveCustomer(ctx context.Context, in CustomerUpsert) (*models.Customer, bool, error) {
	collection := database.Collection("customers")

	now := time.Now()

	filter := bson.M{
		"company_id":  in.CompanyID,
		"page_id":     in.PageID,
		"customer_id": in.CustomerID,
	}

	var existing models.Customer
	err := collection.FindOne(ctx, filter).Decode(&existing)
	found := err == nil

	set := bson.M{
		"page_name":    in.PageName,
		"last_message": in.LastMessage,
		"last_seen":    now,
		"updated_at":   now,
	}
	// A failed profile fetch is not a profile change: the placeholder name
	// must not clobber a known customer or ripple onto their conversations
	profileChanged := false
	if !found || !in.ProfileStale {
		set["name"] = in.Name
		set["first_name"] = in.FirstName
		set["last_name"] = in.LastName
		set["avatar_url"] = in.AvatarURL
		profileChanged = found && (existing.Name != in.Name || existing.AvatarURL != in.AvatarURL)
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{
			"message_count": 1,
		},
		"$setOnInsert": bson.M{
			"customer_id": in.CustomerID,
			"company_id":  in.CompanyID,
			"page_id":     in.PageID,
			"first_seen":  now,
			"created_at":  now,
			"archived":    false,
		},
	}

	opts := options.Update().SetUpsert(true)
	result, err := collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		slog.Error("Failed to resolve customer",
			"customerID", in.CustomerID,
			"pageID", in.PageID,
			"error", err)
		return nil, false, err
	}

	created := result.UpsertedCount > 0
	if created {
		slog.Info("New customer created",
			"customerID", in.CustomerID,
			"name", in.Name,
			"pageID", in.PageID)
	}

	var customer models.Customer
	if err := collection.FindOne(ctx, filter).Decode(&customer); err != nil {
		return nil, created, err
	}

	// Denormalization sync: open conversations carry the customer's display
	// fields, keep them in step when the upstream profile moved
	if profileChanged {
		if err := propagateCustomerProfile(ctx, &customer); err != nil {
			slog.Warn("Failed to propagate customer profile to conversations",
				"customerID", customer.CustomerID,
				"error", err)
		}
	}

	return &customer, created, nil
}

// propagateCustomerProfile pushes refreshed display fields onto every open
// conversation of the customer
func propagateCustomerProfile(ctx context.Context, customer *models.Customer) error {
	collection := database.Collection("conversations")

	filter := bson.M{
		"company_id":  customer.CompanyID,
		"page_id":     customer.PageID,
		"customer_id": customer.CustomerID,
		"status":      models.StatusOpen,
	}
	update := bson.M{
		"$set": bson.M{
			"customer_name":   customer.Name,
			"customer_avatar": customer.AvatarURL,
			"updated_at":      time.Now(),
		},
	}

	result, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.ModifiedCount > 0 {
		slog.Info("Customer profile propagated to open conversations",
			"customerID", customer.CustomerID,
			"conversations", result.ModifiedCount)
	}
	return nil
}

// GetCustomer retrieves a customer by external ID and page
func GetCustomer(ctx context.Context, companyID, pageID, customerID string) (*models.Customer, error) {
	collection := database.Collection("customers")

	filter := bson.M{
		"company_id":  companyID,
		"page_id":     pageID,
		"customer_id": customerID,
	}

	var customer models.Customer
	err := collection.FindOne(ctx, filter).Decode(&customer)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &customer, nil
}

// MergeCustomerInfo folds attributes the assistant extracted into the
// customer record. Scalar fields overwrite, purchase history accumulates.
func MergeCustomerInfo(ctx context.Context, companyID, pageID, customerID string, info *ExtractedCustomerInfo) error {
	if info == nil {
		return nil
	}

	collection := database.Collection("customers")

	set := bson.M{"updated_at": time.Now()}
	if info.Name != "" {
		set["name"] = info.Name
	}
	if info.Phone != "" {
		set["phone"] = info.Phone
	}
	if info.Email != "" {
		set["email"] = info.Email
	}
	if info.Address != "" {
		set["address"] = info.Address
	}

	update := bson.M{"$set": set}
	if len(info.PurchaseHistory) > 0 {
		update["$addToSet"] = bson.M{
			"purchase_history": bson.M{"$each": info.PurchaseHistory},
		}
	}

	filter := bson.M{
		"company_id":  companyID,
		"page_id":     pageID,
		"customer_id": customerID,
	}

	_, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		slog.Error("Failed to merge extracted customer info",
			"customerID", customerID,
			"error", err)
	}
	return err
}
