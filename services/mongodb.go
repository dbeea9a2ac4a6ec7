package services

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	mongoClient *mongo.Client
	database    *mongo.Database
)

// GetDatabase returns the MongoDB database instance
func GetDatabase() *mongo.Database {
	return database
}

// InitMongoDB initializes MongoDB connection
func InitMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	slog.Info("Connected to MongoDB")
	mongoClient = client

	return client, nil
}

// InitServices initializes the database handle and indexes
func InitServices(client *mongo.Client, databaseName string) {
	database = client.Database(databaseName)

	createIndexes()
}

// createIndexes creates necessary database indexes
func createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Messages: the unique sparse index on external_id is what makes event
	// ingestion idempotent. Webhook redeliveries hit it and become no-ops.
	messagesCollection := database.Collection("messages")
	messagesCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"external_id": 1}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: 1}}},
		{Keys: bson.M{"company_id": 1}},
		{Keys: bson.M{"page_id": 1}},
	})

	// Conversations: thread_id is the upstream thread identifier, unique when
	// present. The (customer_id, source, status) index backs the threading
	// lookups on every inbound event.
	conversationsCollection := database.Collection("conversations")
	conversationsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"conversation_id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"thread_id": 1}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "source", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "status", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.M{"page_id": 1}},
	})

	// Customers: one record per (company, page, external user ID)
	customersCollection := database.Collection("customers")
	customersCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "page_id", Value: 1}, {Key: "customer_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.M{"last_seen": -1}},
	})

	// Companies
	companiesCollection := database.Collection("companies")
	companiesCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"company_id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"pages.page_id": 1}},
	})

	// Sessions: expired sessions are reaped by the TTL monitor
	sessionsCollection := database.Collection("sessions")
	sessionsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"session_id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"expires_at": 1}, Options: options.Index().SetExpireAfterSeconds(0)},
	})

	// Users
	usersCollection := database.Collection("users")
	usersCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"user_id": 1}, Options: options.Index().SetUnique(true)},
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
}
