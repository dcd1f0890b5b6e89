package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// ConversationRepository implements repositories.ConversationRepository
// using MongoDB. Messages are only ever pushed, so concurrent appends keep
// their order.
type ConversationRepository struct {
	collection *mongo.Collection
	ttl        time.Duration
	logger     *zap.Logger
}

// NewConversationRepository creates a new MongoDB conversation repository.
// ttl is the idle lifetime restored on loaded conversations.
func NewConversationRepository(db *mongo.Database, ttl time.Duration, logger *zap.Logger) *ConversationRepository {
	collection := db.Collection("conversations")

	go ensureIndexes(collection, []mongo.IndexModel{
		// Index on user for history lookups
		{Keys: bson.D{{Key: "user", Value: 1}}},
		// Index on last_active_at for cleanup operations
		{Keys: bson.D{{Key: "last_active_at", Value: 1}}},
	}, logger)

	return &ConversationRepository{
		collection: collection,
		ttl:        ttl,
		logger:     logger,
	}
}

// Create implements repositories.ConversationRepository
func (r *ConversationRepository) Create(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("conversation %s already exists", conv.ID)
		}
		r.logger.Error("Failed to create conversation", zap.String("sessionID", conv.ID), zap.Error(err))
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetByID implements repositories.ConversationRepository
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	if id == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	var conv entities.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = make([]entities.ChatMessage, 0)
	}
	conv.SetTTL(r.ttl)
	return &conv, nil
}

// Append implements repositories.ConversationRepository
func (r *ConversationRepository) Append(ctx context.Context, id string, msg entities.ChatMessage) error {
	now := time.Now()
	ttl := r.ttl
	if ttl <= 0 {
		ttl = entities.DefaultSessionTTL
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"messages": msg},
			"$set": bson.M{
				"last_message_at": msg.CreatedAt,
				"last_active_at":  now,
				"expires_at":      now.Add(ttl),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// Update implements repositories.ConversationRepository. The message log and
// creation time are left untouched.
func (r *ConversationRepository) Update(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": conv.ID},
		bson.M{"$set": bson.M{
			"user":           conv.User,
			"device_id":      conv.DeviceID,
			"last_active_at": conv.LastActiveAt,
			"expires_at":     conv.ExpiresAt,
			"status":         conv.Status,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// Delete implements repositories.ConversationRepository
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// DeleteIdle implements repositories.ConversationRepository
func (r *ConversationRepository) DeleteIdle(ctx context.Context, before time.Time) (int, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"last_active_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle conversations: %w", err)
	}
	if result.DeletedCount > 0 {
		r.logger.Info("Deleted idle conversations", zap.Int64("count", result.DeletedCount))
	}
	return int(result.DeletedCount), nil
}
