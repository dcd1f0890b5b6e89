package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// TokenRepository stores one document per login session, keyed by session id
type TokenRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewTokenRepository creates a new MongoDB token repository
func NewTokenRepository(db *mongo.Database, logger *zap.Logger) *TokenRepository {
	collection := db.Collection("tokens")

	go ensureIndexes(collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updated_at", Value: 1}}},
	}, logger)

	return &TokenRepository{
		collection: collection,
		logger:     logger,
	}
}

// Save implements repositories.TokenRepository. The whole document is
// replaced in one write.
func (r *TokenRepository) Save(ctx context.Context, tokens entities.TokenSet) error {
	if tokens.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": tokens.SessionID},
		tokens,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		r.logger.Error("Failed to save tokens", zap.String("sessionID", tokens.SessionID), zap.Error(err))
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Get implements repositories.TokenRepository
func (r *TokenRepository) Get(ctx context.Context, sessionID string) (*entities.TokenSet, error) {
	var tokens entities.TokenSet
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&tokens)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	return &tokens, nil
}

// Delete implements repositories.TokenRepository
func (r *TokenRepository) Delete(ctx context.Context, sessionID string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// DeleteStale implements repositories.TokenRepository
func (r *TokenRepository) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale tokens: %w", err)
	}
	return int(result.DeletedCount), nil
}
