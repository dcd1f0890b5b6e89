package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const appName = "bmschat-gateway"

// Store is the gateway's MongoDB database. It hands out the token and
// conversation repositories that share its connection pool.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// StoreOption tunes the connection
type StoreOption func(*options.ClientOptions)

// WithPoolSize caps the number of pooled connections
func WithPoolSize(max uint64) StoreOption {
	return func(o *options.ClientOptions) { o.SetMaxPoolSize(max) }
}

// WithTimeout bounds server selection and connecting
func WithTimeout(d time.Duration) StoreOption {
	return func(o *options.ClientOptions) {
		o.SetServerSelectionTimeout(d)
		o.SetConnectTimeout(d)
	}
}

// Open connects to uri and checks that the primary answers
func Open(ctx context.Context, uri, database string, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)
	for _, opt := range opts {
		opt(clientOptions)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB", zap.String("database", database))
	return &Store{client: client, db: client.Database(database), logger: logger}, nil
}

// Tokens returns the token set repository
func (s *Store) Tokens() *TokenRepository {
	return NewTokenRepository(s.db, s.logger)
}

// Conversations returns the conversation repository; documents expire ttl
// after their last activity.
func (s *Store) Conversations(ttl time.Duration) *ConversationRepository {
	return NewConversationRepository(s.db, ttl, s.logger)
}

// Database exposes the underlying database
func (s *Store) Database() *mongo.Database {
	return s.db
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	s.logger.Info("Disconnected from MongoDB")
	return nil
}

func ensureIndexes(collection *mongo.Collection, models []mongo.IndexModel, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := collection.Indexes().CreateMany(ctx, models); err != nil {
		logger.Error("Failed to create indexes", zap.String("collection", collection.Name()), zap.Error(err))
		return
	}
	logger.Debug("Indexes created", zap.String("collection", collection.Name()))
}
