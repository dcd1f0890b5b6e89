package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// setupTestDB connects to the MongoDB instance named by MONGODB_URI, or
// skips the test when it is not set
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, uri, "bmschat_test", zaptest.NewLogger(t), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	t.Cleanup(func() {
		store.Database().Drop(ctx)
		store.Close(ctx)
	})
	return store
}

func TestOpenRequiresURIAndDatabase(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "", "bmschat", zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for empty uri")
	}
	if _, err := Open(ctx, "mongodb://localhost:27017", "", zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for empty database name")
	}
}

func TestConversationRepository_Integration(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Conversations(time.Hour)

	conv := entities.NewConversation("session-1", "ops@example.com", time.Hour)
	if err := repo.Create(ctx, conv); err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}
	if err := repo.Create(ctx, conv); err == nil {
		t.Error("Expected duplicate create to fail")
	}

	for _, text := range []string{"first", "second", "third"} {
		if err := repo.Append(ctx, conv.ID, entities.NewUserMessage(conv.User, text, "")); err != nil {
			t.Fatalf("Failed to append %q: %v", text, err)
		}
	}

	got, err := repo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Failed to get conversation: %v", err)
	}
	if len(got.Messages) != 3 || got.Messages[0].Text != "first" || got.Messages[2].Text != "third" {
		t.Errorf("Expected messages in insertion order, got %+v", got.Messages)
	}
	if got.LastMessageAt == nil {
		t.Error("Expected last message time to be set")
	}

	got.SelectDevice("dev-1")
	got.Messages = nil
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	again, _ := repo.GetByID(ctx, conv.ID)
	if again.DeviceID != "dev-1" || len(again.Messages) != 3 {
		t.Errorf("Expected device update without touching the log, got %q with %d messages", again.DeviceID, len(again.Messages))
	}

	if err := repo.Append(ctx, "missing", entities.NewUserMessage("x", "y", "")); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	n, err := repo.DeleteIdle(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Errorf("Expected 1 idle conversation deleted, got %d, %v", n, err)
	}
	if _, err := repo.GetByID(ctx, conv.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestTokenRepository_Integration(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Tokens()

	tokens := entities.TokenSet{
		SessionID:    "session-1",
		SessionToken: "session",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User:         "ops@example.com",
		UpdatedAt:    time.Now().Add(-time.Hour),
	}
	if err := repo.Save(ctx, tokens); err != nil {
		t.Fatalf("Failed to save tokens: %v", err)
	}

	if err := repo.Save(ctx, tokens.WithAccess("access-2", "", time.Now())); err != nil {
		t.Fatalf("Failed to overwrite tokens: %v", err)
	}
	got, err := repo.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Failed to get tokens: %v", err)
	}
	if got.AccessToken != "access-2" || got.RefreshToken != "refresh-1" {
		t.Errorf("Expected access-2/refresh-1, got %s/%s", got.AccessToken, got.RefreshToken)
	}

	n, err := repo.DeleteStale(ctx, time.Now().Add(-time.Minute))
	if err != nil || n != 0 {
		t.Errorf("Expected nothing stale, got %d, %v", n, err)
	}

	if err := repo.Delete(ctx, "session-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := repo.Get(ctx, "session-1"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
