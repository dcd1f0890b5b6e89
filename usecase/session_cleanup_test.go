package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bmschat/adapters/memory"
	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/tokenstore"
)

func TestSessionCleanupRunOnce(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	conversations := memory.NewConversationRepository()
	tokenRepo := memory.NewTokenRepository()
	store := tokenstore.New(tokenRepo, logger)

	idle := entities.NewConversation("idle", "ops@example.com", time.Hour)
	idle.LastActiveAt = time.Now().Add(-48 * time.Hour)
	fresh := entities.NewConversation("fresh", "ops@example.com", time.Hour)
	for _, conv := range []*entities.Conversation{idle, fresh} {
		if err := conversations.Create(ctx, conv); err != nil {
			t.Fatalf("Failed to create conversation: %v", err)
		}
	}

	tokenRepo.Save(ctx, entities.TokenSet{SessionID: "idle", UpdatedAt: time.Now().Add(-48 * time.Hour)})
	tokenRepo.Save(ctx, entities.TokenSet{SessionID: "fresh", UpdatedAt: time.Now()})

	cleanup := NewSessionCleanupService(conversations, store, 24*time.Hour, logger)
	cleanup.RunOnce()

	if _, err := conversations.GetByID(ctx, "idle"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected idle conversation to be removed, got %v", err)
	}
	if _, err := conversations.GetByID(ctx, "fresh"); err != nil {
		t.Errorf("Expected fresh conversation to be kept, got %v", err)
	}
	if _, err := tokenRepo.Get(ctx, "idle"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("Expected idle token set to be removed, got %v", err)
	}
	if _, err := tokenRepo.Get(ctx, "fresh"); err != nil {
		t.Errorf("Expected fresh token set to be kept, got %v", err)
	}
}

func TestSessionCleanupStartStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cleanup := NewSessionCleanupService(
		memory.NewConversationRepository(),
		tokenstore.New(memory.NewTokenRepository(), logger),
		time.Hour,
		logger,
		WithCleanupInterval(time.Hour),
	)

	cleanup.Start()
	done := make(chan struct{})
	go func() {
		cleanup.Stop()
		cleanup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
