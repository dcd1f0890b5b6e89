package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// ConversationRepository is an in-memory implementation of repositories.ConversationRepository.
// It keeps each conversation log for the lifetime of the process.
type ConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation // session id -> conversation
}

// NewConversationRepository creates a new in-memory conversation repository
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		conversations: make(map[string]*entities.Conversation),
	}
}

// Create implements repositories.ConversationRepository
func (m *ConversationRepository) Create(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}

	if err := conv.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}

	m.conversations[conv.ID] = conv.Clone()
	return nil
}

// GetByID implements repositories.ConversationRepository
func (m *ConversationRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	if id == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}

	// Return a copy to prevent external modifications
	return conv.Clone(), nil
}

// Append implements repositories.ConversationRepository
func (m *ConversationRepository) Append(ctx context.Context, id string, msg entities.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[id]
	if !exists {
		return repositories.ErrNotFound
	}

	conv.Append(msg)
	return nil
}

// Update implements repositories.ConversationRepository. The message log is
// append-only and is not replaced by Update.
func (m *ConversationRepository) Update(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.conversations[conv.ID]
	if !exists {
		return repositories.ErrNotFound
	}

	updated := conv.Clone()
	updated.Messages = existing.Messages
	updated.LastMessageAt = existing.LastMessageAt
	updated.CreatedAt = existing.CreatedAt // Preserve original creation time
	m.conversations[conv.ID] = updated
	return nil
}

// Delete implements repositories.ConversationRepository
func (m *ConversationRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[id]; !exists {
		return repositories.ErrNotFound
	}

	delete(m.conversations, id)
	return nil
}

// DeleteIdle implements repositories.ConversationRepository
func (m *ConversationRepository) DeleteIdle(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, conv := range m.conversations {
		if conv.LastActiveAt.Before(before) {
			delete(m.conversations, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored conversations
func (m *ConversationRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}
