package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// TokenRepository is an in-memory implementation of repositories.TokenRepository
type TokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]entities.TokenSet
}

// NewTokenRepository creates a new in-memory token repository
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens: make(map[string]entities.TokenSet),
	}
}

// Save implements repositories.TokenRepository
func (m *TokenRepository) Save(ctx context.Context, tokens entities.TokenSet) error {
	if tokens.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens[tokens.SessionID] = tokens
	return nil
}

// Get implements repositories.TokenRepository
func (m *TokenRepository) Get(ctx context.Context, sessionID string) (*entities.TokenSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tokens, exists := m.tokens[sessionID]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return &tokens, nil
}

// Delete implements repositories.TokenRepository
func (m *TokenRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tokens[sessionID]; !exists {
		return repositories.ErrNotFound
	}
	delete(m.tokens, sessionID)
	return nil
}

// DeleteStale implements repositories.TokenRepository
func (m *TokenRepository) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, tokens := range m.tokens {
		if tokens.UpdatedAt.Before(before) {
			delete(m.tokens, id)
			removed++
		}
	}
	return removed, nil
}
