package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/satriahrh/bmschat/domain"
	"github.com/satriahrh/bmschat/domain/entities"
)

var (
	// ErrSessionExpired is returned when a session's tokens are gone or can no longer be renewed
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidCredentials is returned when login is refused
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ChatBackend abstracts the service that authenticates users and answers
// facility queries. Implementations keep the session's tokens themselves.
type ChatBackend interface {
	// Login authenticates the user and stores the session's tokens
	Login(ctx context.Context, sessionID, email, password string) (*entities.TokenSet, error)
	// Logout forgets the session's tokens
	Logout(ctx context.Context, sessionID string) error
	// Chat sends a query and returns the raw response field
	Chat(ctx context.Context, sessionID string, req domain.ChatRequest) (json.RawMessage, error)
	// Devices lists the devices visible to the session
	Devices(ctx context.Context, sessionID string) ([]entities.Device, error)
	// Health checks that the backend is reachable
	Health(ctx context.Context) error
}
