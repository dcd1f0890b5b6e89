package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/satriahrh/bmschat/domain/entities"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// TokenRepository persists the token set of each login session. Save
// replaces the whole set in one write.
type TokenRepository interface {
	Save(ctx context.Context, tokens entities.TokenSet) error
	Get(ctx context.Context, sessionID string) (*entities.TokenSet, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteStale removes token sets not updated since the given time
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}

// ConversationRepository defines data access methods for conversation logs
type ConversationRepository interface {
	Create(ctx context.Context, conv *entities.Conversation) error
	GetByID(ctx context.Context, id string) (*entities.Conversation, error)
	// Append adds a message at the end of the conversation log
	Append(ctx context.Context, id string, msg entities.ChatMessage) error
	Update(ctx context.Context, conv *entities.Conversation) error
	Delete(ctx context.Context, id string) error
	// DeleteIdle removes conversations whose last activity is before the given time
	DeleteIdle(ctx context.Context, before time.Time) (int, error)
}
