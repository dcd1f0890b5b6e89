package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a login session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStatus marks how an assistant line came to be
type MessageStatus string

const (
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusError     MessageStatus = "error"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// AssistantSender is the sender name of every assistant line
const AssistantSender = "bot"

// DefaultSessionTTL is how long an idle conversation stays alive
const DefaultSessionTTL = 24 * time.Hour

// ChatMessage is one line of the conversation log. It is never modified
// after being appended.
type ChatMessage struct {
	ID        string        `json:"id" bson:"id"`
	Sender    string        `json:"sender" bson:"sender"`
	Role      MessageRole   `json:"role" bson:"role"`
	Text      string        `json:"text" bson:"text"`
	DeviceID  string        `json:"device_id,omitempty" bson:"device_id,omitempty"`
	Status    MessageStatus `json:"status" bson:"status"`
	CreatedAt time.Time     `json:"created_at" bson:"created_at"`
}

// NewUserMessage creates a user line
func NewUserMessage(sender, text, deviceID string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Role:      MessageRoleUser,
		Text:      text,
		DeviceID:  deviceID,
		Status:    MessageStatusDelivered,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates an assistant line with the given status
func NewAssistantMessage(text string, status MessageStatus) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Sender:    AssistantSender,
		Role:      MessageRoleAssistant,
		Text:      text,
		Status:    status,
		CreatedAt: time.Now(),
	}
}

// Conversation is the ordered chat log of one login session
type Conversation struct {
	ID            string        `json:"id" bson:"_id"`
	User          string        `json:"user" bson:"user"`
	DeviceID      string        `json:"device_id" bson:"device_id"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
	LastActiveAt  time.Time     `json:"last_active_at" bson:"last_active_at"`
	LastMessageAt *time.Time    `json:"last_message_at" bson:"last_message_at"`
	ExpiresAt     time.Time     `json:"expires_at" bson:"expires_at"`
	Status        SessionStatus `json:"status" bson:"status"`
	Messages      []ChatMessage `json:"messages" bson:"messages"`
	ttl           time.Duration
}

// NewConversation creates a conversation for a freshly logged-in user
func NewConversation(id, user string, ttl time.Duration) *Conversation {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	return &Conversation{
		ID:           id,
		User:         user,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
		Status:       SessionStatusActive,
		Messages:     make([]ChatMessage, 0),
		ttl:          ttl,
	}
}

// Append adds a message at the end of the log
func (c *Conversation) Append(msg ChatMessage) {
	c.Messages = append(c.Messages, msg)
	at := msg.CreatedAt
	c.LastMessageAt = &at
	c.UpdateLastActive()
}

// SelectDevice sets (or clears, with "") the device queries are scoped to
func (c *Conversation) SelectDevice(deviceID string) {
	c.DeviceID = deviceID
	c.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (c *Conversation) UpdateLastActive() {
	ttl := c.ttl
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c.LastActiveAt = time.Now()
	c.ExpiresAt = c.LastActiveAt.Add(ttl)
}

// SetTTL changes the idle lifetime, e.g. after loading from storage
func (c *Conversation) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

// IsExpired checks if the conversation can no longer be used
func (c *Conversation) IsExpired() bool {
	return time.Now().After(c.ExpiresAt) || c.Status != SessionStatusActive
}

// Terminate marks the conversation as logged out
func (c *Conversation) Terminate() {
	c.Status = SessionStatusTerminated
	c.LastActiveAt = time.Now()
}

// Expire marks the conversation as expired
func (c *Conversation) Expire() {
	c.Status = SessionStatusExpired
}

// History returns a copy of the messages in display order
func (c *Conversation) History() []ChatMessage {
	out := make([]ChatMessage, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Clone returns a deep copy safe to hand out of a repository
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = c.History()
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		cp.LastMessageAt = &at
	}
	return &cp
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if c.User == "" {
		return errors.New("user is required")
	}

	if c.Status != SessionStatusActive && c.Status != SessionStatusExpired && c.Status != SessionStatusTerminated {
		return errors.New("invalid session status")
	}

	return nil
}
