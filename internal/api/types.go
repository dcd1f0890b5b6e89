package api

import (
	"time"

	"github.com/satriahrh/bmschat/domain/entities"
)

// LoginRequest represents the request payload for user login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the gateway session token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionID string    `json:"session_id"`
	User      string    `json:"user"`
}

// ChatRequest represents the request payload for a chat query
type ChatRequest struct {
	Query    string `json:"query"`
	DeviceID string `json:"device_id,omitempty"`
}

// SelectDeviceRequest scopes later queries to a device
type SelectDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// DevicesResponse lists the session's devices
type DevicesResponse struct {
	Devices  []entities.Device `json:"devices"`
	Selected string            `json:"selected,omitempty"`
}

// MessageView is a conversation line with its rendering
type MessageView struct {
	entities.ChatMessage
	HTML string `json:"html,omitempty"`
}

// ConversationResponse is the conversation log of the session
type ConversationResponse struct {
	SessionID string        `json:"session_id"`
	User      string        `json:"user"`
	DeviceID  string        `json:"device_id,omitempty"`
	Messages  []MessageView `json:"messages"`
}

// CancelResponse reports whether a pending request was cancelled
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HealthResponse reports gateway and backend health
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Backend string `json:"backend"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
