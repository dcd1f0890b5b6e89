package domain

import "encoding/json"

// LoginRequest is sent to the backend authentication endpoint
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by the backend authentication endpoint
type LoginResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	InferrixToken string `json:"inferrix_token"`
	RefreshToken  string `json:"refresh_token,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new access token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries a new access token and optionally a rotated refresh token
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ChatRequest is the body of the chat endpoint
type ChatRequest struct {
	Query  string `json:"query"`
	User   string `json:"user"`
	Device string `json:"device"`
}

// ChatResponse keeps the response raw: it is usually a string but may be an
// object wrapping a result, or something else entirely.
type ChatResponse struct {
	Response json.RawMessage `json:"response"`
}

// DeviceID is the nested id object of the device listing
type DeviceID struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType,omitempty"`
}

// DeviceRecord is one entry of the device listing
type DeviceRecord struct {
	ID    DeviceID `json:"id"`
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Label string   `json:"label"`
}

// DevicesResponse is returned by the device listing endpoint
type DevicesResponse struct {
	Devices []DeviceRecord `json:"devices"`
}
