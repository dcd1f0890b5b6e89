package entities

import "time"

// TokenSet is the credential material of one login session. It is always
// written as a whole so the access and refresh tokens never disagree.
type TokenSet struct {
	SessionID    string    `json:"session_id" bson:"_id"`
	SessionToken string    `json:"session_token" bson:"session_token"`
	AccessToken  string    `json:"access_token" bson:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty" bson:"refresh_token,omitempty"`
	User         string    `json:"user" bson:"user"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// CanRefresh reports whether a refresh token is available
func (t *TokenSet) CanRefresh() bool {
	return t.RefreshToken != ""
}

// WithAccess returns a copy carrying a new access token and, when rotated,
// a new refresh token.
func (t TokenSet) WithAccess(accessToken, refreshToken string, at time.Time) TokenSet {
	t.AccessToken = accessToken
	if refreshToken != "" {
		t.RefreshToken = refreshToken
	}
	t.UpdatedAt = at
	return t
}
