package gateway

import "time"

// User represents an authenticated account as reported by the identity
// provider. It is immutable once constructed from a provider response;
// identity is ID.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Audience     string         `json:"aud"`
	CreatedAt    time.Time      `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Session is a time-bounded credential bundle granting API access.
//
// A Session without a user is invalid and must be treated as absent:
// every consumer goes through Valid() before trusting one.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

// Valid reports whether the session carries both a token and an owner.
func (s *Session) Valid() bool {
	return s != nil && s.AccessToken != "" && s.User != nil && s.User.ID != ""
}
