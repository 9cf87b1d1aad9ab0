package dto

import "time"

// IssueTokenResponse contains the established session and its refresh token.
// Both token values are returned exactly once.
type IssueTokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	PrincipalID      string    `json:"principal_id"`
	Tier             string    `json:"tier"`
}

// RefreshTokenResponse contains the replacement refresh token after a rotation.
type RefreshTokenResponse struct {
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionID    string    `json:"session_id"`
	PrincipalID  string    `json:"principal_id"`
}
