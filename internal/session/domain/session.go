// Package domain defines session domain models.
//
// Sessions are the gateway's in-memory representation of an authenticated
// principal. They are keyed by an opaque bearer token (hashed in the store)
// and bounded by the principal's tier bundle: concurrent session limits,
// absolute timeouts, and idle timeouts all come from the bundle.
package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/policy"
)

// Session is a live authenticated session.
type Session struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	Tier        policy.Tier
	// TokenHash is the SHA-256 hash of the opaque bearer token. The plain
	// token is returned once at creation and never stored.
	TokenHash string
	ClientIP  string
	// Factors lists the authentication methods satisfied at sign-in.
	Factors        []string
	MFASatisfiedAt time.Time
	CreatedAt      time.Time
	LastSeenAt     time.Time
	ExpiresAt      time.Time
}

// CreateInput carries everything needed to establish a session.
type CreateInput struct {
	PrincipalID uuid.UUID
	Tier        policy.Tier
	ClientIP    string
	Factors     []string
	// AuthTime is when the listed factors were presented. Whether they
	// satisfy MFA is decided against the tier bundle at creation.
	AuthTime time.Time
}

// CreateOutput carries the session handle and its plain bearer token.
// The plain token is only returned once.
type CreateOutput struct {
	SessionID  uuid.UUID
	PlainToken string
	ExpiresAt  time.Time
}

// Revocation reasons recorded in the audit trail.
const (
	RevokeReasonLogout      = "logout"
	RevokeReasonEvicted     = "evicted_lru"
	RevokeReasonExpired     = "expired"
	RevokeReasonIdle        = "idle_timeout"
	RevokeReasonDeactivated = "principal_deactivated"
)

var (
	// ErrSessionNotFound covers unknown, expired, and revoked bearer tokens.
	// All three look identical to the caller.
	ErrSessionNotFound = apperrors.Wrap(apperrors.ErrUnauthorized, "session not found")

	// ErrSessionLimit is returned in reject mode when a principal is at
	// their tier's concurrent session limit.
	ErrSessionLimit = apperrors.Wrap(apperrors.ErrConflict, "concurrent session limit reached")
)
