// Package usecase implements session lifecycle management.
package usecase

import (
	"context"

	"github.com/google/uuid"

	sessionDomain "github.com/sallyport/gateway/internal/session/domain"
)

// SessionManager defines session lifecycle operations. All state lives in
// memory; sessions do not survive a gateway restart, which is acceptable
// because clients re-authenticate with their refresh token or identity
// provider credential.
type SessionManager interface {
	// Create establishes a session within the principal's tier bundle limits.
	// At the concurrent session limit, reject-mode tiers get ErrSessionLimit
	// and evict-mode tiers displace the least recently used session.
	Create(ctx context.Context, input *sessionDomain.CreateInput) (*sessionDomain.CreateOutput, error)

	// Authenticate resolves an opaque bearer token to a live session, updating
	// its activity clock. Unknown, expired, idle, and revoked tokens all
	// return ErrSessionNotFound.
	Authenticate(ctx context.Context, bearer string) (sessionID, principalID uuid.UUID, err error)

	// Get returns a copy of a live session.
	Get(ctx context.Context, sessionID uuid.UUID) (*sessionDomain.Session, error)

	// Revoke terminates a session with a reason. Revoking an unknown session
	// is a no-op.
	Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error

	// RevokeAllForPrincipal terminates every session owned by the principal.
	// Returns the number of sessions revoked.
	RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, reason string) int

	// Sweep removes sessions past their absolute or idle deadline without
	// waiting for them to be touched. Returns the number removed.
	Sweep(ctx context.Context) int

	// Start runs the periodic sweep until the context is cancelled.
	Start(ctx context.Context) error
}
