// Package usecase implements business logic orchestration for credential authentication.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	// Create inserts a new refresh token.
	Create(ctx context.Context, token *tokenDomain.RefreshToken) error

	// GetByHash retrieves a refresh token by its SHA-256 hash regardless of
	// status. Returns ErrRefreshNotFound if no token matches.
	GetByHash(ctx context.Context, tokenHash string) (*tokenDomain.RefreshToken, error)

	// MarkSuperseded transitions an active token to superseded with a
	// compare-and-set on the status. Returns false when the token was not
	// active, meaning a concurrent exchange already rotated it.
	MarkSuperseded(ctx context.Context, id uuid.UUID, supersededBy uuid.UUID) (bool, error)

	// RevokeFamily revokes every non-revoked token in the family.
	RevokeFamily(ctx context.Context, familyID uuid.UUID) error

	// ListSessionIDsForFamily returns the distinct session IDs bound to
	// tokens in the family.
	ListSessionIDsForFamily(ctx context.Context, familyID uuid.UUID) ([]uuid.UUID, error)

	// DeleteExpired removes tokens whose expiry passed before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionLookup resolves an opaque bearer token to its live session. The
// session manager implements this; the indirection keeps the session package
// free of credential concerns.
type SessionLookup interface {
	// Authenticate returns the session and principal IDs for a live bearer
	// token, touching the session's activity clock. Returns an error wrapping
	// ErrUnauthorized for unknown, expired, or revoked tokens.
	Authenticate(ctx context.Context, bearer string) (sessionID, principalID uuid.UUID, err error)

	// Revoke terminates a session with a reason. Revoking an already-revoked
	// session is a no-op.
	Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	Principal *principalDomain.Principal
	Claims    *tokenDomain.Claims
	// SessionID is set for bearer credentials, which are bound to a session.
	SessionID uuid.UUID
}

// ExchangeRefreshOutput carries the replacement token from a rotation.
type ExchangeRefreshOutput struct {
	PlainToken  string
	ExpiresAt   time.Time
	PrincipalID uuid.UUID
	SessionID   uuid.UUID
}

// Authenticator validates inbound credentials of any supported format and
// manages the refresh token lifecycle.
type Authenticator interface {
	// Authenticate dispatches the credential to its format validator and
	// resolves the principal, just-in-time provisioning federated subjects.
	// Fails closed: any validation error produces a typed failure and no
	// partial state.
	Authenticate(ctx context.Context, input *tokenDomain.AuthenticateInput) (*AuthResult, error)

	// IssueRefresh starts a new refresh token family bound to a session.
	IssueRefresh(ctx context.Context, input *tokenDomain.IssueRefreshInput) (*tokenDomain.IssueRefreshOutput, error)

	// ExchangeRefresh rotates a refresh token: the presented token is
	// superseded and a replacement from the same family is returned.
	// Presenting a superseded or revoked token revokes the entire family and
	// its bound sessions and returns ErrRefreshReused.
	ExchangeRefresh(ctx context.Context, plainToken string) (*ExchangeRefreshOutput, error)

	// RevokeRefresh revokes the family of the presented token and its bound
	// sessions. Used on logout. Unknown tokens are a no-op.
	RevokeRefresh(ctx context.Context, plainToken string) error
}
