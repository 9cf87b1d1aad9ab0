// Package gateway implements the request pipeline: edge trust, credential
// authentication, tier policy checks, session handling, rate limiting, and the
// reverse proxy to the protected backend.
package gateway

import (
	"context"

	"github.com/google/uuid"

	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// principalKey is a context key type for storing the authenticated principal.
type principalKey struct{}

// sessionIDKey is a context key type for storing the bound session ID.
type sessionIDKey struct{}

// WithPrincipal stores the authenticated principal in the context.
// Called by the authentication middleware after the credential validates.
func WithPrincipal(ctx context.Context, principal *principalDomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// GetPrincipal retrieves the authenticated principal from the context.
// Returns (principal, true) if present, or (nil, false) if no principal was set.
func GetPrincipal(ctx context.Context) (*principalDomain.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*principalDomain.Principal)
	return principal, ok
}

// WithSessionID stores the request's session ID in the context.
func WithSessionID(ctx context.Context, sessionID uuid.UUID) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// GetSessionID retrieves the request's session ID from the context.
// Returns (sessionID, true) if present, or (uuid.Nil, false) if not set.
func GetSessionID(ctx context.Context) (uuid.UUID, bool) {
	sessionID, ok := ctx.Value(sessionIDKey{}).(uuid.UUID)
	return sessionID, ok
}

// claimsKey is a context key type for storing validated credential claims.
type claimsKey struct{}

// WithClaims stores validated credential claims in the context. Set for
// stateless (JWT) requests, where there is no session to consult.
func WithClaims(ctx context.Context, claims *tokenDomain.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// GetClaims retrieves validated credential claims from the context.
func GetClaims(ctx context.Context) (*tokenDomain.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*tokenDomain.Claims)
	return claims, ok
}
