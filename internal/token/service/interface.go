// Package service provides technical services for credential validation.
//
// This package implements the per-format validators behind the authenticator:
// JWT validation for OAuth2 access and OIDC identity tokens, assertion
// verification for SAML, PKCE verification for authorization-code exchanges,
// and opaque refresh token generation and hashing.
package service

import (
	"context"

	"github.com/sallyport/gateway/internal/policy"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// JWTValidator validates compact JWTs issued by the trusted identity provider.
type JWTValidator interface {
	// Validate parses and verifies the token's signature, issuer, audience,
	// and expiry, then maps its claims to the gateway's normalized claim set.
	//
	// Failures return a *domain.InvalidError carrying the classification
	// (expired, malformed, signature, audience).
	Validate(ctx context.Context, kind tokenDomain.Kind, raw string) (*tokenDomain.Claims, error)
}

// AssertionVerifier validates SAML assertions at the contract level.
type AssertionVerifier interface {
	// Verify checks the assertion's signature, audience, and validity window
	// against the tier bundle's assertion rules, then maps the assertion to
	// the normalized claim set.
	Verify(ctx context.Context, assertion *tokenDomain.SAMLAssertion, bundle policy.Bundle) (*tokenDomain.Claims, error)
}

// RefreshTokenService generates and hashes opaque refresh tokens.
// Plain tokens are never stored; only the SHA-256 hash is persisted.
type RefreshTokenService interface {
	// GenerateToken creates a new cryptographically secure random token.
	// Returns both the plain text token (returned to the client exactly once)
	// and the hashed version (stored in the database).
	GenerateToken() (plainToken string, tokenHash string, error error)

	// HashToken hashes a plain text token using SHA-256.
	// Used for token lookup by comparing hashes.
	HashToken(plainToken string) string
}
