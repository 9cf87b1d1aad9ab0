// Package domain defines credential and token domain models for the authenticator.
//
// The gateway accepts several credential formats behind a single authenticate
// contract: opaque bearer session tokens, OAuth2/OIDC JWTs, and SAML assertions.
// Each format is validated by its own adapter; all converge on a principal plus
// a mapped claim set, or a typed failure with no partial state.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the format of an inbound credential.
type Kind string

const (
	KindBearer        Kind = "bearer"
	KindOAuth2Access  Kind = "oauth2_access"
	KindOAuth2Refresh Kind = "oauth2_refresh"
	KindOIDCID        Kind = "oidc_id"
	KindSAMLAssertion Kind = "saml_assertion"
)

// Claims is the mapped claim set produced by a successful validation,
// normalized across credential formats.
type Claims struct {
	Subject       string
	Issuer        string
	Audience      []string
	Email         string
	EmailVerified bool
	Tier          string // Optional tier hint carried by the identity provider
	Factors       []string
	AuthTime      time.Time
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// RefreshToken is a stored refresh token. Tokens are hashed at rest and grouped
// into families: every rotation stays in the original family, so reuse of a
// superseded token can revoke all descendants at once.
type RefreshToken struct {
	ID           uuid.UUID
	TokenHash    string
	FamilyID     uuid.UUID
	PrincipalID  uuid.UUID
	SessionID    uuid.UUID
	Status       RefreshStatus
	SupersededBy *uuid.UUID
	IssuedAt     time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// RefreshStatus tracks a refresh token's lifecycle.
type RefreshStatus string

const (
	// RefreshActive is the only status that can be exchanged.
	RefreshActive RefreshStatus = "active"
	// RefreshSuperseded marks a token that was already rotated. Presenting it
	// is a reuse signal and revokes the whole family.
	RefreshSuperseded RefreshStatus = "superseded"
	// RefreshRevoked marks a token invalidated by family revocation or logout.
	RefreshRevoked RefreshStatus = "revoked"
)

// SAMLAssertion is the contract-level representation of an inbound assertion.
// The HTTP layer decodes the wire payload; the verifier checks the signature
// and the gateway's timing, audience, and encryption rules.
type SAMLAssertion struct {
	Subject      string            `json:"subject"`
	Issuer       string            `json:"issuer"`
	Audience     string            `json:"audience"`
	IssuedAt     time.Time         `json:"issued_at"`
	NotOnOrAfter time.Time         `json:"not_on_or_after"`
	Encrypted    bool              `json:"encrypted"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Signature    []byte            `json:"signature"`
}

// AuthenticateInput is the tagged union dispatched by the authenticator.
// Exactly one payload field is meaningful for a given Kind.
type AuthenticateInput struct {
	Kind      Kind
	Bearer    string         // KindBearer: opaque session token
	RawToken  string         // KindOAuth2Access / KindOIDCID: compact JWT
	Assertion *SAMLAssertion // KindSAMLAssertion
}

// IssueRefreshInput starts a new refresh token family bound to a session.
type IssueRefreshInput struct {
	PrincipalID uuid.UUID
	SessionID   uuid.UUID
	TTL         time.Duration
}

// IssueRefreshOutput carries the plain refresh token. It is only returned once.
type IssueRefreshOutput struct {
	PlainToken string
	ExpiresAt  time.Time
}
