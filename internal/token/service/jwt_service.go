package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sallyport/gateway/internal/config"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// gatewayClaims is the internal claims type used for JWT parsing. It covers
// both OAuth2 access tokens and OIDC identity tokens from the trusted issuer.
type gatewayClaims struct {
	jwt.RegisteredClaims
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Tier          string   `json:"tier,omitempty"`
	AMR           []string `json:"amr,omitempty"`
	AuthTime      int64    `json:"auth_time,omitempty"`
}

// jwtValidator implements JWTValidator using HS256 signatures from the
// configured identity provider secret.
type jwtValidator struct {
	issuer   string
	audience string
	secret   []byte
}

// Validate parses and verifies a compact JWT.
//
// Validation steps:
//  1. Parse and verify the HS256 signature
//  2. Check the expiry and not-before timestamps
//  3. Check the issuer matches the trusted identity provider
//  4. Check the gateway audience is present
//  5. Map claims to the normalized claim set
//
// Every failure is classified for the audit trail; the HTTP layer collapses
// all of them into a generic 401 so the response does not leak which check
// failed.
func (j *jwtValidator) Validate(
	_ context.Context,
	kind tokenDomain.Kind,
	raw string,
) (*tokenDomain.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}

	parsed, err := jwt.ParseWithClaims(raw, &gatewayClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, tokenDomain.NewInvalid(kind, classifyParseError(err))
	}

	claims, ok := parsed.Claims.(*gatewayClaims)
	if !ok || !parsed.Valid {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}

	if claims.Issuer != j.issuer {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonSignature)
	}
	if !slices.Contains(claims.Audience, j.audience) {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonAudience)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}

	mapped := &tokenDomain.Claims{
		Subject:       claims.Subject,
		Issuer:        claims.Issuer,
		Audience:      claims.Audience,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Tier:          claims.Tier,
		Factors:       claims.AMR,
		IssuedAt:      claims.IssuedAt.Time.UTC(),
		ExpiresAt:     claims.ExpiresAt.Time.UTC(),
	}
	if claims.AuthTime > 0 {
		mapped.AuthTime = time.Unix(claims.AuthTime, 0).UTC()
	}

	return mapped, nil
}

// classifyParseError maps golang-jwt parse failures to audit reasons.
func classifyParseError(err error) tokenDomain.InvalidReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return tokenDomain.ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return tokenDomain.ReasonSignature
	default:
		return tokenDomain.ReasonMalformed
	}
}

// NewJWTValidator creates a JWTValidator bound to the configured identity
// provider issuer, audience, and signing secret.
func NewJWTValidator(config *config.Config) JWTValidator {
	return &jwtValidator{
		issuer:   config.OIDCIssuer,
		audience: config.OIDCAudience,
		secret:   []byte(config.OIDCSigningSecret),
	}
}
