package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/sallyport/gateway/internal/config"
	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/policy"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// assertionVerifier implements AssertionVerifier using HMAC-SHA256 over a
// canonical assertion encoding, with the signing key derived from the shared
// identity provider secret via HKDF-SHA256.
type assertionVerifier struct {
	audience string
	secret   []byte
}

// Verify validates a SAML assertion at the contract level.
//
// Validation steps:
//  1. Verify the HMAC signature over the canonical assertion encoding
//  2. Check the audience matches this gateway
//  3. Check the validity window: not yet expired, issued in the past, and
//     no longer than the tier bundle's maximum assertion validity
//  4. Check the tier's encryption requirement
//  5. Map the assertion to the normalized claim set
func (v *assertionVerifier) Verify(
	_ context.Context,
	assertion *tokenDomain.SAMLAssertion,
	bundle policy.Bundle,
) (*tokenDomain.Claims, error) {
	kind := tokenDomain.KindSAMLAssertion

	if assertion == nil || strings.TrimSpace(assertion.Subject) == "" {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}

	expected, err := v.sign(assertion)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to compute assertion signature")
	}
	if !hmac.Equal(assertion.Signature, expected) {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonSignature)
	}

	if assertion.Audience != v.audience {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonAudience)
	}

	now := time.Now().UTC()
	if !now.Before(assertion.NotOnOrAfter) {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonExpired)
	}
	if assertion.IssuedAt.After(now) {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonExpired)
	}
	// Tier bundles cap how long an assertion may be considered valid, so a
	// long-lived assertion acceptable for a low tier is rejected for a high one.
	if assertion.NotOnOrAfter.Sub(assertion.IssuedAt) > bundle.SAMLMaxValidity {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonExpired)
	}

	if bundle.SAMLEncryption && !assertion.Encrypted {
		return nil, tokenDomain.NewInvalid(kind, tokenDomain.ReasonMalformed)
	}

	claims := &tokenDomain.Claims{
		Subject:   assertion.Subject,
		Issuer:    assertion.Issuer,
		Audience:  []string{assertion.Audience},
		Email:     assertion.Attributes["email"],
		IssuedAt:  assertion.IssuedAt.UTC(),
		ExpiresAt: assertion.NotOnOrAfter.UTC(),
	}
	if assertion.Attributes["email_verified"] == "true" {
		claims.EmailVerified = true
	}
	if tier := assertion.Attributes["tier"]; tier != "" {
		claims.Tier = tier
	}

	return claims, nil
}

// sign computes the HMAC-SHA256 signature over the canonical assertion bytes.
func (v *assertionVerifier) sign(assertion *tokenDomain.SAMLAssertion) ([]byte, error) {
	signingKey, err := v.deriveSigningKey()
	if err != nil {
		return nil, err
	}
	defer zero(signingKey)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(canonicalizeAssertion(assertion))
	return mac.Sum(nil), nil
}

// deriveSigningKey uses HKDF-SHA256 to derive a 32-byte signing key from the
// shared identity provider secret. Info parameter: "saml-assertion-signing-v1"
// (versioned for future algorithm changes).
func (v *assertionVerifier) deriveSigningKey() ([]byte, error) {
	info := []byte("saml-assertion-signing-v1")
	hkdf := hkdf.New(sha256.New, v.secret, nil, info)

	signingKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf, signingKey); err != nil {
		return nil, err
	}

	return signingKey, nil
}

// canonicalizeAssertion converts an assertion to canonical byte representation.
// Format: subject || issuer || audience || issued_at || not_on_or_after || encrypted
// Uses length-prefixed encoding for variable-length fields to prevent ambiguity.
func canonicalizeAssertion(assertion *tokenDomain.SAMLAssertion) []byte {
	buf := make([]byte, 0, 256)

	buf = appendLengthPrefixed(buf, []byte(assertion.Subject))
	buf = appendLengthPrefixed(buf, []byte(assertion.Issuer))
	buf = appendLengthPrefixed(buf, []byte(assertion.Audience))

	timeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBytes, uint64(assertion.IssuedAt.Unix()))
	buf = append(buf, timeBytes...)
	binary.BigEndian.PutUint64(timeBytes, uint64(assertion.NotOnOrAfter.Unix()))
	buf = append(buf, timeBytes...)

	if assertion.Encrypted {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

// appendLengthPrefixed adds a 4-byte big-endian length prefix followed by data.
// Format: [length (4 bytes)] + [data (length bytes)]
func appendLengthPrefixed(buf []byte, data []byte) []byte {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	buf = append(buf, length...)
	buf = append(buf, data...)
	return buf
}

// zero overwrites sensitive data in memory with zeros.
// Prevents key material from lingering in memory after use.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NewAssertionVerifier creates an AssertionVerifier bound to the configured
// SAML audience and signing secret.
func NewAssertionVerifier(config *config.Config) AssertionVerifier {
	return &assertionVerifier{
		audience: config.SAMLAudience,
		secret:   []byte(config.SAMLSigningSecret),
	}
}
