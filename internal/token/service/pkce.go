package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// PKCEMethodS256 is the only code challenge method the gateway accepts.
// The plain method is rejected unconditionally.
const PKCEMethodS256 = "S256"

const (
	// RFC 7636 section 4.1 verifier length bounds.
	minVerifierLength = 43
	maxVerifierLength = 128
)

// VerifyPKCE checks a code verifier against its S256 code challenge.
//
// The challenge must equal base64url(SHA-256(verifier)) without padding.
// Returns ErrPKCEInvalid for an unsupported method, an out-of-bounds or
// malformed verifier, or a mismatched challenge.
func VerifyPKCE(verifier, challenge, method string) error {
	if method != PKCEMethodS256 {
		return tokenDomain.ErrPKCEInvalid
	}
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return tokenDomain.ErrPKCEInvalid
	}
	for i := 0; i < len(verifier); i++ {
		if !isVerifierChar(verifier[i]) {
			return tokenDomain.ErrPKCEInvalid
		}
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return tokenDomain.ErrPKCEInvalid
	}
	return nil
}

// isVerifierChar reports whether c is in the RFC 7636 unreserved character set.
func isVerifierChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
