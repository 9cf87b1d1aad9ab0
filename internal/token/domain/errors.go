package domain

import (
	"fmt"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// InvalidReason classifies why a credential failed validation. The reason is
// recorded in the audit trail; clients only ever see a generic unauthorized
// response.
type InvalidReason string

const (
	ReasonExpired   InvalidReason = "expired"
	ReasonMalformed InvalidReason = "malformed"
	ReasonSignature InvalidReason = "signature"
	ReasonAudience  InvalidReason = "audience"
)

// InvalidError is a typed credential validation failure. It unwraps to
// ErrUnauthorized so the HTTP layer maps every variant to 401.
type InvalidError struct {
	Kind   Kind
	Reason InvalidReason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s credential: %s", e.Kind, e.Reason)
}

func (e *InvalidError) Unwrap() error {
	return apperrors.ErrUnauthorized
}

// NewInvalid creates a typed credential validation failure.
func NewInvalid(kind Kind, reason InvalidReason) *InvalidError {
	return &InvalidError{Kind: kind, Reason: reason}
}

var (
	// ErrRefreshReused signals presentation of a superseded or revoked refresh
	// token. The whole token family and any bound sessions are revoked before
	// this is returned.
	ErrRefreshReused = apperrors.Wrap(apperrors.ErrUnauthorized, "refresh token reuse detected")

	// ErrRefreshNotFound is returned when no stored token matches the
	// presented hash.
	ErrRefreshNotFound = apperrors.Wrap(apperrors.ErrNotFound, "refresh token not found")

	// ErrPKCEInvalid covers a failed S256 verifier check or an unsupported
	// challenge method. The plain method is never accepted.
	ErrPKCEInvalid = apperrors.Wrap(apperrors.ErrUnauthorized, "pkce verification failed")

	// ErrUnsupportedKind is returned for credential kinds the authenticator
	// does not dispatch.
	ErrUnsupportedKind = apperrors.Wrap(apperrors.ErrInvalidInput, "unsupported credential kind")
)
