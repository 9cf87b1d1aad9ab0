// Package domain defines versioned principal credentials.
//
// A credential is a long-lived secret a principal's automation presents to the
// gateway (distinct from interactive identity provider sign-ins). Credentials
// are versioned: rotation publishes a new version while the previous one keeps
// validating for a grace window, so in-flight deployments never break at the
// rotation instant.
package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Kind distinguishes what a credential is used for. Each principal holds an
// independent version chain per kind.
type Kind string

const (
	// KindSecret is the shared secret presented on client_credentials grants.
	KindSecret Kind = "secret"
	// KindSigningCert is the key material backing assertion signatures.
	KindSigningCert Kind = "signing_cert"
	// KindEncryptionCert is the key material backing assertion encryption.
	KindEncryptionCert Kind = "encryption_cert"
)

// ParseKind validates a kind string from external input.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSecret, KindSigningCert, KindEncryptionCert:
		return Kind(s), nil
	default:
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown credential kind %q", s)
	}
}

// Status tracks a credential version's lifecycle.
type Status string

const (
	// StatusActive is the current version. Exactly one per (principal, kind).
	StatusActive Status = "active"
	// StatusDeprecated is the previous version, still accepted inside its
	// grace window.
	StatusDeprecated Status = "deprecated"
	// StatusRetired versions are never accepted. Kept for audit history.
	StatusRetired Status = "retired"
)

// Credential is one version of a principal's secret or certificate material.
type Credential struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	Kind        Kind
	Version     int
	// SecretHash is the Argon2id hash used for verification.
	SecretHash string
	// EncryptedSecret is the KMS-wrapped secret material, kept so the active
	// version can be re-delivered to the owning principal's automation.
	EncryptedSecret []byte
	Status          Status
	// RetiresAt is set when the version is deprecated: deprecated_at + grace.
	RetiresAt      *time.Time
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked reports whether the credential is under a failed-attempt lockout.
func (c *Credential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// AcceptedAt reports whether this version validates at the given instant.
func (c *Credential) AcceptedAt(now time.Time) bool {
	switch c.Status {
	case StatusActive:
		return true
	case StatusDeprecated:
		return c.RetiresAt != nil && now.Before(*c.RetiresAt)
	default:
		return false
	}
}

// ActiveCredential pairs an active credential with its owner's tier, used by
// the rotation sweep to apply per-tier rotation cadences.
type ActiveCredential struct {
	Credential Credential
	Tier       string
}

// RotateOutput carries the new plain secret. It is only returned once.
type RotateOutput struct {
	CredentialID uuid.UUID
	Version      int
	PlainSecret  string
	// GraceUntil is when the previous version stops validating.
	GraceUntil time.Time
}

var (
	// ErrCredentialNotFound indicates no credential exists for the principal.
	ErrCredentialNotFound = apperrors.Wrap(apperrors.ErrNotFound, "credential not found")

	// ErrInvalidCredential is the generic verification failure. Wrong secrets
	// and unknown principals look identical to prevent enumeration.
	ErrInvalidCredential = apperrors.Wrap(apperrors.ErrUnauthorized, "invalid credential")

	// ErrCredentialLocked indicates too many failed verifications.
	ErrCredentialLocked = apperrors.Wrap(apperrors.ErrLocked, "credential locked")

	// ErrRotationConflict indicates a concurrent rotation won the version
	// race. The caller should treat the rotation as already done.
	ErrRotationConflict = apperrors.Wrap(apperrors.ErrConflict, "credential rotation conflict")
)
