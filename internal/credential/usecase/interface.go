// Package usecase implements credential lifecycle business logic.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
)

// CredentialRepository defines the persistence contract for credentials.
type CredentialRepository interface {
	// CreateVersion inserts a new credential version.
	CreateVersion(ctx context.Context, credential *credentialDomain.Credential) error
	// GetActive retrieves the principal's active credential version of a kind.
	GetActive(ctx context.Context, principalID uuid.UUID, kind credentialDomain.Kind) (*credentialDomain.Credential, error)
	// ListAccepted retrieves the principal's active and deprecated versions of
	// a kind, newest first.
	ListAccepted(ctx context.Context, principalID uuid.UUID, kind credentialDomain.Kind) ([]*credentialDomain.Credential, error)
	// MarkDeprecated transitions an active version to deprecated with a retire
	// deadline. Returns false when the version was no longer active.
	MarkDeprecated(ctx context.Context, id uuid.UUID, retiresAt time.Time) (bool, error)
	// RetireExpired transitions deprecated versions past their grace window to
	// retired.
	RetireExpired(ctx context.Context, now time.Time) (int64, error)
	// ListActiveWithTier retrieves active credentials joined with the owning
	// principal's tier.
	ListActiveWithTier(ctx context.Context, offset, limit int) ([]*credentialDomain.ActiveCredential, error)
	// UpdateLockout persists the failed-attempt counter and lockout deadline.
	UpdateLockout(ctx context.Context, id uuid.UUID, failedAttempts int, lockedUntil *time.Time) error
}

// SweepResult summarizes one rotation sweep pass.
type SweepResult struct {
	// Retired is the number of deprecated versions past their grace window.
	Retired int64
	// Rotated is the number of overdue active versions rotated this pass.
	Rotated int
}

// CredentialUseCase defines the credential lifecycle operations.
type CredentialUseCase interface {
	// Issue creates the first credential version of a kind for a principal.
	Issue(ctx context.Context, principalID uuid.UUID, kind credentialDomain.Kind) (*credentialDomain.RotateOutput, error)
	// Rotate publishes a new active version of a kind and deprecates the
	// previous one with a grace window.
	Rotate(ctx context.Context, principalID uuid.UUID, kind credentialDomain.Kind) (*credentialDomain.RotateOutput, error)
	// Verify checks a presented secret against the principal's accepted
	// secret-kind versions, enforcing the failed-attempt lockout.
	Verify(ctx context.Context, principalID uuid.UUID, plainSecret string) (*credentialDomain.Credential, error)
	// Sweep retires past-grace versions and rotates credentials older than
	// their tier's rotation cadence for their kind.
	Sweep(ctx context.Context) (*SweepResult, error)
	// Start runs the rotation sweep on an interval until ctx is canceled.
	Start(ctx context.Context) error
}
