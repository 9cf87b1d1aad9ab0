// Package usecase implements business logic orchestration for principal management.
package usecase

import (
	"context"

	"github.com/google/uuid"

	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
)

// PrincipalRepository defines persistence operations for principals.
type PrincipalRepository interface {
	// Create inserts a new principal.
	Create(ctx context.Context, principal *principalDomain.Principal) error

	// Update modifies an existing principal.
	Update(ctx context.Context, principal *principalDomain.Principal) error

	// Get retrieves a principal by ID.
	// Returns ErrPrincipalNotFound if no principal matches.
	Get(ctx context.Context, id uuid.UUID) (*principalDomain.Principal, error)

	// GetByExternalSubject retrieves a principal by its federated subject identifier.
	// Returns ErrPrincipalNotFound if no principal matches.
	GetByExternalSubject(ctx context.Context, subject string) (*principalDomain.Principal, error)
}

// PrincipalUseCase defines principal lifecycle operations.
type PrincipalUseCase interface {
	// Provision creates a principal on first federated sign-in (just-in-time
	// provisioning) or merges the mapped claims into the existing principal on
	// subsequent sign-ins. Never duplicates a principal for a known subject.
	Provision(ctx context.Context, input *principalDomain.ProvisionInput) (*principalDomain.Principal, error)

	// Get retrieves an active principal by ID.
	Get(ctx context.Context, id uuid.UUID) (*principalDomain.Principal, error)

	// Lookup retrieves a principal by its federated subject identifier without
	// provisioning. Returns ErrPrincipalNotFound for unknown subjects.
	Lookup(ctx context.Context, subject string) (*principalDomain.Principal, error)

	// Deactivate marks a principal inactive. Principals are never deleted.
	Deactivate(ctx context.Context, id uuid.UUID) error

	// RegisterIP persists an IP as registered for the principal. Used by the
	// policy engine's auto-registration below the tier cap.
	RegisterIP(ctx context.Context, id uuid.UUID, ip string) error

	// SetPaymentVerified records that the principal added a verified payment method.
	SetPaymentVerified(ctx context.Context, id uuid.UUID) error
}
