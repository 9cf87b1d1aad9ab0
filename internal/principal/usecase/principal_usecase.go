package usecase

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
)

// principalUseCase implements PrincipalUseCase.
type principalUseCase struct {
	config        *config.Config
	principalRepo PrincipalRepository
}

// Provision creates or updates a principal for a federated subject.
//
// First sign-in: creates a principal with the configured default tier, baseline
// trust score, and the verification flags carried by the mapped claims.
// Subsequent sign-ins: merges claims into the existing principal instead of
// duplicating it; a gained email verification raises the trust score.
//
// Returns ErrPrincipalInactive for deactivated principals; they are never
// re-activated by a sign-in.
func (p *principalUseCase) Provision(
	ctx context.Context,
	input *principalDomain.ProvisionInput,
) (*principalDomain.Principal, error) {
	existing, err := p.principalRepo.GetByExternalSubject(ctx, input.ExternalSubject)
	if err != nil {
		if !errors.Is(err, principalDomain.ErrPrincipalNotFound) {
			return nil, err
		}
		return p.create(ctx, input)
	}

	if !existing.IsActive {
		return nil, principalDomain.ErrPrincipalInactive
	}

	// Merge, never duplicate. Verification only moves forward here; revocation
	// of a verification level is an administrative operation.
	changed := false
	if input.EmailVerified && !existing.VerifiedEmail {
		existing.VerifiedEmail = true
		existing.TrustScore += 10
		existing.ClampTrustScore()
		changed = true
	}

	if changed {
		existing.UpdatedAt = time.Now().UTC()
		if err := p.principalRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
	}

	return existing, nil
}

// create provisions a brand new principal from mapped claims.
func (p *principalUseCase) create(
	ctx context.Context,
	input *principalDomain.ProvisionInput,
) (*principalDomain.Principal, error) {
	tier := input.Tier
	if tier == "" {
		parsed, err := policy.ParseTier(p.config.DefaultTier)
		if err != nil {
			parsed = policy.TierSapphire
		}
		tier = parsed
	}

	now := time.Now().UTC()
	principal := &principalDomain.Principal{
		ID:              uuid.Must(uuid.NewV7()),
		ExternalSubject: input.ExternalSubject,
		Tier:            tier,
		VerifiedEmail:   input.EmailVerified,
		TrustScore:      principalDomain.DefaultTrustScore,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := p.principalRepo.Create(ctx, principal); err != nil {
		return nil, err
	}

	return principal, nil
}

// Get retrieves an active principal by ID.
// Returns ErrPrincipalInactive if the principal has been deactivated.
func (p *principalUseCase) Get(ctx context.Context, id uuid.UUID) (*principalDomain.Principal, error) {
	principal, err := p.principalRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.IsActive {
		return nil, principalDomain.ErrPrincipalInactive
	}
	return principal, nil
}

// Lookup retrieves a principal by federated subject without provisioning.
func (p *principalUseCase) Lookup(ctx context.Context, subject string) (*principalDomain.Principal, error) {
	return p.principalRepo.GetByExternalSubject(ctx, subject)
}

// Deactivate marks the principal inactive. The row is kept for audit history.
func (p *principalUseCase) Deactivate(ctx context.Context, id uuid.UUID) error {
	principal, err := p.principalRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !principal.IsActive {
		return nil
	}
	principal.IsActive = false
	principal.UpdatedAt = time.Now().UTC()
	return p.principalRepo.Update(ctx, principal)
}

// RegisterIP appends the IP to the principal's registered set if not present.
// The policy engine enforces the tier cap before calling this.
func (p *principalUseCase) RegisterIP(ctx context.Context, id uuid.UUID, ip string) error {
	principal, err := p.principalRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if slices.Contains(principal.RegisteredIPs, ip) {
		return nil
	}
	principal.RegisteredIPs = append(principal.RegisteredIPs, ip)
	principal.UpdatedAt = time.Now().UTC()
	return p.principalRepo.Update(ctx, principal)
}

// SetPaymentVerified records a verified payment method and raises the trust score.
func (p *principalUseCase) SetPaymentVerified(ctx context.Context, id uuid.UUID) error {
	principal, err := p.principalRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if principal.VerifiedPaymentMethod {
		return nil
	}
	principal.VerifiedPaymentMethod = true
	principal.TrustScore += 10
	principal.ClampTrustScore()
	principal.UpdatedAt = time.Now().UTC()
	return p.principalRepo.Update(ctx, principal)
}

// NewPrincipalUseCase creates a new PrincipalUseCase with the provided dependencies.
func NewPrincipalUseCase(
	config *config.Config,
	principalRepo PrincipalRepository,
) PrincipalUseCase {
	return &principalUseCase{
		config:        config,
		principalRepo: principalRepo,
	}
}
