package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
	credentialService "github.com/sallyport/gateway/internal/credential/service"
	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/policy"
)

// sweepPageSize bounds how many active credentials one sweep page loads.
const sweepPageSize = 200

// credentialUseCase implements CredentialUseCase.
type credentialUseCase struct {
	config         *config.Config
	credentialRepo CredentialRepository
	secretService  credentialService.SecretService
	keeper         credentialService.Keeper
	policyEngine   *policy.Engine
	txManager      database.TxManager
	logger         *slog.Logger
	now            func() time.Time
}

// Issue creates the first credential version of a kind for a principal.
func (c *credentialUseCase) Issue(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.RotateOutput, error) {
	_, err := c.credentialRepo.GetActive(ctx, principalID, kind)
	if err == nil {
		return nil, apperrors.Wrap(apperrors.ErrConflict, "principal already has an active credential of this kind")
	}
	if !errors.Is(err, credentialDomain.ErrCredentialNotFound) {
		return nil, err
	}

	credential, plainSecret, err := c.newVersion(ctx, principalID, kind, 1)
	if err != nil {
		return nil, err
	}

	if err := c.credentialRepo.CreateVersion(ctx, credential); err != nil {
		return nil, err
	}

	return &credentialDomain.RotateOutput{
		CredentialID: credential.ID,
		Version:      credential.Version,
		PlainSecret:  plainSecret,
	}, nil
}

// Rotate publishes a new active version of a kind and deprecates the previous one.
//
// This method:
// 1. Loads the principal's active version for the kind
// 2. Generates, hashes, and KMS-wraps fresh material
// 3. Atomically deprecates the old version with a grace deadline and inserts
//    the new active version in one transaction
//
// Security Notes:
//   - The deprecate step is a compare-and-set on the active status. When two
//     rotations race, exactly one wins; the loser gets ErrRotationConflict and
//     must treat the rotation as already done
//   - The old version keeps validating until its grace deadline, so automation
//     holding the previous secret never breaks at the rotation instant
func (c *credentialUseCase) Rotate(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.RotateOutput, error) {
	active, err := c.credentialRepo.GetActive(ctx, principalID, kind)
	if err != nil {
		return nil, err
	}

	next, plainSecret, err := c.newVersion(ctx, principalID, kind, active.Version+1)
	if err != nil {
		return nil, err
	}

	graceUntil := c.now().UTC().Add(c.config.RotationGraceWindow)

	err = c.txManager.WithTx(ctx, func(ctx context.Context) error {
		deprecated, txErr := c.credentialRepo.MarkDeprecated(ctx, active.ID, graceUntil)
		if txErr != nil {
			return txErr
		}
		if !deprecated {
			return credentialDomain.ErrRotationConflict
		}
		return c.credentialRepo.CreateVersion(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	return &credentialDomain.RotateOutput{
		CredentialID: next.ID,
		Version:      next.Version,
		PlainSecret:  plainSecret,
		GraceUntil:   graceUntil,
	}, nil
}

// Verify checks a presented secret against the principal's accepted
// secret-kind versions. Certificate kinds are never verified here; their
// material is consumed by the assertion signing and encryption paths.
//
// This method:
// 1. Loads the active and deprecated secret versions
// 2. Rejects immediately while the failed-attempt lockout is in force
// 3. Compares the secret against every version still inside its grace window
// 4. Resets the failure counter on success, increments it on failure, and
//    locks the credential once the counter reaches the configured maximum
//
// Security Notes:
//   - Unknown principals and wrong secrets both return ErrInvalidCredential,
//     so callers cannot enumerate which principals have credentials
//   - The lockout state lives on the newest version, which survives rotation
//     resets only when the rotation itself succeeds
func (c *credentialUseCase) Verify(
	ctx context.Context,
	principalID uuid.UUID,
	plainSecret string,
) (*credentialDomain.Credential, error) {
	accepted, err := c.credentialRepo.ListAccepted(ctx, principalID, credentialDomain.KindSecret)
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, credentialDomain.ErrInvalidCredential
	}

	// ListAccepted orders by version descending, so the newest version carries
	// the lockout state.
	carrier := accepted[0]
	now := c.now().UTC()

	if carrier.IsLocked(now) {
		return nil, credentialDomain.ErrCredentialLocked
	}

	for _, credential := range accepted {
		if !credential.AcceptedAt(now) {
			continue
		}
		if c.secretService.CompareSecret(plainSecret, credential.SecretHash) {
			if carrier.FailedAttempts > 0 || carrier.LockedUntil != nil {
				if err := c.credentialRepo.UpdateLockout(ctx, carrier.ID, 0, nil); err != nil {
					return nil, err
				}
			}
			return credential, nil
		}
	}

	attempts := carrier.FailedAttempts + 1
	var lockedUntil *time.Time
	if attempts >= c.config.LockoutMaxAttempts {
		deadline := now.Add(c.config.LockoutDuration)
		lockedUntil = &deadline
	}
	if err := c.credentialRepo.UpdateLockout(ctx, carrier.ID, attempts, lockedUntil); err != nil {
		return nil, err
	}

	if lockedUntil != nil {
		return nil, credentialDomain.ErrCredentialLocked
	}
	return nil, credentialDomain.ErrInvalidCredential
}

// Sweep retires past-grace versions and rotates overdue active versions.
//
// A version is overdue when it is older than its owner tier's rotation
// cadence for its kind: secrets follow the secret cadence, certificate kinds
// the certificate cadence. Rotation moves the credential to the end of the
// created_at order, so anything the shifting page offsets skip is caught on
// the next pass.
func (c *credentialUseCase) Sweep(ctx context.Context) (*SweepResult, error) {
	now := c.now().UTC()

	retired, err := c.credentialRepo.RetireExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Retired: retired}
	for offset := 0; ; offset += sweepPageSize {
		page, err := c.credentialRepo.ListActiveWithTier(ctx, offset, sweepPageSize)
		if err != nil {
			return result, err
		}

		for _, active := range page {
			tier, err := policy.ParseTier(active.Tier)
			if err != nil {
				c.logger.Warn(
					"credential sweep skipped unknown tier",
					"credential_id", active.Credential.ID,
					"tier", active.Tier,
				)
				continue
			}

			bundle := c.policyEngine.Resolve(tier)
			cadence := bundle.SecretRotation
			if active.Credential.Kind != credentialDomain.KindSecret {
				cadence = bundle.CertRotation
			}
			if cadence <= 0 || now.Sub(active.Credential.CreatedAt) < cadence {
				continue
			}

			if _, err := c.Rotate(ctx, active.Credential.PrincipalID, active.Credential.Kind); err != nil {
				if errors.Is(err, credentialDomain.ErrRotationConflict) {
					continue
				}
				c.logger.Error(
					"credential sweep rotation failed",
					"principal_id", active.Credential.PrincipalID,
					"kind", string(active.Credential.Kind),
					"error", err,
				)
				continue
			}
			result.Rotated++
		}

		if len(page) < sweepPageSize {
			return result, nil
		}
	}
}

// Start runs the rotation sweep on the configured interval until ctx is canceled.
func (c *credentialUseCase) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.config.RotationSweepInterval)
	defer ticker.Stop()

	c.logger.Info("credential rotation sweep started", "interval", c.config.RotationSweepInterval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("credential rotation sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			result, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Error("credential rotation sweep failed", "error", err)
				continue
			}
			if result.Retired > 0 || result.Rotated > 0 {
				c.logger.Info(
					"credential rotation sweep completed",
					"retired", result.Retired,
					"rotated", result.Rotated,
				)
			}
		}
	}
}

// newVersion builds a new active credential version with fresh KMS-wrapped
// material. All kinds share the generation path: the material is random,
// hashed for verification, and wrapped for one-time delivery.
func (c *credentialUseCase) newVersion(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
	version int,
) (*credentialDomain.Credential, string, error) {
	plainSecret, hashedSecret, err := c.secretService.GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	encryptedSecret, err := c.keeper.Encrypt(ctx, []byte(plainSecret))
	if err != nil {
		return nil, "", apperrors.Wrap(err, "failed to encrypt secret")
	}

	now := c.now().UTC()
	credential := &credentialDomain.Credential{
		ID:              uuid.Must(uuid.NewV7()),
		PrincipalID:     principalID,
		Kind:            kind,
		Version:         version,
		SecretHash:      hashedSecret,
		EncryptedSecret: encryptedSecret,
		Status:          credentialDomain.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return credential, plainSecret, nil
}

// NewCredentialUseCase creates a new CredentialUseCase with the provided dependencies.
func NewCredentialUseCase(
	config *config.Config,
	credentialRepo CredentialRepository,
	secretService credentialService.SecretService,
	keeper credentialService.Keeper,
	policyEngine *policy.Engine,
	txManager database.TxManager,
	logger *slog.Logger,
) CredentialUseCase {
	return &credentialUseCase{
		config:         config,
		credentialRepo: credentialRepo,
		secretService:  secretService,
		keeper:         keeper,
		policyEngine:   policyEngine,
		txManager:      txManager,
		logger:         logger,
		now:            time.Now,
	}
}
