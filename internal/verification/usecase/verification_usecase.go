package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
)

// verificationUseCase implements VerificationUseCase.
type verificationUseCase struct {
	config           *config.Config
	verificationRepo VerificationRepository
	logger           *slog.Logger
	now              func() time.Time
}

// Request opens a new pending verification request.
func (v *verificationUseCase) Request(
	ctx context.Context,
	input *verificationDomain.RequestInput,
) (*verificationDomain.Request, error) {
	now := v.now().UTC()
	request := &verificationDomain.Request{
		ID:           uuid.Must(uuid.NewV7()),
		PrincipalID:  input.PrincipalID,
		Purpose:      input.Purpose,
		AccessLevel:  input.AccessLevel,
		DeviceInfo:   input.DeviceInfo,
		LocationInfo: input.LocationInfo,
		Status:       verificationDomain.StatusPending,
		RequestedAt:  now,
		ExpiresAt:    now.Add(v.config.VerificationTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := v.verificationRepo.Create(ctx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// Approve grants a pending request.
//
// This method:
// 1. Rejects self-approval before looking at the status
// 2. Rejects requests past their deadline even if the sweep has not expired
//    them yet
// 3. Applies the decision as a compare-and-set on the pending status, so a
//    racing approver, rejecter, or sweep produces exactly one transition
func (v *verificationUseCase) Approve(
	ctx context.Context,
	id, approverID uuid.UUID,
) (*verificationDomain.Request, error) {
	return v.decide(ctx, id, approverID, verificationDomain.StatusApproved)
}

// Reject denies a pending request. Same transition rules as Approve.
func (v *verificationUseCase) Reject(
	ctx context.Context,
	id, approverID uuid.UUID,
) (*verificationDomain.Request, error) {
	return v.decide(ctx, id, approverID, verificationDomain.StatusRejected)
}

// decide applies a terminal decision to a pending request.
func (v *verificationUseCase) decide(
	ctx context.Context,
	id, approverID uuid.UUID,
	status verificationDomain.Status,
) (*verificationDomain.Request, error) {
	request, err := v.verificationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if request.PrincipalID == approverID {
		return nil, verificationDomain.ErrSelfApproval
	}

	now := v.now().UTC()
	switch request.StatusAt(now) {
	case verificationDomain.StatusPending:
	case verificationDomain.StatusExpired:
		return nil, verificationDomain.ErrExpired
	default:
		return nil, verificationDomain.ErrAlreadyDecided
	}

	decided, err := v.verificationRepo.Decide(ctx, id, status, approverID, now)
	if err != nil {
		return nil, err
	}
	if !decided {
		return nil, verificationDomain.ErrAlreadyDecided
	}

	request.Status = status
	request.ApproverID = &approverID
	request.CompletedAt = &now
	request.UpdatedAt = now
	return request, nil
}

// Status retrieves a request with its effective status.
func (v *verificationUseCase) Status(
	ctx context.Context,
	id uuid.UUID,
) (*verificationDomain.Request, error) {
	request, err := v.verificationRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	request.Status = request.StatusAt(v.now().UTC())
	return request, nil
}

// List retrieves a principal's requests, newest first.
func (v *verificationUseCase) List(
	ctx context.Context,
	principalID uuid.UUID,
	offset, limit int,
) ([]*verificationDomain.Request, error) {
	requests, err := v.verificationRepo.ListByPrincipal(ctx, principalID, offset, limit)
	if err != nil {
		return nil, err
	}

	now := v.now().UTC()
	for _, request := range requests {
		request.Status = request.StatusAt(now)
	}
	return requests, nil
}

// HasApproved reports whether the principal holds an unexpired approval for
// the access level.
func (v *verificationUseCase) HasApproved(
	ctx context.Context,
	principalID uuid.UUID,
	accessLevel string,
) (bool, error) {
	return v.verificationRepo.HasApproved(ctx, principalID, accessLevel, v.now().UTC())
}

// Sweep persists the expired transition for pending requests past their TTL.
func (v *verificationUseCase) Sweep(ctx context.Context) (int64, error) {
	return v.verificationRepo.ExpirePending(ctx, v.now().UTC())
}

// Start runs the expiry sweep on the configured interval until ctx is canceled.
func (v *verificationUseCase) Start(ctx context.Context) error {
	ticker := time.NewTicker(v.config.VerificationSweepInterval)
	defer ticker.Stop()

	v.logger.Info("verification expiry sweep started", "interval", v.config.VerificationSweepInterval)

	for {
		select {
		case <-ctx.Done():
			v.logger.Info("verification expiry sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			expired, err := v.Sweep(ctx)
			if err != nil {
				v.logger.Error("verification expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				v.logger.Info("verification requests expired", "count", expired)
			}
		}
	}
}

// NewVerificationUseCase creates a new VerificationUseCase with the provided dependencies.
func NewVerificationUseCase(
	config *config.Config,
	verificationRepo VerificationRepository,
	logger *slog.Logger,
) VerificationUseCase {
	return &verificationUseCase{
		config:           config,
		verificationRepo: verificationRepo,
		logger:           logger,
		now:              time.Now,
	}
}
