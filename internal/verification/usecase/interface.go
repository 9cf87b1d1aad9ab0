// Package usecase implements the elevated-access verification workflow.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
)

// VerificationRepository defines the persistence contract for verification requests.
type VerificationRepository interface {
	// Create inserts a new verification request.
	Create(ctx context.Context, request *verificationDomain.Request) error
	// GetByID retrieves a verification request by its ID.
	GetByID(ctx context.Context, id uuid.UUID) (*verificationDomain.Request, error)
	// ListByPrincipal retrieves a principal's requests, newest first.
	ListByPrincipal(ctx context.Context, principalID uuid.UUID, offset, limit int) ([]*verificationDomain.Request, error)
	// Decide transitions a pending request to a terminal status. Returns
	// false when the request was no longer pending.
	Decide(ctx context.Context, id uuid.UUID, status verificationDomain.Status, approverID uuid.UUID, completedAt time.Time) (bool, error)
	// ExpirePending transitions pending requests past their deadline to expired.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	// HasApproved reports whether the principal holds an unexpired approval
	// for the access level.
	HasApproved(ctx context.Context, principalID uuid.UUID, accessLevel string, now time.Time) (bool, error)
}

// VerificationUseCase defines the verification workflow operations.
type VerificationUseCase interface {
	// Request opens a new pending verification request with the configured TTL.
	Request(ctx context.Context, input *verificationDomain.RequestInput) (*verificationDomain.Request, error)
	// Approve grants a pending request. The approver must not be the requester.
	Approve(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error)
	// Reject denies a pending request. The approver must not be the requester.
	Reject(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error)
	// Status retrieves a request with its effective status.
	Status(ctx context.Context, id uuid.UUID) (*verificationDomain.Request, error)
	// List retrieves a principal's requests, newest first.
	List(ctx context.Context, principalID uuid.UUID, offset, limit int) ([]*verificationDomain.Request, error)
	// HasApproved reports whether the principal holds an unexpired approval
	// for the access level.
	HasApproved(ctx context.Context, principalID uuid.UUID, accessLevel string) (bool, error)
	// Sweep persists the expired transition for pending requests past their TTL.
	Sweep(ctx context.Context) (int64, error)
	// Start runs the expiry sweep on an interval until ctx is canceled.
	Start(ctx context.Context) error
}
