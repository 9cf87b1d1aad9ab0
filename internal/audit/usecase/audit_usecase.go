package usecase

import (
	"context"
	"errors"
	"time"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	auditService "github.com/sallyport/gateway/internal/audit/service"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// verifyPageSize bounds how many records are loaded per verification page.
const verifyPageSize = 500

// auditUseCase implements AuditUseCase for operator-facing trail operations.
type auditUseCase struct {
	repo   AuditRepository
	signer auditService.Signer
}

// List retrieves audit records with pagination and optional time filters.
func (a *auditUseCase) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.Record, error) {
	records, err := a.repo.List(ctx, offset, limit, createdAtFrom, createdAtTo)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit records")
	}
	return records, nil
}

// Verify walks stored records page by page and checks every signature.
// Unsigned records are counted separately; they predate signing or were
// parked during an outage and are worth operator attention either way.
func (a *auditUseCase) Verify(
	ctx context.Context,
	createdAtFrom, createdAtTo *time.Time,
) (*VerifyResult, error) {
	result := &VerifyResult{}

	for offset := 0; ; offset += verifyPageSize {
		records, err := a.repo.List(ctx, offset, verifyPageSize, createdAtFrom, createdAtTo)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to load audit records for verification")
		}
		if len(records) == 0 {
			return result, nil
		}

		for _, record := range records {
			result.Checked++
			if !record.HasSignature() {
				result.Unsigned++
				continue
			}
			if err := a.signer.Verify(record); err != nil {
				if errors.Is(err, auditDomain.ErrSignatureInvalid) {
					result.Invalid++
					continue
				}
				return nil, err
			}
		}

		if len(records) < verifyPageSize {
			return result, nil
		}
	}
}

// CleanOlderThan deletes records past the retention cutoff.
func (a *auditUseCase) CleanOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := a.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to clean audit records")
	}
	return deleted, nil
}

// NewAuditUseCase creates a new AuditUseCase with the provided dependencies.
func NewAuditUseCase(repo AuditRepository, signer auditService.Signer) AuditUseCase {
	return &auditUseCase{
		repo:   repo,
		signer: signer,
	}
}
