// Package repository implements verification request persistence.
//
// Decisions are a compare-and-set on the pending status, so when an approver
// and the expiry sweep race on the same request exactly one transition wins.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
)

// PostgreSQLVerificationRepository implements verification persistence for PostgreSQL.
type PostgreSQLVerificationRepository struct {
	db *sql.DB
}

// Create inserts a new verification request.
func (p *PostgreSQLVerificationRepository) Create(
	ctx context.Context,
	request *verificationDomain.Request,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO verification_requests
			  (id, principal_id, purpose, access_level, device_info, location_info, status,
			   approver_id, requested_at, expires_at, completed_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := querier.ExecContext(
		ctx,
		query,
		request.ID,
		request.PrincipalID,
		request.Purpose,
		request.AccessLevel,
		request.DeviceInfo,
		request.LocationInfo,
		string(request.Status),
		uuidPtrToNull(request.ApproverID),
		request.RequestedAt,
		request.ExpiresAt,
		request.CompletedAt,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create verification request")
	}
	return nil
}

// GetByID retrieves a verification request by its ID.
func (p *PostgreSQLVerificationRepository) GetByID(
	ctx context.Context,
	id uuid.UUID,
) (*verificationDomain.Request, error) {
	querier := database.GetTx(ctx, p.db)

	query := verificationSelect + ` WHERE id = $1`

	row := querier.QueryRowContext(ctx, query, id)
	return scanVerificationRow(row)
}

// ListByPrincipal retrieves a principal's verification requests, newest first.
func (p *PostgreSQLVerificationRepository) ListByPrincipal(
	ctx context.Context,
	principalID uuid.UUID,
	offset, limit int,
) ([]*verificationDomain.Request, error) {
	querier := database.GetTx(ctx, p.db)

	query := verificationSelect + `
			  WHERE principal_id = $1
			  ORDER BY requested_at DESC
			  LIMIT $2 OFFSET $3`

	rows, err := querier.QueryContext(ctx, query, principalID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list verification requests")
	}
	defer rows.Close()

	var requests []*verificationDomain.Request
	for rows.Next() {
		request, err := scanVerificationFields(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate verification requests")
	}
	return requests, nil
}

// Decide transitions a pending request to the given terminal status. Returns
// false without error when the request was no longer pending.
func (p *PostgreSQLVerificationRepository) Decide(
	ctx context.Context,
	id uuid.UUID,
	status verificationDomain.Status,
	approverID uuid.UUID,
	completedAt time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE verification_requests
			  SET status = $1, approver_id = $2, completed_at = $3, updated_at = $3
			  WHERE id = $4 AND status = $5`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(status),
		approverID,
		completedAt,
		id,
		string(verificationDomain.StatusPending),
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to decide verification request")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows == 1, nil
}

// ExpirePending transitions pending requests past their deadline to expired.
func (p *PostgreSQLVerificationRepository) ExpirePending(
	ctx context.Context,
	now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE verification_requests
			  SET status = $1, updated_at = $2
			  WHERE status = $3 AND expires_at <= $2`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(verificationDomain.StatusExpired),
		now,
		string(verificationDomain.StatusPending),
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to expire verification requests")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows, nil
}

// HasApproved reports whether the principal holds an unexpired approval for
// the access level.
func (p *PostgreSQLVerificationRepository) HasApproved(
	ctx context.Context,
	principalID uuid.UUID,
	accessLevel string,
	now time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT EXISTS (
			  SELECT 1 FROM verification_requests
			  WHERE principal_id = $1 AND access_level = $2 AND status = $3 AND expires_at > $4)`

	var approved bool
	err := querier.QueryRowContext(
		ctx,
		query,
		principalID,
		accessLevel,
		string(verificationDomain.StatusApproved),
		now,
	).Scan(&approved)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to check approval")
	}
	return approved, nil
}

// NewPostgreSQLVerificationRepository creates a new PostgreSQL verification repository.
func NewPostgreSQLVerificationRepository(db *sql.DB) *PostgreSQLVerificationRepository {
	return &PostgreSQLVerificationRepository{db: db}
}

const verificationSelect = `SELECT id, principal_id, purpose, access_level, device_info,
		location_info, status, approver_id, requested_at, expires_at, completed_at,
		created_at, updated_at
	FROM verification_requests`

// scanVerificationRow scans a single verification request row.
func scanVerificationRow(row *sql.Row) (*verificationDomain.Request, error) {
	var request verificationDomain.Request
	var status string
	var approverID uuid.NullUUID
	var completedAt sql.NullTime

	err := row.Scan(
		&request.ID,
		&request.PrincipalID,
		&request.Purpose,
		&request.AccessLevel,
		&request.DeviceInfo,
		&request.LocationInfo,
		&status,
		&approverID,
		&request.RequestedAt,
		&request.ExpiresAt,
		&completedAt,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verificationDomain.ErrVerificationNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get verification request")
	}

	applyVerificationNullables(&request, status, approverID, completedAt)
	return &request, nil
}

// scanVerificationFields scans one row from a multi-row verification query.
func scanVerificationFields(rows *sql.Rows) (*verificationDomain.Request, error) {
	var request verificationDomain.Request
	var status string
	var approverID uuid.NullUUID
	var completedAt sql.NullTime

	err := rows.Scan(
		&request.ID,
		&request.PrincipalID,
		&request.Purpose,
		&request.AccessLevel,
		&request.DeviceInfo,
		&request.LocationInfo,
		&status,
		&approverID,
		&request.RequestedAt,
		&request.ExpiresAt,
		&completedAt,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan verification request")
	}

	applyVerificationNullables(&request, status, approverID, completedAt)
	return &request, nil
}

// applyVerificationNullables maps nullable columns onto the domain entity.
func applyVerificationNullables(
	request *verificationDomain.Request,
	status string,
	approverID uuid.NullUUID,
	completedAt sql.NullTime,
) {
	request.Status = verificationDomain.Status(status)
	if approverID.Valid {
		id := approverID.UUID
		request.ApproverID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		request.CompletedAt = &t
	}
}

// uuidPtrToNull converts an optional UUID to its nullable SQL form.
func uuidPtrToNull(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
