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

// MySQLVerificationRepository implements verification persistence for MySQL.
// Uses BINARY(16) for UUID storage with transaction support via database.GetTx().
type MySQLVerificationRepository struct {
	db *sql.DB
}

// Create inserts a new verification request.
func (m *MySQLVerificationRepository) Create(
	ctx context.Context,
	request *verificationDomain.Request,
) error {
	querier := database.GetTx(ctx, m.db)

	id, err := request.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal verification id")
	}
	principalID, err := request.PrincipalID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal principal id")
	}
	approverID, err := marshalOptionalApprover(request.ApproverID)
	if err != nil {
		return err
	}

	query := `INSERT INTO verification_requests
			  (id, principal_id, purpose, access_level, device_info, location_info, status,
			   approver_id, requested_at, expires_at, completed_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
		principalID,
		request.Purpose,
		request.AccessLevel,
		request.DeviceInfo,
		request.LocationInfo,
		string(request.Status),
		approverID,
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
func (m *MySQLVerificationRepository) GetByID(
	ctx context.Context,
	id uuid.UUID,
) (*verificationDomain.Request, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal verification id")
	}

	query := mysqlVerificationSelect + ` WHERE id = ?`

	row := querier.QueryRowContext(ctx, query, idBytes)
	return scanMySQLVerificationRow(row)
}

// ListByPrincipal retrieves a principal's verification requests, newest first.
func (m *MySQLVerificationRepository) ListByPrincipal(
	ctx context.Context,
	principalID uuid.UUID,
	offset, limit int,
) ([]*verificationDomain.Request, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := principalID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := mysqlVerificationSelect + `
			  WHERE principal_id = ?
			  ORDER BY requested_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list verification requests")
	}
	defer rows.Close()

	var requests []*verificationDomain.Request
	for rows.Next() {
		request, err := scanMySQLVerificationFields(rows)
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
func (m *MySQLVerificationRepository) Decide(
	ctx context.Context,
	id uuid.UUID,
	status verificationDomain.Status,
	approverID uuid.UUID,
	completedAt time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal verification id")
	}
	approverBytes, err := approverID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal approver id")
	}

	query := `UPDATE verification_requests
			  SET status = ?, approver_id = ?, completed_at = ?, updated_at = ?
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(status),
		approverBytes,
		completedAt,
		completedAt,
		idBytes,
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
func (m *MySQLVerificationRepository) ExpirePending(
	ctx context.Context,
	now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE verification_requests
			  SET status = ?, updated_at = ?
			  WHERE status = ? AND expires_at <= ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(verificationDomain.StatusExpired),
		now,
		string(verificationDomain.StatusPending),
		now,
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
func (m *MySQLVerificationRepository) HasApproved(
	ctx context.Context,
	principalID uuid.UUID,
	accessLevel string,
	now time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := principalID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := `SELECT EXISTS (
			  SELECT 1 FROM verification_requests
			  WHERE principal_id = ? AND access_level = ? AND status = ? AND expires_at > ?)`

	var approved bool
	err = querier.QueryRowContext(
		ctx,
		query,
		id,
		accessLevel,
		string(verificationDomain.StatusApproved),
		now,
	).Scan(&approved)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to check approval")
	}
	return approved, nil
}

// NewMySQLVerificationRepository creates a new MySQL verification repository.
func NewMySQLVerificationRepository(db *sql.DB) *MySQLVerificationRepository {
	return &MySQLVerificationRepository{db: db}
}

const mysqlVerificationSelect = `SELECT id, principal_id, purpose, access_level, device_info,
		location_info, status, approver_id, requested_at, expires_at, completed_at,
		created_at, updated_at
	FROM verification_requests`

// scanMySQLVerificationRow scans a single verification row with BINARY(16) ids.
func scanMySQLVerificationRow(row *sql.Row) (*verificationDomain.Request, error) {
	var request verificationDomain.Request
	var status string
	var idBytes, principalBytes, approverBytes []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&idBytes,
		&principalBytes,
		&request.Purpose,
		&request.AccessLevel,
		&request.DeviceInfo,
		&request.LocationInfo,
		&status,
		&approverBytes,
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

	if err := applyMySQLVerificationIDs(&request, idBytes, principalBytes, approverBytes); err != nil {
		return nil, err
	}
	request.Status = verificationDomain.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		request.CompletedAt = &t
	}
	return &request, nil
}

// scanMySQLVerificationFields scans one row from a multi-row verification query.
func scanMySQLVerificationFields(rows *sql.Rows) (*verificationDomain.Request, error) {
	var request verificationDomain.Request
	var status string
	var idBytes, principalBytes, approverBytes []byte
	var completedAt sql.NullTime

	err := rows.Scan(
		&idBytes,
		&principalBytes,
		&request.Purpose,
		&request.AccessLevel,
		&request.DeviceInfo,
		&request.LocationInfo,
		&status,
		&approverBytes,
		&request.RequestedAt,
		&request.ExpiresAt,
		&completedAt,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan verification request")
	}

	if err := applyMySQLVerificationIDs(&request, idBytes, principalBytes, approverBytes); err != nil {
		return nil, err
	}
	request.Status = verificationDomain.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		request.CompletedAt = &t
	}
	return &request, nil
}

// applyMySQLVerificationIDs decodes BINARY(16) id columns.
func applyMySQLVerificationIDs(
	request *verificationDomain.Request,
	idBytes, principalBytes, approverBytes []byte,
) error {
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to unmarshal verification id")
	}
	request.ID = id

	principalID, err := uuid.FromBytes(principalBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to unmarshal principal id")
	}
	request.PrincipalID = principalID

	if len(approverBytes) > 0 {
		approverID, err := uuid.FromBytes(approverBytes)
		if err != nil {
			return apperrors.Wrap(err, "failed to unmarshal approver id")
		}
		request.ApproverID = &approverID
	}
	return nil
}

// marshalOptionalApprover converts an optional UUID to its BINARY(16) form.
func marshalOptionalApprover(id *uuid.UUID) ([]byte, error) {
	if id == nil {
		return nil, nil
	}
	bytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal approver id")
	}
	return bytes, nil
}
