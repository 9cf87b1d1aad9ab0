package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// MySQLAuditRepository implements audit record persistence for MySQL.
// Uses BINARY(16) for UUID storage with transaction support via database.GetTx().
type MySQLAuditRepository struct {
	db *sql.DB
}

// CreateBatch inserts a batch of audit records in a single statement.
func (m *MySQLAuditRepository) CreateBatch(
	ctx context.Context,
	records []*auditDomain.Record,
) error {
	if len(records) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, m.db)

	var builder strings.Builder
	builder.WriteString(`INSERT INTO audit_records
		(id, stage, decision, reason_code, principal_id, session_id, tier,
		 request_id, method, path, client_ip, fingerprint, signature, created_at)
		VALUES `)

	args := make([]any, 0, len(records)*14)
	for i, record := range records {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")

		id, err := record.ID.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal audit record id")
		}
		principalID, err := marshalOptionalUUID(record.PrincipalID)
		if err != nil {
			return err
		}
		sessionID, err := marshalOptionalUUID(record.SessionID)
		if err != nil {
			return err
		}

		args = append(args,
			id,
			string(record.Stage),
			string(record.Decision),
			record.ReasonCode,
			principalID,
			sessionID,
			record.Tier,
			record.RequestID,
			record.Method,
			record.Path,
			record.ClientIP,
			record.Fingerprint,
			record.Signature,
			record.CreatedAt,
		)
	}

	if _, err := querier.ExecContext(ctx, builder.String(), args...); err != nil {
		return apperrors.Wrap(err, "failed to create audit records")
	}
	return nil
}

// List retrieves audit records ordered by created_at descending (newest first)
// with pagination and optional inclusive time-based filtering.
func (m *MySQLAuditRepository) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.Record, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, stage, decision, reason_code, principal_id, session_id, tier,
			         request_id, method, path, client_ip, fingerprint, signature, created_at
			  FROM audit_records`

	var conditions []string
	var args []any
	if createdAtFrom != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *createdAtFrom)
	}
	if createdAtTo != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *createdAtTo)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit records")
	}
	defer rows.Close()

	var records []*auditDomain.Record
	for rows.Next() {
		record, err := scanMySQLAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate audit records")
	}
	return records, nil
}

// DeleteOlderThan removes records created before the cutoff. Returns the
// number of deleted rows.
func (m *MySQLAuditRepository) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM audit_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete audit records")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows, nil
}

// NewMySQLAuditRepository creates a new MySQL audit repository.
func NewMySQLAuditRepository(db *sql.DB) *MySQLAuditRepository {
	return &MySQLAuditRepository{db: db}
}

// marshalOptionalUUID converts an optional UUID to BINARY(16) or nil.
func marshalOptionalUUID(id *uuid.UUID) ([]byte, error) {
	if id == nil {
		return nil, nil
	}
	b, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal uuid")
	}
	return b, nil
}

// scanMySQLAuditRecord scans a single audit record row with BINARY(16) ids.
func scanMySQLAuditRecord(rows *sql.Rows) (*auditDomain.Record, error) {
	var record auditDomain.Record
	var stage, decision string
	var idBytes, principalBytes, sessionBytes []byte

	err := rows.Scan(
		&idBytes,
		&stage,
		&decision,
		&record.ReasonCode,
		&principalBytes,
		&sessionBytes,
		&record.Tier,
		&record.RequestID,
		&record.Method,
		&record.Path,
		&record.ClientIP,
		&record.Fingerprint,
		&record.Signature,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan audit record")
	}

	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal audit record id")
	}
	record.ID = id

	record.Stage = auditDomain.Stage(stage)
	record.Decision = auditDomain.Decision(decision)

	if len(principalBytes) > 0 {
		principalID, err := uuid.FromBytes(principalBytes)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal principal id")
		}
		record.PrincipalID = &principalID
	}
	if len(sessionBytes) > 0 {
		sessionID, err := uuid.FromBytes(sessionBytes)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal session id")
		}
		record.SessionID = &sessionID
	}

	return &record, nil
}
