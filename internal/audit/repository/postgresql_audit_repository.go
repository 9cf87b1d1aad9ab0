// Package repository implements audit record persistence.
//
// Records are insert-only on the request path. The only delete operation is
// the retention cleanup, which is an operator action, never part of request
// handling.
package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// PostgreSQLAuditRepository implements audit record persistence for PostgreSQL.
type PostgreSQLAuditRepository struct {
	db *sql.DB
}

// CreateBatch inserts a batch of audit records in a single statement.
func (p *PostgreSQLAuditRepository) CreateBatch(
	ctx context.Context,
	records []*auditDomain.Record,
) error {
	if len(records) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, p.db)

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
		builder.WriteString(placeholderGroup(i*14, 14))
		args = append(args,
			record.ID,
			string(record.Stage),
			string(record.Decision),
			record.ReasonCode,
			record.PrincipalID,
			record.SessionID,
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
func (p *PostgreSQLAuditRepository) List(
	ctx context.Context,
	offset, limit int,
	createdAtFrom, createdAtTo *time.Time,
) ([]*auditDomain.Record, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, stage, decision, reason_code, principal_id, session_id, tier,
			         request_id, method, path, client_ip, fingerprint, signature, created_at
			  FROM audit_records`

	var conditions []string
	var args []any
	if createdAtFrom != nil {
		args = append(args, *createdAtFrom)
		conditions = append(conditions, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if createdAtTo != nil {
		args = append(args, *createdAtTo)
		conditions = append(conditions, "created_at <= $"+strconv.Itoa(len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit records")
	}
	defer rows.Close()

	var records []*auditDomain.Record
	for rows.Next() {
		record, err := scanAuditRecord(rows)
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
func (p *PostgreSQLAuditRepository) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete audit records")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows, nil
}

// NewPostgreSQLAuditRepository creates a new PostgreSQL audit repository.
func NewPostgreSQLAuditRepository(db *sql.DB) *PostgreSQLAuditRepository {
	return &PostgreSQLAuditRepository{db: db}
}

// placeholderGroup builds "($n, $n+1, ...)" for a batch insert row.
func placeholderGroup(start, count int) string {
	var builder strings.Builder
	builder.WriteString("(")
	for i := 0; i < count; i++ {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("$")
		builder.WriteString(strconv.Itoa(start + i + 1))
	}
	builder.WriteString(")")
	return builder.String()
}

// scanAuditRecord scans a single audit record row.
func scanAuditRecord(rows *sql.Rows) (*auditDomain.Record, error) {
	var record auditDomain.Record
	var stage, decision string
	var principalID, sessionID uuid.NullUUID

	err := rows.Scan(
		&record.ID,
		&stage,
		&decision,
		&record.ReasonCode,
		&principalID,
		&sessionID,
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

	record.Stage = auditDomain.Stage(stage)
	record.Decision = auditDomain.Decision(decision)
	if principalID.Valid {
		record.PrincipalID = &principalID.UUID
	}
	if sessionID.Valid {
		record.SessionID = &sessionID.UUID
	}
	return &record, nil
}
