// Package repository implements credential persistence.
//
// Provides PostgreSQL and MySQL implementations with transaction support via
// database.GetTx(). The deprecate step of a rotation is a compare-and-set on
// the active status, which is what makes concurrent rotations safe: only one
// writer can deprecate a given active version.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	credentialDomain "github.com/sallyport/gateway/internal/credential/domain"
	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// PostgreSQLCredentialRepository implements credential persistence for PostgreSQL.
type PostgreSQLCredentialRepository struct {
	db *sql.DB
}

// CreateVersion inserts a new credential version.
func (p *PostgreSQLCredentialRepository) CreateVersion(
	ctx context.Context,
	credential *credentialDomain.Credential,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO credentials
			  (id, principal_id, kind, version, secret_hash, encrypted_secret, status, retires_at,
			   failed_attempts, locked_until, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := querier.ExecContext(
		ctx,
		query,
		credential.ID,
		credential.PrincipalID,
		string(credential.Kind),
		credential.Version,
		credential.SecretHash,
		credential.EncryptedSecret,
		string(credential.Status),
		credential.RetiresAt,
		credential.FailedAttempts,
		credential.LockedUntil,
		credential.CreatedAt,
		credential.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create credential version")
	}
	return nil
}

// GetActive retrieves the principal's active credential version of a kind.
func (p *PostgreSQLCredentialRepository) GetActive(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.Credential, error) {
	querier := database.GetTx(ctx, p.db)

	query := credentialSelect + ` WHERE principal_id = $1 AND kind = $2 AND status = $3`

	row := querier.QueryRowContext(ctx, query, principalID, string(kind), string(credentialDomain.StatusActive))
	return scanCredentialRow(row)
}

// ListAccepted retrieves the principal's active and deprecated versions of a
// kind. The caller applies the grace window check.
func (p *PostgreSQLCredentialRepository) ListAccepted(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) ([]*credentialDomain.Credential, error) {
	querier := database.GetTx(ctx, p.db)

	query := credentialSelect + `
			  WHERE principal_id = $1 AND kind = $2 AND status IN ($3, $4)
			  ORDER BY version DESC`

	rows, err := querier.QueryContext(
		ctx,
		query,
		principalID,
		string(kind),
		string(credentialDomain.StatusActive),
		string(credentialDomain.StatusDeprecated),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list credentials")
	}
	defer rows.Close()

	return collectCredentials(rows)
}

// MarkDeprecated transitions an active version to deprecated with a retire
// deadline. Returns false without error when the version was not active,
// meaning a concurrent rotation already deprecated it.
func (p *PostgreSQLCredentialRepository) MarkDeprecated(
	ctx context.Context,
	id uuid.UUID,
	retiresAt time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE credentials
			  SET status = $1, retires_at = $2, updated_at = $3
			  WHERE id = $4 AND status = $5`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(credentialDomain.StatusDeprecated),
		retiresAt,
		time.Now().UTC(),
		id,
		string(credentialDomain.StatusActive),
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to deprecate credential")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows == 1, nil
}

// RetireExpired transitions deprecated versions past their grace window to
// retired. Returns the number of retired versions.
func (p *PostgreSQLCredentialRepository) RetireExpired(
	ctx context.Context,
	now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE credentials
			  SET status = $1, updated_at = $2
			  WHERE status = $3 AND retires_at <= $2`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(credentialDomain.StatusRetired),
		now,
		string(credentialDomain.StatusDeprecated),
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to retire credentials")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows, nil
}

// ListActiveWithTier retrieves active credentials joined with the owning
// principal's tier. Used by the rotation sweep.
func (p *PostgreSQLCredentialRepository) ListActiveWithTier(
	ctx context.Context,
	offset, limit int,
) ([]*credentialDomain.ActiveCredential, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT c.id, c.principal_id, c.kind, c.version, c.secret_hash, c.encrypted_secret,
			         c.status, c.retires_at, c.failed_attempts, c.locked_until,
			         c.created_at, c.updated_at, p.tier
			  FROM credentials c
			  JOIN principals p ON p.id = c.principal_id
			  WHERE c.status = $1 AND p.is_active
			  ORDER BY c.created_at
			  LIMIT $2 OFFSET $3`

	rows, err := querier.QueryContext(ctx, query, string(credentialDomain.StatusActive), limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list active credentials")
	}
	defer rows.Close()

	var actives []*credentialDomain.ActiveCredential
	for rows.Next() {
		var active credentialDomain.ActiveCredential
		if err := scanCredentialFields(rows, &active.Credential, &active.Tier); err != nil {
			return nil, err
		}
		actives = append(actives, &active)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate active credentials")
	}
	return actives, nil
}

// UpdateLockout persists the failed-attempt counter and lockout deadline.
func (p *PostgreSQLCredentialRepository) UpdateLockout(
	ctx context.Context,
	id uuid.UUID,
	failedAttempts int,
	lockedUntil *time.Time,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE credentials
			  SET failed_attempts = $1, locked_until = $2, updated_at = $3
			  WHERE id = $4`

	_, err := querier.ExecContext(ctx, query, failedAttempts, lockedUntil, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Wrap(err, "failed to update credential lockout")
	}
	return nil
}

// NewPostgreSQLCredentialRepository creates a new PostgreSQL credential repository.
func NewPostgreSQLCredentialRepository(db *sql.DB) *PostgreSQLCredentialRepository {
	return &PostgreSQLCredentialRepository{db: db}
}

const credentialSelect = `SELECT id, principal_id, kind, version, secret_hash, encrypted_secret,
		status, retires_at, failed_attempts, locked_until, created_at, updated_at
	FROM credentials`

// scanCredentialRow scans a single credential row.
func scanCredentialRow(row *sql.Row) (*credentialDomain.Credential, error) {
	var credential credentialDomain.Credential
	var kind, status string
	var retiresAt, lockedUntil sql.NullTime

	err := row.Scan(
		&credential.ID,
		&credential.PrincipalID,
		&kind,
		&credential.Version,
		&credential.SecretHash,
		&credential.EncryptedSecret,
		&status,
		&retiresAt,
		&credential.FailedAttempts,
		&lockedUntil,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credentialDomain.ErrCredentialNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get credential")
	}

	applyCredentialNullables(&credential, kind, status, retiresAt, lockedUntil)
	return &credential, nil
}

// collectCredentials scans all rows from a credential query.
func collectCredentials(rows *sql.Rows) ([]*credentialDomain.Credential, error) {
	var credentials []*credentialDomain.Credential
	for rows.Next() {
		var credential credentialDomain.Credential
		if err := scanCredentialFields(rows, &credential); err != nil {
			return nil, err
		}
		credentials = append(credentials, &credential)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate credentials")
	}
	return credentials, nil
}

// scanCredentialFields scans credential columns plus any extra destinations.
func scanCredentialFields(rows *sql.Rows, credential *credentialDomain.Credential, extra ...any) error {
	var kind, status string
	var retiresAt, lockedUntil sql.NullTime

	dests := []any{
		&credential.ID,
		&credential.PrincipalID,
		&kind,
		&credential.Version,
		&credential.SecretHash,
		&credential.EncryptedSecret,
		&status,
		&retiresAt,
		&credential.FailedAttempts,
		&lockedUntil,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	}
	dests = append(dests, extra...)

	if err := rows.Scan(dests...); err != nil {
		return apperrors.Wrap(err, "failed to scan credential")
	}

	applyCredentialNullables(credential, kind, status, retiresAt, lockedUntil)
	return nil
}

// applyCredentialNullables maps kind, status, and nullable columns onto the
// domain entity.
func applyCredentialNullables(
	credential *credentialDomain.Credential,
	kind, status string,
	retiresAt, lockedUntil sql.NullTime,
) {
	credential.Kind = credentialDomain.Kind(kind)
	credential.Status = credentialDomain.Status(status)
	if retiresAt.Valid {
		t := retiresAt.Time
		credential.RetiresAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		credential.LockedUntil = &t
	}
}
