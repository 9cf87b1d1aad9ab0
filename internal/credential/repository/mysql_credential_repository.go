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

// MySQLCredentialRepository implements credential persistence for MySQL.
// Uses BINARY(16) for UUID storage with transaction support via database.GetTx().
type MySQLCredentialRepository struct {
	db *sql.DB
}

// CreateVersion inserts a new credential version.
func (m *MySQLCredentialRepository) CreateVersion(
	ctx context.Context,
	credential *credentialDomain.Credential,
) error {
	querier := database.GetTx(ctx, m.db)

	id, err := credential.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal credential id")
	}
	principalID, err := credential.PrincipalID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := `INSERT INTO credentials
			  (id, principal_id, kind, version, secret_hash, encrypted_secret, status, retires_at,
			   failed_attempts, locked_until, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
		principalID,
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
func (m *MySQLCredentialRepository) GetActive(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) (*credentialDomain.Credential, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := principalID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := mysqlCredentialSelect + ` WHERE principal_id = ? AND kind = ? AND status = ?`

	row := querier.QueryRowContext(ctx, query, id, string(kind), string(credentialDomain.StatusActive))
	return scanMySQLCredentialRow(row)
}

// ListAccepted retrieves the principal's active and deprecated versions of a kind.
func (m *MySQLCredentialRepository) ListAccepted(
	ctx context.Context,
	principalID uuid.UUID,
	kind credentialDomain.Kind,
) ([]*credentialDomain.Credential, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := principalID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := mysqlCredentialSelect + `
			  WHERE principal_id = ? AND kind = ? AND status IN (?, ?)
			  ORDER BY version DESC`

	rows, err := querier.QueryContext(
		ctx,
		query,
		id,
		string(kind),
		string(credentialDomain.StatusActive),
		string(credentialDomain.StatusDeprecated),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list credentials")
	}
	defer rows.Close()

	var credentials []*credentialDomain.Credential
	for rows.Next() {
		credential, err := scanMySQLCredentialFields(rows, nil)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate credentials")
	}
	return credentials, nil
}

// MarkDeprecated transitions an active version to deprecated with a retire
// deadline. Returns false without error when the version was not active.
func (m *MySQLCredentialRepository) MarkDeprecated(
	ctx context.Context,
	id uuid.UUID,
	retiresAt time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal credential id")
	}

	query := `UPDATE credentials
			  SET status = ?, retires_at = ?, updated_at = ?
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(credentialDomain.StatusDeprecated),
		retiresAt,
		time.Now().UTC(),
		idBytes,
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

// RetireExpired transitions deprecated versions past their grace window to retired.
func (m *MySQLCredentialRepository) RetireExpired(
	ctx context.Context,
	now time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE credentials
			  SET status = ?, updated_at = ?
			  WHERE status = ? AND retires_at <= ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(credentialDomain.StatusRetired),
		now,
		string(credentialDomain.StatusDeprecated),
		now,
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
func (m *MySQLCredentialRepository) ListActiveWithTier(
	ctx context.Context,
	offset, limit int,
) ([]*credentialDomain.ActiveCredential, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT c.id, c.principal_id, c.kind, c.version, c.secret_hash, c.encrypted_secret,
			         c.status, c.retires_at, c.failed_attempts, c.locked_until,
			         c.created_at, c.updated_at, p.tier
			  FROM credentials c
			  JOIN principals p ON p.id = c.principal_id
			  WHERE c.status = ? AND p.is_active
			  ORDER BY c.created_at
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, string(credentialDomain.StatusActive), limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list active credentials")
	}
	defer rows.Close()

	var actives []*credentialDomain.ActiveCredential
	for rows.Next() {
		var tier string
		credential, err := scanMySQLCredentialFields(rows, &tier)
		if err != nil {
			return nil, err
		}
		actives = append(actives, &credentialDomain.ActiveCredential{Credential: *credential, Tier: tier})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate active credentials")
	}
	return actives, nil
}

// UpdateLockout persists the failed-attempt counter and lockout deadline.
func (m *MySQLCredentialRepository) UpdateLockout(
	ctx context.Context,
	id uuid.UUID,
	failedAttempts int,
	lockedUntil *time.Time,
) error {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal credential id")
	}

	query := `UPDATE credentials
			  SET failed_attempts = ?, locked_until = ?, updated_at = ?
			  WHERE id = ?`

	_, err = querier.ExecContext(ctx, query, failedAttempts, lockedUntil, time.Now().UTC(), idBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to update credential lockout")
	}
	return nil
}

// NewMySQLCredentialRepository creates a new MySQL credential repository.
func NewMySQLCredentialRepository(db *sql.DB) *MySQLCredentialRepository {
	return &MySQLCredentialRepository{db: db}
}

const mysqlCredentialSelect = `SELECT id, principal_id, kind, version, secret_hash, encrypted_secret,
		status, retires_at, failed_attempts, locked_until, created_at, updated_at
	FROM credentials`

// scanMySQLCredentialRow scans a single credential row with BINARY(16) ids.
func scanMySQLCredentialRow(row *sql.Row) (*credentialDomain.Credential, error) {
	var credential credentialDomain.Credential
	var kind, status string
	var idBytes, principalBytes []byte
	var retiresAt, lockedUntil sql.NullTime

	err := row.Scan(
		&idBytes,
		&principalBytes,
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

	if err := applyMySQLCredentialIDs(&credential, idBytes, principalBytes); err != nil {
		return nil, err
	}
	applyCredentialNullables(&credential, kind, status, retiresAt, lockedUntil)
	return &credential, nil
}

// scanMySQLCredentialFields scans credential columns, optionally with a
// trailing tier column.
func scanMySQLCredentialFields(rows *sql.Rows, tier *string) (*credentialDomain.Credential, error) {
	var credential credentialDomain.Credential
	var kind, status string
	var idBytes, principalBytes []byte
	var retiresAt, lockedUntil sql.NullTime

	dests := []any{
		&idBytes,
		&principalBytes,
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
	if tier != nil {
		dests = append(dests, tier)
	}

	if err := rows.Scan(dests...); err != nil {
		return nil, apperrors.Wrap(err, "failed to scan credential")
	}

	if err := applyMySQLCredentialIDs(&credential, idBytes, principalBytes); err != nil {
		return nil, err
	}
	applyCredentialNullables(&credential, kind, status, retiresAt, lockedUntil)
	return &credential, nil
}

// applyMySQLCredentialIDs decodes BINARY(16) id columns.
func applyMySQLCredentialIDs(credential *credentialDomain.Credential, idBytes, principalBytes []byte) error {
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to unmarshal credential id")
	}
	credential.ID = id

	principalID, err := uuid.FromBytes(principalBytes)
	if err != nil {
		return apperrors.Wrap(err, "failed to unmarshal principal id")
	}
	credential.PrincipalID = principalID
	return nil
}
