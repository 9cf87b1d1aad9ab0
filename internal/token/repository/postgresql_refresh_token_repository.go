// Package repository implements refresh token persistence.
//
// Provides PostgreSQL and MySQL implementations with transaction support via
// database.GetTx(). Only token hashes are stored; the rotation step uses a
// compare-and-set on the active status so concurrent exchanges of the same
// token cannot both succeed.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
)

// PostgreSQLRefreshTokenRepository implements refresh token persistence for PostgreSQL.
type PostgreSQLRefreshTokenRepository struct {
	db *sql.DB
}

// Create inserts a new refresh token.
func (p *PostgreSQLRefreshTokenRepository) Create(
	ctx context.Context,
	token *tokenDomain.RefreshToken,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO refresh_tokens
			  (id, token_hash, family_id, principal_id, session_id, status, superseded_by,
			   issued_at, expires_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := querier.ExecContext(
		ctx,
		query,
		token.ID,
		token.TokenHash,
		token.FamilyID,
		token.PrincipalID,
		token.SessionID,
		string(token.Status),
		token.SupersededBy,
		token.IssuedAt,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create refresh token")
	}
	return nil
}

// GetByHash retrieves a refresh token by its SHA-256 hash, regardless of
// status. Superseded and revoked rows are kept so reuse can be detected.
func (p *PostgreSQLRefreshTokenRepository) GetByHash(
	ctx context.Context,
	tokenHash string,
) (*tokenDomain.RefreshToken, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, token_hash, family_id, principal_id, session_id, status, superseded_by,
			         issued_at, expires_at, created_at
			  FROM refresh_tokens
			  WHERE token_hash = $1`

	return scanRefreshToken(querier.QueryRowContext(ctx, query, tokenHash))
}

// MarkSuperseded transitions an active token to superseded, recording its
// successor. Returns false without error when the token was not active, which
// means a concurrent exchange won the race.
func (p *PostgreSQLRefreshTokenRepository) MarkSuperseded(
	ctx context.Context,
	id uuid.UUID,
	supersededBy uuid.UUID,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE refresh_tokens
			  SET status = $1, superseded_by = $2
			  WHERE id = $3 AND status = $4`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(tokenDomain.RefreshSuperseded),
		supersededBy,
		id,
		string(tokenDomain.RefreshActive),
	)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to supersede refresh token")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows == 1, nil
}

// RevokeFamily revokes every non-revoked token in the family. Used when reuse
// of a superseded token is detected and on logout.
func (p *PostgreSQLRefreshTokenRepository) RevokeFamily(
	ctx context.Context,
	familyID uuid.UUID,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE refresh_tokens
			  SET status = $1
			  WHERE family_id = $2 AND status != $1`

	_, err := querier.ExecContext(ctx, query, string(tokenDomain.RefreshRevoked), familyID)
	if err != nil {
		return apperrors.Wrap(err, "failed to revoke refresh token family")
	}
	return nil
}

// ListSessionIDsForFamily returns the distinct session IDs bound to tokens in
// the family. The caller revokes those sessions after a reuse detection.
func (p *PostgreSQLRefreshTokenRepository) ListSessionIDsForFamily(
	ctx context.Context,
	familyID uuid.UUID,
) ([]uuid.UUID, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT DISTINCT session_id FROM refresh_tokens WHERE family_id = $1`

	rows, err := querier.QueryContext(ctx, query, familyID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list family sessions")
	}
	defer rows.Close()

	var sessionIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan session id")
		}
		sessionIDs = append(sessionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate family sessions")
	}
	return sessionIDs, nil
}

// DeleteExpired removes tokens whose expiry passed before the cutoff.
// Returns the number of deleted rows.
func (p *PostgreSQLRefreshTokenRepository) DeleteExpired(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := querier.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete expired refresh tokens")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to get affected rows")
	}
	return rows, nil
}

// NewPostgreSQLRefreshTokenRepository creates a new PostgreSQL refresh token repository.
func NewPostgreSQLRefreshTokenRepository(db *sql.DB) *PostgreSQLRefreshTokenRepository {
	return &PostgreSQLRefreshTokenRepository{db: db}
}

// scanRefreshToken scans a single refresh token row.
func scanRefreshToken(row *sql.Row) (*tokenDomain.RefreshToken, error) {
	var token tokenDomain.RefreshToken
	var status string
	var supersededBy uuid.NullUUID

	err := row.Scan(
		&token.ID,
		&token.TokenHash,
		&token.FamilyID,
		&token.PrincipalID,
		&token.SessionID,
		&status,
		&supersededBy,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tokenDomain.ErrRefreshNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get refresh token")
	}

	token.Status = tokenDomain.RefreshStatus(status)
	if supersededBy.Valid {
		token.SupersededBy = &supersededBy.UUID
	}
	return &token, nil
}
