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

// MySQLRefreshTokenRepository implements refresh token persistence for MySQL.
// Uses BINARY(16) for UUID storage with transaction support via database.GetTx().
type MySQLRefreshTokenRepository struct {
	db *sql.DB
}

// Create inserts a new refresh token.
func (m *MySQLRefreshTokenRepository) Create(
	ctx context.Context,
	token *tokenDomain.RefreshToken,
) error {
	querier := database.GetTx(ctx, m.db)

	ids, err := marshalUUIDs(token.ID, token.FamilyID, token.PrincipalID, token.SessionID)
	if err != nil {
		return err
	}

	var supersededBy []byte
	if token.SupersededBy != nil {
		supersededBy, err = token.SupersededBy.MarshalBinary()
		if err != nil {
			return apperrors.Wrap(err, "failed to marshal superseded_by id")
		}
	}

	query := `INSERT INTO refresh_tokens
			  (id, token_hash, family_id, principal_id, session_id, status, superseded_by,
			   issued_at, expires_at, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		ids[0],
		token.TokenHash,
		ids[1],
		ids[2],
		ids[3],
		string(token.Status),
		supersededBy,
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
func (m *MySQLRefreshTokenRepository) GetByHash(
	ctx context.Context,
	tokenHash string,
) (*tokenDomain.RefreshToken, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, token_hash, family_id, principal_id, session_id, status, superseded_by,
			         issued_at, expires_at, created_at
			  FROM refresh_tokens
			  WHERE token_hash = ?`

	return scanMySQLRefreshToken(querier.QueryRowContext(ctx, query, tokenHash))
}

// MarkSuperseded transitions an active token to superseded, recording its
// successor. Returns false without error when the token was not active.
func (m *MySQLRefreshTokenRepository) MarkSuperseded(
	ctx context.Context,
	id uuid.UUID,
	supersededBy uuid.UUID,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	ids, err := marshalUUIDs(id, supersededBy)
	if err != nil {
		return false, err
	}

	query := `UPDATE refresh_tokens
			  SET status = ?, superseded_by = ?
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		string(tokenDomain.RefreshSuperseded),
		ids[1],
		ids[0],
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

// RevokeFamily revokes every non-revoked token in the family.
func (m *MySQLRefreshTokenRepository) RevokeFamily(
	ctx context.Context,
	familyID uuid.UUID,
) error {
	querier := database.GetTx(ctx, m.db)

	id, err := familyID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal family id")
	}

	query := `UPDATE refresh_tokens
			  SET status = ?
			  WHERE family_id = ? AND status != ?`

	_, err = querier.ExecContext(
		ctx,
		query,
		string(tokenDomain.RefreshRevoked),
		id,
		string(tokenDomain.RefreshRevoked),
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to revoke refresh token family")
	}
	return nil
}

// ListSessionIDsForFamily returns the distinct session IDs bound to tokens in
// the family.
func (m *MySQLRefreshTokenRepository) ListSessionIDsForFamily(
	ctx context.Context,
	familyID uuid.UUID,
) ([]uuid.UUID, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := familyID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal family id")
	}

	query := `SELECT DISTINCT session_id FROM refresh_tokens WHERE family_id = ?`

	rows, err := querier.QueryContext(ctx, query, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list family sessions")
	}
	defer rows.Close()

	var sessionIDs []uuid.UUID
	for rows.Next() {
		var idBytes []byte
		if err := rows.Scan(&idBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan session id")
		}
		sessionID, err := uuid.FromBytes(idBytes)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal session id")
		}
		sessionIDs = append(sessionIDs, sessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate family sessions")
	}
	return sessionIDs, nil
}

// DeleteExpired removes tokens whose expiry passed before the cutoff.
// Returns the number of deleted rows.
func (m *MySQLRefreshTokenRepository) DeleteExpired(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	query := `DELETE FROM refresh_tokens WHERE expires_at < ?`

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

// NewMySQLRefreshTokenRepository creates a new MySQL refresh token repository.
func NewMySQLRefreshTokenRepository(db *sql.DB) *MySQLRefreshTokenRepository {
	return &MySQLRefreshTokenRepository{db: db}
}

// marshalUUIDs converts UUIDs to BINARY(16) representations in order.
func marshalUUIDs(ids ...uuid.UUID) ([][]byte, error) {
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		b, err := id.MarshalBinary()
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to marshal uuid")
		}
		out = append(out, b)
	}
	return out, nil
}

// scanMySQLRefreshToken scans a single refresh token row with BINARY(16) ids.
func scanMySQLRefreshToken(row *sql.Row) (*tokenDomain.RefreshToken, error) {
	var token tokenDomain.RefreshToken
	var status string
	var idBytes, familyBytes, principalBytes, sessionBytes, supersededBytes []byte

	err := row.Scan(
		&idBytes,
		&token.TokenHash,
		&familyBytes,
		&principalBytes,
		&sessionBytes,
		&status,
		&supersededBytes,
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

	for _, pair := range []struct {
		src []byte
		dst *uuid.UUID
	}{
		{idBytes, &token.ID},
		{familyBytes, &token.FamilyID},
		{principalBytes, &token.PrincipalID},
		{sessionBytes, &token.SessionID},
	} {
		id, err := uuid.FromBytes(pair.src)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal uuid")
		}
		*pair.dst = id
	}

	if len(supersededBytes) > 0 {
		id, err := uuid.FromBytes(supersededBytes)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal superseded_by id")
		}
		token.SupersededBy = &id
	}

	return &token, nil
}
