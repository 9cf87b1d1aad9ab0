package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/database"
	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
)

// MySQLPrincipalRepository implements principal persistence for MySQL.
// Uses BINARY(16) for UUID storage with transaction support via database.GetTx().
type MySQLPrincipalRepository struct {
	db *sql.DB
}

// Create inserts a new principal into the MySQL database.
func (m *MySQLPrincipalRepository) Create(
	ctx context.Context,
	principal *principalDomain.Principal,
) error {
	querier := database.GetTx(ctx, m.db)

	registeredIPs, redirectURIs, err := marshalLists(principal)
	if err != nil {
		return err
	}

	id, err := principal.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := `INSERT INTO principals
			  (id, external_subject, tier, verified_email, verified_payment, trust_score,
			   is_active, registered_ips, redirect_uris, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
		principal.ExternalSubject,
		string(principal.Tier),
		principal.VerifiedEmail,
		principal.VerifiedPaymentMethod,
		principal.TrustScore,
		principal.IsActive,
		registeredIPs,
		redirectURIs,
		principal.CreatedAt,
		principal.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create principal")
	}
	return nil
}

// Update modifies an existing principal in the MySQL database.
func (m *MySQLPrincipalRepository) Update(
	ctx context.Context,
	principal *principalDomain.Principal,
) error {
	querier := database.GetTx(ctx, m.db)

	registeredIPs, redirectURIs, err := marshalLists(principal)
	if err != nil {
		return err
	}

	id, err := principal.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := `UPDATE principals
			  SET tier = ?,
			      verified_email = ?,
			      verified_payment = ?,
			      trust_score = ?,
			      is_active = ?,
			      registered_ips = ?,
			      redirect_uris = ?,
			      updated_at = ?
			  WHERE id = ?`

	_, err = querier.ExecContext(
		ctx,
		query,
		string(principal.Tier),
		principal.VerifiedEmail,
		principal.VerifiedPaymentMethod,
		principal.TrustScore,
		principal.IsActive,
		registeredIPs,
		redirectURIs,
		principal.UpdatedAt,
		id,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update principal")
	}
	return nil
}

// Get retrieves a principal by ID from the MySQL database.
func (m *MySQLPrincipalRepository) Get(
	ctx context.Context,
	principalID uuid.UUID,
) (*principalDomain.Principal, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := principalID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal principal id")
	}

	query := `SELECT id, external_subject, tier, verified_email, verified_payment, trust_score,
			         is_active, registered_ips, redirect_uris, created_at, updated_at
			  FROM principals
			  WHERE id = ?`

	return scanMySQLPrincipal(querier.QueryRowContext(ctx, query, id))
}

// GetByExternalSubject retrieves a principal by federated subject identifier.
func (m *MySQLPrincipalRepository) GetByExternalSubject(
	ctx context.Context,
	subject string,
) (*principalDomain.Principal, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, external_subject, tier, verified_email, verified_payment, trust_score,
			         is_active, registered_ips, redirect_uris, created_at, updated_at
			  FROM principals
			  WHERE external_subject = ?`

	return scanMySQLPrincipal(querier.QueryRowContext(ctx, query, subject))
}

// NewMySQLPrincipalRepository creates a new MySQL principal repository.
func NewMySQLPrincipalRepository(db *sql.DB) *MySQLPrincipalRepository {
	return &MySQLPrincipalRepository{db: db}
}

// scanMySQLPrincipal scans a single principal row with a BINARY(16) id column.
func scanMySQLPrincipal(row *sql.Row) (*principalDomain.Principal, error) {
	var principal principalDomain.Principal
	var idBytes []byte
	var tier string
	var registeredIPs, redirectURIs []byte

	err := row.Scan(
		&idBytes,
		&principal.ExternalSubject,
		&tier,
		&principal.VerifiedEmail,
		&principal.VerifiedPaymentMethod,
		&principal.TrustScore,
		&principal.IsActive,
		&registeredIPs,
		&redirectURIs,
		&principal.CreatedAt,
		&principal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, principalDomain.ErrPrincipalNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get principal")
	}

	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal principal id")
	}
	principal.ID = id

	principal.Tier = policy.Tier(tier)
	if len(registeredIPs) > 0 {
		if err := json.Unmarshal(registeredIPs, &principal.RegisteredIPs); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal registered IPs")
		}
	}
	if len(redirectURIs) > 0 {
		if err := json.Unmarshal(redirectURIs, &principal.RedirectURIs); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal redirect URIs")
		}
	}

	return &principal, nil
}
