// Package repository implements data persistence for principals.
//
// Provides PostgreSQL and MySQL implementations with transaction support via
// database.GetTx(). PostgreSQL uses native UUID types, MySQL uses BINARY(16).
// Registered IPs and redirect URIs are stored as JSON arrays.
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

// PostgreSQLPrincipalRepository implements principal persistence for PostgreSQL.
type PostgreSQLPrincipalRepository struct {
	db *sql.DB
}

// Create inserts a new principal into the PostgreSQL database.
func (p *PostgreSQLPrincipalRepository) Create(
	ctx context.Context,
	principal *principalDomain.Principal,
) error {
	querier := database.GetTx(ctx, p.db)

	registeredIPs, redirectURIs, err := marshalLists(principal)
	if err != nil {
		return err
	}

	query := `INSERT INTO principals
			  (id, external_subject, tier, verified_email, verified_payment, trust_score,
			   is_active, registered_ips, redirect_uris, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = querier.ExecContext(
		ctx,
		query,
		principal.ID,
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

// Update modifies an existing principal in the PostgreSQL database.
func (p *PostgreSQLPrincipalRepository) Update(
	ctx context.Context,
	principal *principalDomain.Principal,
) error {
	querier := database.GetTx(ctx, p.db)

	registeredIPs, redirectURIs, err := marshalLists(principal)
	if err != nil {
		return err
	}

	query := `UPDATE principals
			  SET tier = $1,
			      verified_email = $2,
			      verified_payment = $3,
			      trust_score = $4,
			      is_active = $5,
			      registered_ips = $6,
			      redirect_uris = $7,
			      updated_at = $8
			  WHERE id = $9`

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
		principal.ID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update principal")
	}
	return nil
}

// Get retrieves a principal by ID from the PostgreSQL database.
func (p *PostgreSQLPrincipalRepository) Get(
	ctx context.Context,
	id uuid.UUID,
) (*principalDomain.Principal, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, external_subject, tier, verified_email, verified_payment, trust_score,
			         is_active, registered_ips, redirect_uris, created_at, updated_at
			  FROM principals
			  WHERE id = $1`

	return scanPrincipal(querier.QueryRowContext(ctx, query, id))
}

// GetByExternalSubject retrieves a principal by federated subject identifier.
func (p *PostgreSQLPrincipalRepository) GetByExternalSubject(
	ctx context.Context,
	subject string,
) (*principalDomain.Principal, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, external_subject, tier, verified_email, verified_payment, trust_score,
			         is_active, registered_ips, redirect_uris, created_at, updated_at
			  FROM principals
			  WHERE external_subject = $1`

	return scanPrincipal(querier.QueryRowContext(ctx, query, subject))
}

// NewPostgreSQLPrincipalRepository creates a new PostgreSQL principal repository.
func NewPostgreSQLPrincipalRepository(db *sql.DB) *PostgreSQLPrincipalRepository {
	return &PostgreSQLPrincipalRepository{db: db}
}

// marshalLists serializes the registered IP and redirect URI lists as JSON.
func marshalLists(principal *principalDomain.Principal) (registeredIPs, redirectURIs []byte, err error) {
	registeredIPs, err = json.Marshal(principal.RegisteredIPs)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to marshal registered IPs")
	}
	redirectURIs, err = json.Marshal(principal.RedirectURIs)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, "failed to marshal redirect URIs")
	}
	return registeredIPs, redirectURIs, nil
}

// scanPrincipal scans a single principal row.
func scanPrincipal(row *sql.Row) (*principalDomain.Principal, error) {
	var principal principalDomain.Principal
	var tier string
	var registeredIPs, redirectURIs []byte

	err := row.Scan(
		&principal.ID,
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
