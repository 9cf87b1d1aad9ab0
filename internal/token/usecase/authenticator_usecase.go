package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/database"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
	principalUsecase "github.com/sallyport/gateway/internal/principal/usecase"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
	tokenService "github.com/sallyport/gateway/internal/token/service"
)

// authenticatorUseCase implements Authenticator by dispatching each credential
// kind to its format validator.
type authenticatorUseCase struct {
	config            *config.Config
	refreshTokenRepo  RefreshTokenRepository
	refreshService    tokenService.RefreshTokenService
	jwtValidator      tokenService.JWTValidator
	assertionVerifier tokenService.AssertionVerifier
	principalUseCase  principalUsecase.PrincipalUseCase
	policyEngine      *policy.Engine
	sessions          SessionLookup
	txManager         database.TxManager
}

// Authenticate validates an inbound credential and resolves its principal.
//
// This method:
// 1. Dispatches on the credential kind to the matching validator
// 2. For bearer tokens, resolves the live session and its principal
// 3. For OAuth2/OIDC/SAML credentials, just-in-time provisions the principal
//    from the mapped claims
//
// Security Notes:
//   - Every validation failure is typed for the audit trail but unwraps to
//     ErrUnauthorized, so responses never reveal which check failed
//   - No partial state is created on failure; provisioning only happens after
//     the credential fully validates
func (a *authenticatorUseCase) Authenticate(
	ctx context.Context,
	input *tokenDomain.AuthenticateInput,
) (*AuthResult, error) {
	switch input.Kind {
	case tokenDomain.KindBearer:
		return a.authenticateBearer(ctx, input.Bearer)
	case tokenDomain.KindOAuth2Access, tokenDomain.KindOIDCID:
		return a.authenticateJWT(ctx, input.Kind, input.RawToken)
	case tokenDomain.KindSAMLAssertion:
		return a.authenticateAssertion(ctx, input.Assertion)
	default:
		return nil, tokenDomain.ErrUnsupportedKind
	}
}

// authenticateBearer resolves an opaque bearer token through the session manager.
func (a *authenticatorUseCase) authenticateBearer(ctx context.Context, bearer string) (*AuthResult, error) {
	if bearer == "" {
		return nil, tokenDomain.NewInvalid(tokenDomain.KindBearer, tokenDomain.ReasonMalformed)
	}

	sessionID, principalID, err := a.sessions.Authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}

	principal, err := a.principalUseCase.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Principal: principal, SessionID: sessionID}, nil
}

// authenticateJWT validates an OAuth2 access or OIDC identity token and
// provisions its principal.
func (a *authenticatorUseCase) authenticateJWT(
	ctx context.Context,
	kind tokenDomain.Kind,
	raw string,
) (*AuthResult, error) {
	claims, err := a.jwtValidator.Validate(ctx, kind, raw)
	if err != nil {
		return nil, err
	}

	principal, err := a.provision(ctx, claims)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Principal: principal, Claims: claims}, nil
}

// authenticateAssertion validates a SAML assertion against the tier bundle of
// the presenting principal. Unknown subjects are checked against the default
// tier's bundle before provisioning.
func (a *authenticatorUseCase) authenticateAssertion(
	ctx context.Context,
	assertion *tokenDomain.SAMLAssertion,
) (*AuthResult, error) {
	if assertion == nil {
		return nil, tokenDomain.NewInvalid(tokenDomain.KindSAMLAssertion, tokenDomain.ReasonMalformed)
	}

	// The assertion rules (max validity, encryption) come from the subject's
	// tier. The subject is attacker-controlled until the signature verifies,
	// but the bundle only tightens validation, so resolving it first is safe.
	bundle := a.policyEngine.Resolve(a.defaultTier())
	if existing, err := a.principalUseCase.Lookup(ctx, assertion.Subject); err == nil {
		bundle = a.policyEngine.Resolve(existing.Tier)
	} else if !errors.Is(err, principalDomain.ErrPrincipalNotFound) {
		return nil, err
	}

	claims, err := a.assertionVerifier.Verify(ctx, assertion, bundle)
	if err != nil {
		return nil, err
	}

	principal, err := a.provision(ctx, claims)
	if err != nil {
		return nil, err
	}

	return &AuthResult{Principal: principal, Claims: claims}, nil
}

// provision maps validated claims to a principal via just-in-time provisioning.
func (a *authenticatorUseCase) provision(
	ctx context.Context,
	claims *tokenDomain.Claims,
) (*principalDomain.Principal, error) {
	var tier policy.Tier
	if claims.Tier != "" {
		parsed, err := policy.ParseTier(claims.Tier)
		if err == nil {
			tier = parsed
		}
	}

	return a.principalUseCase.Provision(ctx, &principalDomain.ProvisionInput{
		ExternalSubject: claims.Subject,
		EmailVerified:   claims.EmailVerified,
		Tier:            tier,
	})
}

// IssueRefresh starts a new refresh token family bound to a session.
//
// The family ID ties every future rotation of this token together, so a
// single reuse detection can revoke all descendants at once.
func (a *authenticatorUseCase) IssueRefresh(
	ctx context.Context,
	input *tokenDomain.IssueRefreshInput,
) (*tokenDomain.IssueRefreshOutput, error) {
	plainToken, tokenHash, err := a.refreshService.GenerateToken()
	if err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = a.config.RefreshTokenTTL
	}

	now := time.Now().UTC()
	token := &tokenDomain.RefreshToken{
		ID:          uuid.Must(uuid.NewV7()),
		TokenHash:   tokenHash,
		FamilyID:    uuid.Must(uuid.NewV7()),
		PrincipalID: input.PrincipalID,
		SessionID:   input.SessionID,
		Status:      tokenDomain.RefreshActive,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}

	if err := a.refreshTokenRepo.Create(ctx, token); err != nil {
		return nil, err
	}

	return &tokenDomain.IssueRefreshOutput{
		PlainToken: plainToken,
		ExpiresAt:  token.ExpiresAt,
	}, nil
}

// ExchangeRefresh rotates a refresh token.
//
// This method:
// 1. Looks up the stored token by hash
// 2. Treats a superseded or revoked token as reuse: the whole family and its
//    bound sessions are revoked before ErrRefreshReused is returned
// 3. Rejects expired tokens
// 4. Atomically supersedes the presented token and creates its replacement
//    in the same family within one transaction
//
// Security Notes:
//   - The supersede step is a compare-and-set on the active status. When two
//     exchanges race on the same token, exactly one wins; the loser gets the
//     reuse treatment, which also revokes the winner's fresh token. That is
//     deliberate: a race on a refresh token is indistinguishable from theft.
func (a *authenticatorUseCase) ExchangeRefresh(
	ctx context.Context,
	plainToken string,
) (*ExchangeRefreshOutput, error) {
	stored, err := a.refreshTokenRepo.GetByHash(ctx, a.refreshService.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, tokenDomain.ErrRefreshNotFound) {
			return nil, tokenDomain.NewInvalid(tokenDomain.KindOAuth2Refresh, tokenDomain.ReasonMalformed)
		}
		return nil, err
	}

	if stored.Status != tokenDomain.RefreshActive {
		if err := a.revokeFamilyAndSessions(ctx, stored.FamilyID, "refresh_token_reuse"); err != nil {
			return nil, err
		}
		return nil, tokenDomain.ErrRefreshReused
	}

	now := time.Now().UTC()
	if !now.Before(stored.ExpiresAt) {
		return nil, tokenDomain.NewInvalid(tokenDomain.KindOAuth2Refresh, tokenDomain.ReasonExpired)
	}

	plainNext, hashNext, err := a.refreshService.GenerateToken()
	if err != nil {
		return nil, err
	}

	next := &tokenDomain.RefreshToken{
		ID:          uuid.Must(uuid.NewV7()),
		TokenHash:   hashNext,
		FamilyID:    stored.FamilyID,
		PrincipalID: stored.PrincipalID,
		SessionID:   stored.SessionID,
		Status:      tokenDomain.RefreshActive,
		IssuedAt:    now,
		ExpiresAt:   now.Add(a.config.RefreshTokenTTL),
		CreatedAt:   now,
	}

	var superseded bool
	err = a.txManager.WithTx(ctx, func(ctx context.Context) error {
		var txErr error
		superseded, txErr = a.refreshTokenRepo.MarkSuperseded(ctx, stored.ID, next.ID)
		if txErr != nil {
			return txErr
		}
		if !superseded {
			return nil
		}
		return a.refreshTokenRepo.Create(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	if !superseded {
		// Lost the compare-and-set: a concurrent exchange already rotated
		// this token. Same treatment as reuse.
		if err := a.revokeFamilyAndSessions(ctx, stored.FamilyID, "refresh_token_reuse"); err != nil {
			return nil, err
		}
		return nil, tokenDomain.ErrRefreshReused
	}

	return &ExchangeRefreshOutput{
		PlainToken:  plainNext,
		ExpiresAt:   next.ExpiresAt,
		PrincipalID: stored.PrincipalID,
		SessionID:   stored.SessionID,
	}, nil
}

// RevokeRefresh revokes the presented token's family and bound sessions.
// Unknown tokens are a no-op so logout stays idempotent.
func (a *authenticatorUseCase) RevokeRefresh(ctx context.Context, plainToken string) error {
	stored, err := a.refreshTokenRepo.GetByHash(ctx, a.refreshService.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, tokenDomain.ErrRefreshNotFound) {
			return nil
		}
		return err
	}
	return a.revokeFamilyAndSessions(ctx, stored.FamilyID, "revoked")
}

// revokeFamilyAndSessions revokes every token in the family and terminates
// the sessions those tokens were bound to.
func (a *authenticatorUseCase) revokeFamilyAndSessions(ctx context.Context, familyID uuid.UUID, reason string) error {
	if err := a.refreshTokenRepo.RevokeFamily(ctx, familyID); err != nil {
		return err
	}

	sessionIDs, err := a.refreshTokenRepo.ListSessionIDsForFamily(ctx, familyID)
	if err != nil {
		return err
	}
	for _, sessionID := range sessionIDs {
		if err := a.sessions.Revoke(ctx, sessionID, reason); err != nil {
			return err
		}
	}
	return nil
}

// defaultTier parses the configured default tier, falling back to the lowest tier.
func (a *authenticatorUseCase) defaultTier() policy.Tier {
	tier, err := policy.ParseTier(a.config.DefaultTier)
	if err != nil {
		return policy.TierSapphire
	}
	return tier
}

// NewAuthenticatorUseCase creates a new Authenticator with the provided dependencies.
func NewAuthenticatorUseCase(
	config *config.Config,
	refreshTokenRepo RefreshTokenRepository,
	refreshService tokenService.RefreshTokenService,
	jwtValidator tokenService.JWTValidator,
	assertionVerifier tokenService.AssertionVerifier,
	principalUC principalUsecase.PrincipalUseCase,
	policyEngine *policy.Engine,
	sessions SessionLookup,
	txManager database.TxManager,
) Authenticator {
	return &authenticatorUseCase{
		config:            config,
		refreshTokenRepo:  refreshTokenRepo,
		refreshService:    refreshService,
		jwtValidator:      jwtValidator,
		assertionVerifier: assertionVerifier,
		principalUseCase:  principalUC,
		policyEngine:      policyEngine,
		sessions:          sessions,
		txManager:         txManager,
	}
}
