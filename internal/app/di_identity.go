package app

import (
	"context"
	"fmt"
	"sync"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	"github.com/sallyport/gateway/internal/policy"
	principalRepository "github.com/sallyport/gateway/internal/principal/repository"
	principalUseCase "github.com/sallyport/gateway/internal/principal/usecase"
	sessionDomain "github.com/sallyport/gateway/internal/session/domain"
	sessionUseCase "github.com/sallyport/gateway/internal/session/usecase"
	tokenRepository "github.com/sallyport/gateway/internal/token/repository"
	tokenService "github.com/sallyport/gateway/internal/token/service"
	tokenUseCase "github.com/sallyport/gateway/internal/token/usecase"
)

// identityComponents holds the lazily initialized identity-side dependencies:
// the policy catalog, principals, sessions, and the authenticator.
type identityComponents struct {
	policyCatalog    *policy.Catalog
	policyEngine     *policy.Engine
	principalRepo    principalUseCase.PrincipalRepository
	principalUC      principalUseCase.PrincipalUseCase
	refreshTokenRepo tokenUseCase.RefreshTokenRepository
	refreshService   tokenService.RefreshTokenService
	sessionManager   sessionUseCase.SessionManager
	authenticator    tokenUseCase.Authenticator

	policyCatalogInit    sync.Once
	policyEngineInit     sync.Once
	principalRepoInit    sync.Once
	principalUCInit      sync.Once
	refreshTokenRepoInit sync.Once
	refreshServiceInit   sync.Once
	sessionManagerInit   sync.Once
	authenticatorInit    sync.Once
}

// PolicyCatalog returns the tier bundle catalog, applying any configured
// overrides on first access.
func (c *Container) PolicyCatalog() (*policy.Catalog, error) {
	c.identity.policyCatalogInit.Do(func() {
		catalog, err := policy.NewCatalog(c.config.PolicyBundlesJSON)
		if err != nil {
			c.initErrors["policyCatalog"] = fmt.Errorf("failed to create policy catalog: %w", err)
			return
		}
		c.identity.policyCatalog = catalog
	})
	if storedErr, exists := c.initErrors["policyCatalog"]; exists {
		return nil, storedErr
	}
	return c.identity.policyCatalog, nil
}

// PolicyEngine returns the policy evaluation engine.
func (c *Container) PolicyEngine() (*policy.Engine, error) {
	c.identity.policyEngineInit.Do(func() {
		catalog, err := c.PolicyCatalog()
		if err != nil {
			c.initErrors["policyEngine"] = err
			return
		}
		c.identity.policyEngine = policy.NewEngine(catalog)
	})
	if storedErr, exists := c.initErrors["policyEngine"]; exists {
		return nil, storedErr
	}
	return c.identity.policyEngine, nil
}

// PrincipalRepository returns the principal repository for the configured
// database driver.
func (c *Container) PrincipalRepository() (principalUseCase.PrincipalRepository, error) {
	c.identity.principalRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["principalRepo"] = fmt.Errorf("failed to get database for principal repository: %w", err)
			return
		}
		switch c.config.DBDriver {
		case "postgres":
			c.identity.principalRepo = principalRepository.NewPostgreSQLPrincipalRepository(db)
		case "mysql":
			c.identity.principalRepo = principalRepository.NewMySQLPrincipalRepository(db)
		default:
			c.initErrors["principalRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if storedErr, exists := c.initErrors["principalRepo"]; exists {
		return nil, storedErr
	}
	return c.identity.principalRepo, nil
}

// PrincipalUseCase returns the principal use case.
func (c *Container) PrincipalUseCase() (principalUseCase.PrincipalUseCase, error) {
	c.identity.principalUCInit.Do(func() {
		repo, err := c.PrincipalRepository()
		if err != nil {
			c.initErrors["principalUseCase"] = err
			return
		}
		c.identity.principalUC = principalUseCase.NewPrincipalUseCase(c.config, repo)
	})
	if storedErr, exists := c.initErrors["principalUseCase"]; exists {
		return nil, storedErr
	}
	return c.identity.principalUC, nil
}

// RefreshTokenRepository returns the refresh token repository for the
// configured database driver.
func (c *Container) RefreshTokenRepository() (tokenUseCase.RefreshTokenRepository, error) {
	c.identity.refreshTokenRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["refreshTokenRepo"] = fmt.Errorf("failed to get database for refresh token repository: %w", err)
			return
		}
		switch c.config.DBDriver {
		case "postgres":
			c.identity.refreshTokenRepo = tokenRepository.NewPostgreSQLRefreshTokenRepository(db)
		case "mysql":
			c.identity.refreshTokenRepo = tokenRepository.NewMySQLRefreshTokenRepository(db)
		default:
			c.initErrors["refreshTokenRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if storedErr, exists := c.initErrors["refreshTokenRepo"]; exists {
		return nil, storedErr
	}
	return c.identity.refreshTokenRepo, nil
}

// RefreshTokenService returns the opaque token generator. Shared between the
// session manager and the authenticator so both produce tokens of the same
// shape.
func (c *Container) RefreshTokenService() tokenService.RefreshTokenService {
	c.identity.refreshServiceInit.Do(func() {
		c.identity.refreshService = tokenService.NewRefreshTokenService()
	})
	return c.identity.refreshService
}

// SessionManager returns the in-memory session manager. Session revocations
// are fed into the audit trail through the revocation hook.
func (c *Container) SessionManager() (sessionUseCase.SessionManager, error) {
	c.identity.sessionManagerInit.Do(func() {
		engine, err := c.PolicyEngine()
		if err != nil {
			c.initErrors["sessionManager"] = err
			return
		}
		recorder, err := c.AuditRecorder()
		if err != nil {
			c.initErrors["sessionManager"] = err
			return
		}

		onRevoke := func(session *sessionDomain.Session, reason string) {
			principalID := session.PrincipalID
			sessionID := session.ID
			recorder.Record(context.Background(), &auditDomain.Record{
				Stage:       auditDomain.StageSession,
				Decision:    auditDomain.DecisionDeny,
				ReasonCode:  "session_revoked_" + reason,
				PrincipalID: &principalID,
				SessionID:   &sessionID,
				Tier:        string(session.Tier),
			})
		}

		c.identity.sessionManager = sessionUseCase.NewSessionManager(
			c.config,
			engine,
			c.RefreshTokenService(),
			c.Logger(),
			onRevoke,
		)
	})
	if storedErr, exists := c.initErrors["sessionManager"]; exists {
		return nil, storedErr
	}
	return c.identity.sessionManager, nil
}

// Authenticator returns the credential authenticator, wrapped with business
// metrics.
func (c *Container) Authenticator() (tokenUseCase.Authenticator, error) {
	c.identity.authenticatorInit.Do(func() {
		refreshTokenRepo, err := c.RefreshTokenRepository()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}
		principalUC, err := c.PrincipalUseCase()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}
		engine, err := c.PolicyEngine()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}
		sessions, err := c.SessionManager()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}
		bm, err := c.BusinessMetrics()
		if err != nil {
			c.initErrors["authenticator"] = err
			return
		}

		authenticator := tokenUseCase.NewAuthenticatorUseCase(
			c.config,
			refreshTokenRepo,
			c.RefreshTokenService(),
			tokenService.NewJWTValidator(c.config),
			tokenService.NewAssertionVerifier(c.config),
			principalUC,
			engine,
			sessions,
			txManager,
		)
		c.identity.authenticator = tokenUseCase.NewAuthenticatorWithMetrics(authenticator, bm)
	})
	if storedErr, exists := c.initErrors["authenticator"]; exists {
		return nil, storedErr
	}
	return c.identity.authenticator, nil
}
