package app

import (
	"context"
	"fmt"
	"sync"

	auditRepository "github.com/sallyport/gateway/internal/audit/repository"
	auditService "github.com/sallyport/gateway/internal/audit/service"
	auditUseCase "github.com/sallyport/gateway/internal/audit/usecase"
	credentialRepository "github.com/sallyport/gateway/internal/credential/repository"
	credentialService "github.com/sallyport/gateway/internal/credential/service"
	credentialUseCase "github.com/sallyport/gateway/internal/credential/usecase"
	"github.com/sallyport/gateway/internal/gateway"
	tokenHTTP "github.com/sallyport/gateway/internal/token/http"
	verificationHTTP "github.com/sallyport/gateway/internal/verification/http"
	verificationRepository "github.com/sallyport/gateway/internal/verification/repository"
	verificationUseCase "github.com/sallyport/gateway/internal/verification/usecase"
)

// accessComponents holds the lazily initialized access-side dependencies:
// the audit trail, credentials, verifications, the request pipeline, and the
// HTTP handlers.
type accessComponents struct {
	auditRepo           auditUseCase.AuditRepository
	auditSigner         auditService.Signer
	auditRecorder       auditUseCase.Recorder
	auditUC             auditUseCase.AuditUseCase
	credentialRepo      credentialUseCase.CredentialRepository
	credentialKeeper    credentialService.Keeper
	credentialUC        credentialUseCase.CredentialUseCase
	verificationRepo    verificationUseCase.VerificationRepository
	verificationUC      verificationUseCase.VerificationUseCase
	pipeline            *gateway.Pipeline
	authHandler         *tokenHTTP.AuthHandler
	verificationHandler *verificationHTTP.VerificationHandler

	auditRepoInit           sync.Once
	auditSignerInit         sync.Once
	auditRecorderInit       sync.Once
	auditUCInit             sync.Once
	credentialRepoInit      sync.Once
	credentialKeeperInit    sync.Once
	credentialUCInit        sync.Once
	verificationRepoInit    sync.Once
	verificationUCInit      sync.Once
	pipelineInit            sync.Once
	authHandlerInit         sync.Once
	verificationHandlerInit sync.Once
}

// AuditRepository returns the audit record repository for the configured
// database driver.
func (c *Container) AuditRepository() (auditUseCase.AuditRepository, error) {
	c.access.auditRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["auditRepo"] = fmt.Errorf("failed to get database for audit repository: %w", err)
			return
		}
		switch c.config.DBDriver {
		case "postgres":
			c.access.auditRepo = auditRepository.NewPostgreSQLAuditRepository(db)
		case "mysql":
			c.access.auditRepo = auditRepository.NewMySQLAuditRepository(db)
		default:
			c.initErrors["auditRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if storedErr, exists := c.initErrors["auditRepo"]; exists {
		return nil, storedErr
	}
	return c.access.auditRepo, nil
}

// AuditSigner returns the HMAC signer for audit records.
func (c *Container) AuditSigner() auditService.Signer {
	c.access.auditSignerInit.Do(func() {
		c.access.auditSigner = auditService.NewSigner([]byte(c.config.AuditSigningSecret))
	})
	return c.access.auditSigner
}

// AuditRecorder returns the buffered audit recorder used on the request path.
func (c *Container) AuditRecorder() (auditUseCase.Recorder, error) {
	c.access.auditRecorderInit.Do(func() {
		repo, err := c.AuditRepository()
		if err != nil {
			c.initErrors["auditRecorder"] = err
			return
		}
		c.access.auditRecorder = auditUseCase.NewRecorder(c.config, repo, c.AuditSigner(), c.Logger())
	})
	if storedErr, exists := c.initErrors["auditRecorder"]; exists {
		return nil, storedErr
	}
	return c.access.auditRecorder, nil
}

// AuditUseCase returns the operator-facing audit trail use case.
func (c *Container) AuditUseCase() (auditUseCase.AuditUseCase, error) {
	c.access.auditUCInit.Do(func() {
		repo, err := c.AuditRepository()
		if err != nil {
			c.initErrors["auditUseCase"] = err
			return
		}
		c.access.auditUC = auditUseCase.NewAuditUseCase(repo, c.AuditSigner())
	})
	if storedErr, exists := c.initErrors["auditUseCase"]; exists {
		return nil, storedErr
	}
	return c.access.auditUC, nil
}

// CredentialRepository returns the credential repository for the configured
// database driver.
func (c *Container) CredentialRepository() (credentialUseCase.CredentialRepository, error) {
	c.access.credentialRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["credentialRepo"] = fmt.Errorf("failed to get database for credential repository: %w", err)
			return
		}
		switch c.config.DBDriver {
		case "postgres":
			c.access.credentialRepo = credentialRepository.NewPostgreSQLCredentialRepository(db)
		case "mysql":
			c.access.credentialRepo = credentialRepository.NewMySQLCredentialRepository(db)
		default:
			c.initErrors["credentialRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if storedErr, exists := c.initErrors["credentialRepo"]; exists {
		return nil, storedErr
	}
	return c.access.credentialRepo, nil
}

// CredentialKeeper returns the KMS keeper that envelope-encrypts credential
// secret material.
func (c *Container) CredentialKeeper() (credentialService.Keeper, error) {
	c.access.credentialKeeperInit.Do(func() {
		keeper, err := credentialService.NewKMSService().OpenKeeper(context.Background(), c.config.KMSKeyURI)
		if err != nil {
			c.initErrors["credentialKeeper"] = fmt.Errorf("failed to open KMS keeper: %w", err)
			return
		}
		c.access.credentialKeeper = keeper
	})
	if storedErr, exists := c.initErrors["credentialKeeper"]; exists {
		return nil, storedErr
	}
	return c.access.credentialKeeper, nil
}

// CredentialUseCase returns the credential use case, wrapped with business
// metrics.
func (c *Container) CredentialUseCase() (credentialUseCase.CredentialUseCase, error) {
	c.access.credentialUCInit.Do(func() {
		repo, err := c.CredentialRepository()
		if err != nil {
			c.initErrors["credentialUseCase"] = err
			return
		}
		keeper, err := c.CredentialKeeper()
		if err != nil {
			c.initErrors["credentialUseCase"] = err
			return
		}
		engine, err := c.PolicyEngine()
		if err != nil {
			c.initErrors["credentialUseCase"] = err
			return
		}
		txManager, err := c.TxManager()
		if err != nil {
			c.initErrors["credentialUseCase"] = err
			return
		}
		bm, err := c.BusinessMetrics()
		if err != nil {
			c.initErrors["credentialUseCase"] = err
			return
		}

		useCase := credentialUseCase.NewCredentialUseCase(
			c.config,
			repo,
			credentialService.NewSecretService(),
			keeper,
			engine,
			txManager,
			c.Logger(),
		)
		c.access.credentialUC = credentialUseCase.NewCredentialWithMetrics(useCase, bm)
	})
	if storedErr, exists := c.initErrors["credentialUseCase"]; exists {
		return nil, storedErr
	}
	return c.access.credentialUC, nil
}

// VerificationRepository returns the verification request repository for the
// configured database driver.
func (c *Container) VerificationRepository() (verificationUseCase.VerificationRepository, error) {
	c.access.verificationRepoInit.Do(func() {
		db, err := c.DB()
		if err != nil {
			c.initErrors["verificationRepo"] = fmt.Errorf("failed to get database for verification repository: %w", err)
			return
		}
		switch c.config.DBDriver {
		case "postgres":
			c.access.verificationRepo = verificationRepository.NewPostgreSQLVerificationRepository(db)
		case "mysql":
			c.access.verificationRepo = verificationRepository.NewMySQLVerificationRepository(db)
		default:
			c.initErrors["verificationRepo"] = fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
		}
	})
	if storedErr, exists := c.initErrors["verificationRepo"]; exists {
		return nil, storedErr
	}
	return c.access.verificationRepo, nil
}

// VerificationUseCase returns the step-up verification use case.
func (c *Container) VerificationUseCase() (verificationUseCase.VerificationUseCase, error) {
	c.access.verificationUCInit.Do(func() {
		repo, err := c.VerificationRepository()
		if err != nil {
			c.initErrors["verificationUseCase"] = err
			return
		}
		c.access.verificationUC = verificationUseCase.NewVerificationUseCase(c.config, repo, c.Logger())
	})
	if storedErr, exists := c.initErrors["verificationUseCase"]; exists {
		return nil, storedErr
	}
	return c.access.verificationUC, nil
}

// Pipeline returns the request pipeline that guards proxied traffic.
func (c *Container) Pipeline() (*gateway.Pipeline, error) {
	c.access.pipelineInit.Do(func() {
		authenticator, err := c.Authenticator()
		if err != nil {
			c.initErrors["pipeline"] = err
			return
		}
		sessions, err := c.SessionManager()
		if err != nil {
			c.initErrors["pipeline"] = err
			return
		}
		principals, err := c.PrincipalUseCase()
		if err != nil {
			c.initErrors["pipeline"] = err
			return
		}
		engine, err := c.PolicyEngine()
		if err != nil {
			c.initErrors["pipeline"] = err
			return
		}
		recorder, err := c.AuditRecorder()
		if err != nil {
			c.initErrors["pipeline"] = err
			return
		}

		c.access.pipeline = gateway.NewPipeline(
			c.config,
			authenticator,
			sessions,
			principals,
			engine,
			recorder,
			c.Logger(),
		)
	})
	if storedErr, exists := c.initErrors["pipeline"]; exists {
		return nil, storedErr
	}
	return c.access.pipeline, nil
}

// AuthHandler returns the HTTP handler for the token endpoints.
func (c *Container) AuthHandler() (*tokenHTTP.AuthHandler, error) {
	c.access.authHandlerInit.Do(func() {
		authenticator, err := c.Authenticator()
		if err != nil {
			c.initErrors["authHandler"] = err
			return
		}
		sessions, err := c.SessionManager()
		if err != nil {
			c.initErrors["authHandler"] = err
			return
		}
		credentials, err := c.CredentialUseCase()
		if err != nil {
			c.initErrors["authHandler"] = err
			return
		}
		principals, err := c.PrincipalUseCase()
		if err != nil {
			c.initErrors["authHandler"] = err
			return
		}
		c.access.authHandler = tokenHTTP.NewAuthHandler(c.config, authenticator, sessions, credentials, principals, c.Logger())
	})
	if storedErr, exists := c.initErrors["authHandler"]; exists {
		return nil, storedErr
	}
	return c.access.authHandler, nil
}

// VerificationHandler returns the HTTP handler for the verification endpoints.
func (c *Container) VerificationHandler() (*verificationHTTP.VerificationHandler, error) {
	c.access.verificationHandlerInit.Do(func() {
		useCase, err := c.VerificationUseCase()
		if err != nil {
			c.initErrors["verificationHandler"] = err
			return
		}
		c.access.verificationHandler = verificationHTTP.NewVerificationHandler(useCase, c.Logger())
	})
	if storedErr, exists := c.initErrors["verificationHandler"]; exists {
		return nil, storedErr
	}
	return c.access.verificationHandler, nil
}
