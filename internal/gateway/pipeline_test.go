package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/edge"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
	sessionDomain "github.com/sallyport/gateway/internal/session/domain"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
	tokenUseCase "github.com/sallyport/gateway/internal/token/usecase"
	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
)

// fakeRecorder captures audit records synchronously for assertions.
type fakeRecorder struct {
	mu      sync.Mutex
	records []*auditDomain.Record
}

func (f *fakeRecorder) Record(_ context.Context, record *auditDomain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRecorder) Flush(_ context.Context) error { return nil }

func (f *fakeRecorder) byStage(stage auditDomain.Stage) []*auditDomain.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*auditDomain.Record
	for _, r := range f.records {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// mockPipelineAuthenticator is a mock implementation of Authenticator for testing.
type mockPipelineAuthenticator struct {
	mock.Mock
}

func (m *mockPipelineAuthenticator) Authenticate(ctx context.Context, input *tokenDomain.AuthenticateInput) (*tokenUseCase.AuthResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tokenUseCase.AuthResult), args.Error(1)
}

func (m *mockPipelineAuthenticator) IssueRefresh(ctx context.Context, input *tokenDomain.IssueRefreshInput) (*tokenDomain.IssueRefreshOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tokenDomain.IssueRefreshOutput), args.Error(1)
}

func (m *mockPipelineAuthenticator) ExchangeRefresh(ctx context.Context, plainToken string) (*tokenUseCase.ExchangeRefreshOutput, error) {
	args := m.Called(ctx, plainToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tokenUseCase.ExchangeRefreshOutput), args.Error(1)
}

func (m *mockPipelineAuthenticator) RevokeRefresh(ctx context.Context, plainToken string) error {
	args := m.Called(ctx, plainToken)
	return args.Error(0)
}

// mockPipelineSessions is a mock implementation of SessionManager for testing.
type mockPipelineSessions struct {
	mock.Mock
}

func (m *mockPipelineSessions) Create(ctx context.Context, input *sessionDomain.CreateInput) (*sessionDomain.CreateOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sessionDomain.CreateOutput), args.Error(1)
}

func (m *mockPipelineSessions) Authenticate(ctx context.Context, bearer string) (uuid.UUID, uuid.UUID, error) {
	args := m.Called(ctx, bearer)
	return args.Get(0).(uuid.UUID), args.Get(1).(uuid.UUID), args.Error(2)
}

func (m *mockPipelineSessions) Get(ctx context.Context, sessionID uuid.UUID) (*sessionDomain.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sessionDomain.Session), args.Error(1)
}

func (m *mockPipelineSessions) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

func (m *mockPipelineSessions) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, reason string) int {
	args := m.Called(ctx, principalID, reason)
	return args.Int(0)
}

func (m *mockPipelineSessions) Sweep(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}

func (m *mockPipelineSessions) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// mockPipelinePrincipals is a mock implementation of PrincipalUseCase for testing.
type mockPipelinePrincipals struct {
	mock.Mock
}

func (m *mockPipelinePrincipals) Provision(ctx context.Context, input *principalDomain.ProvisionInput) (*principalDomain.Principal, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principalDomain.Principal), args.Error(1)
}

func (m *mockPipelinePrincipals) Get(ctx context.Context, id uuid.UUID) (*principalDomain.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principalDomain.Principal), args.Error(1)
}

func (m *mockPipelinePrincipals) Lookup(ctx context.Context, subject string) (*principalDomain.Principal, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principalDomain.Principal), args.Error(1)
}

func (m *mockPipelinePrincipals) Deactivate(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockPipelinePrincipals) RegisterIP(ctx context.Context, id uuid.UUID, ip string) error {
	args := m.Called(ctx, id, ip)
	return args.Error(0)
}

func (m *mockPipelinePrincipals) SetPaymentVerified(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// mockPipelineVerifications is a mock implementation of VerificationUseCase for testing.
type mockPipelineVerifications struct {
	mock.Mock
}

func (m *mockPipelineVerifications) Request(ctx context.Context, input *verificationDomain.RequestInput) (*verificationDomain.Request, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockPipelineVerifications) Approve(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockPipelineVerifications) Reject(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockPipelineVerifications) Status(ctx context.Context, id uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockPipelineVerifications) List(ctx context.Context, principalID uuid.UUID, offset, limit int) ([]*verificationDomain.Request, error) {
	args := m.Called(ctx, principalID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*verificationDomain.Request), args.Error(1)
}

func (m *mockPipelineVerifications) HasApproved(ctx context.Context, principalID uuid.UUID, accessLevel string) (bool, error) {
	args := m.Called(ctx, principalID, accessLevel)
	return args.Bool(0), args.Error(1)
}

func (m *mockPipelineVerifications) Sweep(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPipelineVerifications) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type pipelineMocks struct {
	authenticator *mockPipelineAuthenticator
	sessions      *mockPipelineSessions
	principals    *mockPipelinePrincipals
	verifications *mockPipelineVerifications
	recorder      *fakeRecorder
}

// newTestPipeline creates a pipeline with a real policy engine and mocked
// collaborators.
func newTestPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *pipelineMocks) {
	return newTestPipelineWithBundles(t, cfg, "")
}

func newTestPipelineWithBundles(t *testing.T, cfg *config.Config, bundleOverrides string) (*Pipeline, *pipelineMocks) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	catalog, err := policy.NewCatalog(bundleOverrides)
	assert.NoError(t, err)

	mocks := &pipelineMocks{
		authenticator: &mockPipelineAuthenticator{},
		sessions:      &mockPipelineSessions{},
		principals:    &mockPipelinePrincipals{},
		verifications: &mockPipelineVerifications{},
		recorder:      &fakeRecorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pipeline := NewPipeline(cfg, mocks.authenticator, mocks.sessions, mocks.principals,
		policy.NewEngine(catalog), mocks.recorder, logger)
	return pipeline, mocks
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		StageTimeout:     2 * time.Second,
		RateLimitEnabled: true,
	}
}

// injectIdentity simulates an upstream authentication stage.
func injectIdentity(principal *principalDomain.Principal, sessionID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithPrincipal(c.Request.Context(), principal)
		if sessionID != uuid.Nil {
			ctx = WithSessionID(ctx, sessionID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func okHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// edgeRequest builds a request carrying a complete edge attestation.
func edgeRequest(method, path, clientIP, country string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(edge.HeaderTransactionID, "txn-1")
	req.Header.Set(edge.HeaderClientIP, clientIP)
	req.Header.Set(edge.HeaderVisitor, "visitor-1")
	if country != "" {
		req.Header.Set(edge.HeaderCountry, country)
	}
	return req
}

func rubyPrincipal(registeredIPs ...string) *principalDomain.Principal {
	return &principalDomain.Principal{
		ID:            uuid.Must(uuid.NewV7()),
		Tier:          policy.TierRuby,
		IsActive:      true,
		RegisteredIPs: registeredIPs,
		RedirectURIs:  []string{"https://app.example.com/callback"},
	}
}

func TestPipeline_Authenticate(t *testing.T) {
	t.Run("Success_OpaqueBearerBindsSession", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal()
		sessionID := uuid.Must(uuid.NewV7())

		mocks.authenticator.On("Authenticate", mock.Anything, mock.MatchedBy(func(input *tokenDomain.AuthenticateInput) bool {
			return input.Kind == tokenDomain.KindBearer && input.Bearer == "opaque-token"
		})).Return(&tokenUseCase.AuthResult{Principal: principal, SessionID: sessionID}, nil)

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", func(c *gin.Context) {
			got, ok := GetPrincipal(c.Request.Context())
			assert.True(t, ok)
			assert.Equal(t, principal.ID, got.ID)
			gotSession, ok := GetSessionID(c.Request.Context())
			assert.True(t, ok)
			assert.Equal(t, sessionID, gotSession)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer opaque-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.authenticator.AssertExpectations(t)
	})

	t.Run("Success_DottedTokenDispatchesAsJWT", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal()
		claims := &tokenDomain.Claims{Subject: "idp|user-1", Factors: []string{"password", "otp"}}

		mocks.authenticator.On("Authenticate", mock.Anything, mock.MatchedBy(func(input *tokenDomain.AuthenticateInput) bool {
			return input.Kind == tokenDomain.KindOAuth2Access && input.RawToken == "aaa.bbb.ccc"
		})).Return(&tokenUseCase.AuthResult{Principal: principal, Claims: claims}, nil)

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", func(c *gin.Context) {
			gotClaims, ok := GetClaims(c.Request.Context())
			assert.True(t, ok)
			assert.Equal(t, "idp|user-1", gotClaims.Subject)
			_, hasSession := GetSessionID(c.Request.Context())
			assert.False(t, hasSession)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer aaa.bbb.ccc")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.authenticator.AssertExpectations(t)
	})

	t.Run("Error_MissingCredential", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageAuthenticate)
		assert.Len(t, denies, 1)
		assert.Equal(t, auditDomain.DecisionDeny, denies[0].Decision)
		assert.Equal(t, "credential_missing", denies[0].ReasonCode)
	})

	t.Run("Error_DeadSessionAuditsSessionStage", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())

		mocks.authenticator.On("Authenticate", mock.Anything, mock.Anything).
			Return(nil, sessionDomain.ErrSessionNotFound)

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer dead-token")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageSession)
		assert.Len(t, denies, 1)
		assert.Equal(t, "credential_invalid", denies[0].ReasonCode)
	})

	t.Run("Error_ExpiredJWTCarriesTypedReason", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())

		mocks.authenticator.On("Authenticate", mock.Anything, mock.Anything).
			Return(nil, tokenDomain.NewInvalid(tokenDomain.KindOAuth2Access, tokenDomain.ReasonExpired))

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer aaa.bbb.ccc")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageAuthenticate)
		assert.Len(t, denies, 1)
		assert.Equal(t, "token_expired", denies[0].ReasonCode)
	})

	t.Run("Error_SlowValidatorFailsClosed", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())

		mocks.authenticator.On("Authenticate", mock.Anything, mock.Anything).
			Return(nil, context.DeadlineExceeded)

		router := gin.New()
		router.Use(pipeline.Authenticate())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		req.Header.Set("Authorization", "Bearer aaa.bbb.ccc")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageAuthenticate)
		assert.Len(t, denies, 1)
		assert.Equal(t, "stage_timeout", denies[0].ReasonCode)
	})
}

func TestPipeline_Policy(t *testing.T) {
	newPolicyRouter := func(pipeline *Pipeline, mocks *pipelineMocks, principal *principalDomain.Principal, sessionID uuid.UUID) *gin.Engine {
		router := gin.New()
		router.Use(edge.Middleware(mocks.recorder, pipeline.logger))
		router.Use(injectIdentity(principal, sessionID))
		router.Use(pipeline.Policy())
		router.GET("/resource", okHandler)
		return router
	}

	freshSession := func(principal *principalDomain.Principal, sessionID uuid.UUID) *sessionDomain.Session {
		return &sessionDomain.Session{
			ID:             sessionID,
			PrincipalID:    principal.ID,
			Tier:           principal.Tier,
			MFASatisfiedAt: time.Now().UTC().Add(-time.Minute),
		}
	}

	t.Run("Success_RegisteredIPWithFreshMFA", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal("203.0.113.10")
		sessionID := uuid.Must(uuid.NewV7())
		mocks.sessions.On("Get", mock.Anything, sessionID).Return(freshSession(principal, sessionID), nil)

		router := newPolicyRouter(pipeline, mocks, principal, sessionID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.principals.AssertNotCalled(t, "RegisterIP", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Success_NewIPAutoRegistersBelowCap", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal("198.51.100.1")
		sessionID := uuid.Must(uuid.NewV7())
		mocks.sessions.On("Get", mock.Anything, sessionID).Return(freshSession(principal, sessionID), nil)
		mocks.principals.On("RegisterIP", mock.Anything, principal.ID, "203.0.113.10").Return(nil)

		router := newPolicyRouter(pipeline, mocks, principal, sessionID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.principals.AssertExpectations(t)
	})

	t.Run("Error_UnregisteredIPAtCap", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		// Sapphire caps at 3 registered IPs.
		principal := &principalDomain.Principal{
			ID:            uuid.Must(uuid.NewV7()),
			Tier:          policy.TierSapphire,
			IsActive:      true,
			RegisteredIPs: []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"},
		}

		router := newPolicyRouter(pipeline, mocks, principal, uuid.Nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", "US"))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "policy_ip", denies[0].ReasonCode)
	})

	t.Run("Error_GeoBlockedCountry", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := &principalDomain.Principal{
			ID:            uuid.Must(uuid.NewV7()),
			Tier:          policy.TierSapphire,
			IsActive:      true,
			RegisteredIPs: []string{"203.0.113.10"},
		}

		router := newPolicyRouter(pipeline, mocks, principal, uuid.Nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", "BR"))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "policy_geo", denies[0].ReasonCode)
	})

	t.Run("Error_StaleMFA", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal("203.0.113.10")
		sessionID := uuid.Must(uuid.NewV7())
		// Ruby requires re-auth every 12 hours.
		mocks.sessions.On("Get", mock.Anything, sessionID).Return(&sessionDomain.Session{
			ID:             sessionID,
			PrincipalID:    principal.ID,
			Tier:           principal.Tier,
			MFASatisfiedAt: time.Now().UTC().Add(-13 * time.Hour),
		}, nil)

		router := newPolicyRouter(pipeline, mocks, principal, sessionID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "policy_mfa_stale", denies[0].ReasonCode)
	})

	t.Run("Success_FreshAuthTimeOnStatelessJWT", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal("203.0.113.10")

		router := gin.New()
		router.Use(edge.Middleware(mocks.recorder, pipeline.logger))
		router.Use(func(c *gin.Context) {
			ctx := WithPrincipal(c.Request.Context(), principal)
			ctx = WithClaims(ctx, &tokenDomain.Claims{
				Factors:  []string{"password", "otp"},
				AuthTime: time.Now().UTC().Add(-time.Minute),
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
		router.Use(pipeline.Policy())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Error_StatelessJWTBelowFactorMinimum", func(t *testing.T) {
		// Raising ruby's minimum to three factors must invalidate a token
		// that only carries two.
		pipeline, mocks := newTestPipelineWithBundles(t, testPipelineConfig(),
			`{"ruby": {"mfa_min_factors": 3}}`)
		principal := rubyPrincipal("203.0.113.10")

		router := gin.New()
		router.Use(edge.Middleware(mocks.recorder, pipeline.logger))
		router.Use(func(c *gin.Context) {
			ctx := WithPrincipal(c.Request.Context(), principal)
			ctx = WithClaims(ctx, &tokenDomain.Claims{
				Factors:  []string{"password", "otp"},
				AuthTime: time.Now().UTC().Add(-time.Minute),
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
		router.Use(pipeline.Policy())
		router.GET("/resource", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "policy_mfa_stale", denies[0].ReasonCode)
	})

	t.Run("Error_UnregisteredRedirectURI", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal("203.0.113.10")
		sessionID := uuid.Must(uuid.NewV7())
		mocks.sessions.On("Get", mock.Anything, sessionID).Return(freshSession(principal, sessionID), nil)

		router := newPolicyRouter(pipeline, mocks, principal, sessionID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet,
			"/resource?redirect_uri=https%3A%2F%2Fevil.example.net%2Fcallback", "203.0.113.10", ""))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "policy_redirect_uri", denies[0].ReasonCode)
	})

	t.Run("Error_IPRegistrationFailureFailsClosed", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		principal := rubyPrincipal()
		mocks.principals.On("RegisterIP", mock.Anything, principal.ID, "203.0.113.10").
			Return(context.DeadlineExceeded)

		router := newPolicyRouter(pipeline, mocks, principal, uuid.Nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, edgeRequest(http.MethodGet, "/resource", "203.0.113.10", ""))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StagePolicy)
		assert.Len(t, denies, 1)
		assert.Equal(t, "ip_registration_failed", denies[0].ReasonCode)
	})
}

func TestPipeline_RateLimit(t *testing.T) {
	t.Run("Error_BurstExhausted", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, testPipelineConfig())
		// Sapphire allows 60 requests per minute, so a burst of 6.
		principal := &principalDomain.Principal{
			ID:       uuid.Must(uuid.NewV7()),
			Tier:     policy.TierSapphire,
			IsActive: true,
		}

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.RateLimit())
		router.GET("/resource", okHandler)

		var lastCode int
		for i := 0; i < 7; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))
			lastCode = w.Code
		}

		assert.Equal(t, http.StatusTooManyRequests, lastCode)
		denies := mocks.recorder.byStage(auditDomain.StageRateLimit)
		assert.NotEmpty(t, denies)
		assert.Equal(t, "rate_limit_exceeded", denies[0].ReasonCode)
	})

	t.Run("Success_HigherTierGetsLargerBudget", func(t *testing.T) {
		pipeline, _ := newTestPipeline(t, testPipelineConfig())
		// Diamond allows 600 requests per minute, so a burst of 60.
		principal := &principalDomain.Principal{
			ID:       uuid.Must(uuid.NewV7()),
			Tier:     policy.TierDiamond,
			IsActive: true,
		}

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.RateLimit())
		router.GET("/resource", okHandler)

		for i := 0; i < 20; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("Success_DisabledLimiterPassesEverything", func(t *testing.T) {
		cfg := testPipelineConfig()
		cfg.RateLimitEnabled = false
		pipeline, _ := newTestPipeline(t, cfg)
		principal := &principalDomain.Principal{
			ID:       uuid.Must(uuid.NewV7()),
			Tier:     policy.TierSapphire,
			IsActive: true,
		}

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.RateLimit())
		router.GET("/resource", okHandler)

		for i := 0; i < 20; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

func TestPipeline_Elevated(t *testing.T) {
	elevatedConfig := func() *config.Config {
		cfg := testPipelineConfig()
		cfg.ElevatedPaths = "/admin=full,/admin/billing=payment"
		return cfg
	}

	t.Run("Success_ApprovedVerification", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, elevatedConfig())
		principal := rubyPrincipal()
		mocks.verifications.On("HasApproved", mock.Anything, principal.ID, "full").Return(true, nil)

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.Elevated(mocks.verifications))
		router.GET("/admin/users", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/users", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.verifications.AssertExpectations(t)
	})

	t.Run("Success_LongestPrefixWins", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, elevatedConfig())
		principal := rubyPrincipal()
		mocks.verifications.On("HasApproved", mock.Anything, principal.ID, "payment").Return(true, nil)

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.Elevated(mocks.verifications))
		router.GET("/admin/billing/invoices", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/billing/invoices", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.verifications.AssertExpectations(t)
	})

	t.Run("Success_UngatedPathSkipsCheck", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, elevatedConfig())
		principal := rubyPrincipal()

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.Elevated(mocks.verifications))
		router.GET("/reports", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reports", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		mocks.verifications.AssertNotCalled(t, "HasApproved", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Error_NoApprovedVerification", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, elevatedConfig())
		principal := rubyPrincipal()
		mocks.verifications.On("HasApproved", mock.Anything, principal.ID, "full").Return(false, nil)

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.Elevated(mocks.verifications))
		router.GET("/admin/users", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/users", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageVerification)
		assert.Len(t, denies, 1)
		assert.Equal(t, "verification_required", denies[0].ReasonCode)
	})

	t.Run("Error_CheckFailureFailsClosed", func(t *testing.T) {
		pipeline, mocks := newTestPipeline(t, elevatedConfig())
		principal := rubyPrincipal()
		mocks.verifications.On("HasApproved", mock.Anything, principal.ID, "full").
			Return(false, context.DeadlineExceeded)

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Use(pipeline.Elevated(mocks.verifications))
		router.GET("/admin/users", okHandler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/users", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageVerification)
		assert.Len(t, denies, 1)
		assert.Equal(t, "verification_check_failed", denies[0].ReasonCode)
	})
}

func TestParseElevatedPaths(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []elevatedPath
	}{
		{
			name: "Empty",
			raw:  "",
			want: nil,
		},
		{
			name: "SingleEntry",
			raw:  "/admin=full",
			want: []elevatedPath{{prefix: "/admin", level: "full"}},
		},
		{
			name: "MultipleEntriesWithSpaces",
			raw:  "/admin=full, /billing=payment",
			want: []elevatedPath{{prefix: "/admin", level: "full"}, {prefix: "/billing", level: "payment"}},
		},
		{
			name: "SkipsMalformedEntries",
			raw:  "/admin=full,no-slash=x,=empty,/broken,/billing=payment",
			want: []elevatedPath{{prefix: "/admin", level: "full"}, {prefix: "/billing", level: "payment"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseElevatedPaths(tt.raw))
		})
	}
}

// closeNotifyRecorder adds the http.CloseNotifier method that
// httputil.ReverseProxy expects but httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func TestPipeline_Proxy(t *testing.T) {
	t.Run("Success_ForwardsWithIdentityHeaders", func(t *testing.T) {
		var gotHeaders http.Header
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("backend-ok"))
		}))
		defer backend.Close()

		cfg := testPipelineConfig()
		cfg.BackendURL = backend.URL
		pipeline, mocks := newTestPipeline(t, cfg)
		principal := rubyPrincipal()
		sessionID := uuid.Must(uuid.NewV7())

		handler, err := pipeline.Proxy()
		assert.NoError(t, err)

		router := gin.New()
		router.Use(injectIdentity(principal, sessionID))
		router.Any("/*path", handler)

		w := &closeNotifyRecorder{httptest.NewRecorder()}
		req := httptest.NewRequest(http.MethodGet, "/orders/42", nil)
		// A spoofed identity header must not survive the hop.
		req.Header.Set(HeaderPrincipalID, "spoofed")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "backend-ok", w.Body.String())
		assert.Equal(t, principal.ID.String(), gotHeaders.Get(HeaderPrincipalID))
		assert.Equal(t, string(policy.TierRuby), gotHeaders.Get(HeaderPrincipalTier))
		assert.Equal(t, sessionID.String(), gotHeaders.Get(HeaderSessionID))

		allows := mocks.recorder.byStage(auditDomain.StageForward)
		assert.Len(t, allows, 1)
		assert.Equal(t, auditDomain.DecisionAllow, allows[0].Decision)
		assert.Equal(t, "forwarded", allows[0].ReasonCode)
	})

	t.Run("Error_MissingPrincipal", func(t *testing.T) {
		cfg := testPipelineConfig()
		cfg.BackendURL = "http://127.0.0.1:9"
		pipeline, mocks := newTestPipeline(t, cfg)

		handler, err := pipeline.Proxy()
		assert.NoError(t, err)

		router := gin.New()
		router.Any("/*path", handler)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/42", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		denies := mocks.recorder.byStage(auditDomain.StageForward)
		assert.Len(t, denies, 1)
		assert.Equal(t, "principal_missing", denies[0].ReasonCode)
	})

	t.Run("Error_UnreachableBackendIsBadGateway", func(t *testing.T) {
		cfg := testPipelineConfig()
		// Port 9 is the discard port; nothing listens there.
		cfg.BackendURL = "http://127.0.0.1:9"
		pipeline, _ := newTestPipeline(t, cfg)
		principal := rubyPrincipal()

		handler, err := pipeline.Proxy()
		assert.NoError(t, err)

		router := gin.New()
		router.Use(injectIdentity(principal, uuid.Nil))
		router.Any("/*path", handler)

		w := &closeNotifyRecorder{httptest.NewRecorder()}
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/42", nil))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
