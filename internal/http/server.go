// Package http provides the gateway's HTTP server and route wiring.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	auditUseCase "github.com/sallyport/gateway/internal/audit/usecase"
	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/edge"
	"github.com/sallyport/gateway/internal/gateway"
	"github.com/sallyport/gateway/internal/metrics"
	tokenHTTP "github.com/sallyport/gateway/internal/token/http"
	verificationHTTP "github.com/sallyport/gateway/internal/verification/http"
	verificationUseCase "github.com/sallyport/gateway/internal/verification/usecase"
)

// Server represents the gateway HTTP server.
type Server struct {
	server *http.Server
	router *gin.Engine
	db     *sql.DB
	logger *slog.Logger
}

// NewServer creates a new HTTP server. The router is assembled separately by
// SetupRouter so tests can exercise handlers without the full dependency set.
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// RouterConfig carries everything SetupRouter needs to wire the routes.
type RouterConfig struct {
	Config              *config.Config
	Pipeline            *gateway.Pipeline
	AuthHandler         *tokenHTTP.AuthHandler
	VerificationHandler *verificationHTTP.VerificationHandler
	Verifications       verificationUseCase.VerificationUseCase
	Recorder            auditUseCase.Recorder
	MetricsProvider     *metrics.Provider
}

// SetupRouter assembles the gin router.
//
// Control-plane endpoints (/v1/auth, /v1/verifications) are routed explicitly;
// everything else falls through to the pipeline chain and, when every stage
// allows it, is proxied to the backend.
func (s *Server) SetupRouter(rc RouterConfig) error {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(rc.Config.CORSEnabled, rc.Config.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	if rc.Config.MetricsEnabled && rc.MetricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(rc.MetricsProvider.MeterProvider(), rc.Config.MetricsNamespace))
	}

	// Health endpoints bypass the edge trust check so the orchestrator can
	// probe the gateway directly.
	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	edgeMiddleware := edge.Middleware(rc.Recorder, s.logger)

	v1 := router.Group("/v1", edgeMiddleware)

	auth := v1.Group("/auth")
	auth.POST("/token", rc.AuthHandler.IssueTokenHandler)
	auth.POST("/refresh", rc.AuthHandler.RefreshTokenHandler)
	auth.POST("/revoke", rc.AuthHandler.RevokeTokenHandler)
	auth.POST("/logout", rc.AuthHandler.LogoutHandler)

	verifications := v1.Group("/verifications", rc.Pipeline.Authenticate(), rc.Pipeline.RateLimit())
	verifications.POST("", rc.VerificationHandler.CreateHandler)
	verifications.GET("", rc.VerificationHandler.ListHandler)
	verifications.GET("/:id", rc.VerificationHandler.GetHandler)
	verifications.POST("/:id/approve", rc.VerificationHandler.ApproveHandler)
	verifications.POST("/:id/reject", rc.VerificationHandler.RejectHandler)

	proxyHandler, err := rc.Pipeline.Proxy()
	if err != nil {
		return err
	}
	router.NoRoute(
		edgeMiddleware,
		rc.Pipeline.Authenticate(),
		rc.Pipeline.Policy(),
		rc.Pipeline.RateLimit(),
		rc.Pipeline.Elevated(rc.Verifications),
		proxyHandler,
	)

	s.router = router
	return nil
}

// GetHandler returns the http.Handler for testing purposes.
// Returns nil when SetupRouter has not been called.
func (s *Server) GetHandler() http.Handler {
	if s.router == nil {
		return nil
	}
	return s.router
}

// healthHandler reports liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports readiness, including the database connection state.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{"database": "ok"}
	status := http.StatusOK
	overall := "ready"

	if s.db == nil {
		components["database"] = "error"
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	} else if err := s.db.PingContext(c.Request.Context()); err != nil {
		s.logger.Error("database ping failed", "error", err)
		components["database"] = "error"
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	c.JSON(status, gin.H{"status": overall, "components": components})
}

// Start starts the HTTP server. SetupRouter must have been called first.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("router not initialized: call SetupRouter first")
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
