// Package http provides HTTP handlers for session establishment and refresh
// token operations.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/config"
	credentialUseCase "github.com/sallyport/gateway/internal/credential/usecase"
	"github.com/sallyport/gateway/internal/edge"
	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/httputil"
	principalUseCase "github.com/sallyport/gateway/internal/principal/usecase"
	sessionDomain "github.com/sallyport/gateway/internal/session/domain"
	sessionUseCase "github.com/sallyport/gateway/internal/session/usecase"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
	"github.com/sallyport/gateway/internal/token/http/dto"
	tokenService "github.com/sallyport/gateway/internal/token/service"
	tokenUseCase "github.com/sallyport/gateway/internal/token/usecase"
	customValidation "github.com/sallyport/gateway/internal/validation"
)

// AuthHandler handles HTTP requests for session establishment, refresh token
// rotation, and logout.
type AuthHandler struct {
	config        *config.Config
	authenticator tokenUseCase.Authenticator
	sessions      sessionUseCase.SessionManager
	credentials   credentialUseCase.CredentialUseCase
	principals    principalUseCase.PrincipalUseCase
	logger        *slog.Logger
}

// NewAuthHandler creates a new auth handler with required dependencies.
func NewAuthHandler(
	cfg *config.Config,
	authenticator tokenUseCase.Authenticator,
	sessions sessionUseCase.SessionManager,
	credentials credentialUseCase.CredentialUseCase,
	principals principalUseCase.PrincipalUseCase,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		config:        cfg,
		authenticator: authenticator,
		sessions:      sessions,
		credentials:   credentials,
		principals:    principals,
		logger:        logger,
	}
}

// IssueTokenHandler establishes a session from an identity credential.
// POST /v1/auth/token - No authentication required (this is the authentication endpoint).
// Returns 201 Created with the bearer token, refresh token, and expirations.
func (h *AuthHandler) IssueTokenHandler(c *gin.Context) {
	var req dto.IssueTokenRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			method = tokenService.PKCEMethodS256
		}
		if err := tokenService.VerifyPKCE(req.CodeVerifier, req.CodeChallenge, method); err != nil {
			httputil.HandleErrorGin(c, err, h.logger)
			return
		}
	}

	result, err := h.authenticate(c, &req)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	// The session manager decides whether the factor set satisfies MFA
	// against the tier bundle; the handler only reports what was presented.
	factors := []string{"secret"}
	var authTime time.Time
	if result.Claims != nil {
		if len(result.Claims.Factors) > 0 {
			factors = result.Claims.Factors
		}
		authTime = result.Claims.AuthTime
	}

	session, err := h.sessions.Create(c.Request.Context(), &sessionDomain.CreateInput{
		PrincipalID: result.Principal.ID,
		Tier:        result.Principal.Tier,
		ClientIP:    clientIP(c),
		Factors:     factors,
		AuthTime:    authTime,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	refresh, err := h.authenticator.IssueRefresh(c.Request.Context(), &tokenDomain.IssueRefreshInput{
		PrincipalID: result.Principal.ID,
		SessionID:   session.SessionID,
		TTL:         h.config.RefreshTokenTTL,
	})
	if err != nil {
		// The session is orphaned without its refresh token; tear it down.
		_ = h.sessions.Revoke(c.Request.Context(), session.SessionID, sessionDomain.RevokeReasonLogout)
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.IssueTokenResponse{
		AccessToken:      session.PlainToken,
		TokenType:        "Bearer",
		ExpiresAt:        session.ExpiresAt,
		RefreshToken:     refresh.PlainToken,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        session.SessionID.String(),
		PrincipalID:      result.Principal.ID.String(),
		Tier:             string(result.Principal.Tier),
	})
}

// RefreshTokenHandler rotates a refresh token.
// POST /v1/auth/refresh - Authenticated by the presented refresh token itself.
// Returns 200 OK with the replacement token.
func (h *AuthHandler) RefreshTokenHandler(c *gin.Context) {
	var req dto.RefreshTokenRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	output, err := h.authenticator.ExchangeRefresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.RefreshTokenResponse{
		RefreshToken: output.PlainToken,
		ExpiresAt:    output.ExpiresAt,
		SessionID:    output.SessionID.String(),
		PrincipalID:  output.PrincipalID.String(),
	})
}

// RevokeTokenHandler revokes a refresh token family and its bound sessions.
// POST /v1/auth/revoke - Authenticated by the presented refresh token itself.
// Returns 204 No Content; unknown tokens are treated as already revoked.
func (h *AuthHandler) RevokeTokenHandler(c *gin.Context) {
	var req dto.RevokeTokenRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if err := h.authenticator.RevokeRefresh(c.Request.Context(), req.RefreshToken); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Status(http.StatusNoContent)
}

// LogoutHandler terminates the session presented in the Authorization header.
// POST /v1/auth/logout
// Returns 204 No Content.
func (h *AuthHandler) LogoutHandler(c *gin.Context) {
	bearer := bearerToken(c)
	if bearer == "" {
		httputil.HandleErrorGin(c, apperrors.Wrap(apperrors.ErrUnauthorized, "missing bearer token"), h.logger)
		return
	}

	sessionID, _, err := h.sessions.Authenticate(c.Request.Context(), bearer)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID, sessionDomain.RevokeReasonLogout); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Status(http.StatusNoContent)
}

// authenticate resolves the grant to an authenticated principal.
func (h *AuthHandler) authenticate(c *gin.Context, req *dto.IssueTokenRequest) (*tokenUseCase.AuthResult, error) {
	switch req.GrantType {
	case dto.GrantOIDC:
		return h.authenticator.Authenticate(c.Request.Context(), &tokenDomain.AuthenticateInput{
			Kind:     tokenDomain.KindOIDCID,
			RawToken: req.Token,
		})
	case dto.GrantOAuth2:
		return h.authenticator.Authenticate(c.Request.Context(), &tokenDomain.AuthenticateInput{
			Kind:     tokenDomain.KindOAuth2Access,
			RawToken: req.Token,
		})
	case dto.GrantSAML:
		return h.authenticator.Authenticate(c.Request.Context(), &tokenDomain.AuthenticateInput{
			Kind:      tokenDomain.KindSAMLAssertion,
			Assertion: req.Assertion,
		})
	case dto.GrantClientCredentials:
		principalID, err := uuid.Parse(req.PrincipalID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "invalid principal_id format: must be a valid UUID")
		}
		if _, err := h.credentials.Verify(c.Request.Context(), principalID, req.ClientSecret); err != nil {
			return nil, err
		}
		principal, err := h.principals.Get(c.Request.Context(), principalID)
		if err != nil {
			return nil, err
		}
		return &tokenUseCase.AuthResult{Principal: principal}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported grant_type %q", apperrors.ErrInvalidInput, req.GrantType)
	}
}

// clientIP prefers the edge attestation's client IP over the socket address.
func clientIP(c *gin.Context) string {
	if attestation, ok := edge.GetAttestation(c.Request.Context()); ok {
		return attestation.ClientIP
	}
	return c.ClientIP()
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
