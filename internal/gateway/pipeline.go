package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	auditUseCase "github.com/sallyport/gateway/internal/audit/usecase"
	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/edge"
	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/httputil"
	"github.com/sallyport/gateway/internal/policy"
	principalUseCase "github.com/sallyport/gateway/internal/principal/usecase"
	sessionUseCase "github.com/sallyport/gateway/internal/session/usecase"
	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
	tokenUseCase "github.com/sallyport/gateway/internal/token/usecase"
)

// errStageTimeout is the fail-closed translation of a stage deadline.
var errStageTimeout = apperrors.Wrap(apperrors.ErrForbidden, "pipeline stage timed out")

// Pipeline builds the per-request middleware chain in front of the proxy.
// Every stage either passes the request to the next stage or denies it with
// an audit record; there is no partial pass.
type Pipeline struct {
	config        *config.Config
	authenticator tokenUseCase.Authenticator
	sessions      sessionUseCase.SessionManager
	principals    principalUseCase.PrincipalUseCase
	policyEngine  *policy.Engine
	recorder      auditUseCase.Recorder
	logger        *slog.Logger
}

// NewPipeline creates a new request pipeline with the provided dependencies.
func NewPipeline(
	config *config.Config,
	authenticator tokenUseCase.Authenticator,
	sessions sessionUseCase.SessionManager,
	principals principalUseCase.PrincipalUseCase,
	policyEngine *policy.Engine,
	recorder auditUseCase.Recorder,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		config:        config,
		authenticator: authenticator,
		sessions:      sessions,
		principals:    principals,
		policyEngine:  policyEngine,
		recorder:      recorder,
		logger:        logger,
	}
}

// Authenticate validates the request credential and resolves its principal.
//
// The Authorization bearer value is dispatched on shape: a three-segment
// dotted token is treated as a JWT, anything else as an opaque session token.
// Session tokens also bind the live session to the request; JWTs are
// stateless and carry their claims instead.
func (p *Pipeline) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := parseBearer(c.GetHeader("Authorization"))
		if bearer == "" {
			p.deny(c, auditDomain.StageAuthenticate, "credential_missing", apperrors.ErrUnauthorized)
			return
		}

		input := &tokenDomain.AuthenticateInput{Kind: tokenDomain.KindBearer, Bearer: bearer}
		if strings.Count(bearer, ".") == 2 {
			input = &tokenDomain.AuthenticateInput{Kind: tokenDomain.KindOAuth2Access, RawToken: bearer}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), p.config.StageTimeout)
		defer cancel()

		result, err := p.authenticator.Authenticate(ctx, input)
		if err != nil {
			stage := auditDomain.StageAuthenticate
			if input.Kind == tokenDomain.KindBearer {
				stage = auditDomain.StageSession
			}
			p.deny(c, stage, denyReason(err), translateStageErr(err))
			return
		}

		rctx := WithPrincipal(c.Request.Context(), result.Principal)
		if result.SessionID != uuid.Nil {
			rctx = WithSessionID(rctx, result.SessionID)
		}
		if result.Claims != nil {
			rctx = WithClaims(rctx, result.Claims)
		}
		c.Request = c.Request.WithContext(rctx)
		c.Next()
	}
}

// Policy enforces the principal's tier bundle on the authenticated request:
// IP restriction (with auto-registration below the cap), geo restriction,
// MFA freshness, and redirect URI validation for authorization-code flows.
func (p *Pipeline) Policy() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c.Request.Context())
		if !ok {
			p.deny(c, auditDomain.StagePolicy, "principal_missing", apperrors.ErrUnauthorized)
			return
		}
		attestation, ok := edge.GetAttestation(c.Request.Context())
		if !ok {
			p.deny(c, auditDomain.StagePolicy, "attestation_missing", edge.ErrTrustMissing)
			return
		}

		bundle := p.policyEngine.Resolve(principal.Tier)

		register, err := p.policyEngine.CheckIP(attestation.ClientIP, principal.RegisteredIPs, bundle)
		if err != nil {
			p.deny(c, auditDomain.StagePolicy, denyReason(err), err)
			return
		}
		if register {
			ctx, cancel := context.WithTimeout(c.Request.Context(), p.config.StageTimeout)
			err := p.principals.RegisterIP(ctx, principal.ID, attestation.ClientIP)
			cancel()
			if err != nil {
				p.deny(c, auditDomain.StagePolicy, "ip_registration_failed", translateStageErr(err))
				return
			}
		}

		if err := p.policyEngine.CheckGeo(attestation.Country, bundle); err != nil {
			p.deny(c, auditDomain.StagePolicy, denyReason(err), err)
			return
		}

		if err := p.policyEngine.CheckMFAFreshness(p.mfaSatisfiedAt(c, bundle), time.Now().UTC(), bundle); err != nil {
			p.deny(c, auditDomain.StagePolicy, denyReason(err), err)
			return
		}

		if redirectURI := c.Query("redirect_uri"); redirectURI != "" {
			if err := p.policyEngine.ValidateRedirectURI(redirectURI, principal.RedirectURIs, bundle); err != nil {
				p.deny(c, auditDomain.StagePolicy, denyReason(err), err)
				return
			}
		}

		c.Next()
	}
}

// mfaSatisfiedAt resolves when the request's identity last satisfied MFA.
// Session-bound requests consult the session; stateless JWT requests fall
// back to the token's auth_time when its factor set meets the bundle's
// minimum factor count.
func (p *Pipeline) mfaSatisfiedAt(c *gin.Context, bundle policy.Bundle) time.Time {
	if sessionID, ok := GetSessionID(c.Request.Context()); ok {
		session, err := p.sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			return time.Time{}
		}
		return session.MFASatisfiedAt
	}
	if claims, ok := GetClaims(c.Request.Context()); ok && p.policyEngine.MFASatisfied(claims.Factors, bundle) {
		return claims.AuthTime
	}
	return time.Time{}
}

// deny writes an audit deny record for the stage and aborts the request.
func (p *Pipeline) deny(c *gin.Context, stage auditDomain.Stage, reason string, err error) {
	record := &auditDomain.Record{
		Stage:      stage,
		Decision:   auditDomain.DecisionDeny,
		ReasonCode: reason,
		RequestID:  requestid.Get(c),
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		ClientIP:   c.ClientIP(),
	}
	p.annotate(c, record)
	p.recorder.Record(c.Request.Context(), record)

	httputil.HandleErrorGin(c, err, p.logger)
	c.Abort()
}

// allow writes an audit allow record for the forward stage.
func (p *Pipeline) allow(c *gin.Context) {
	record := &auditDomain.Record{
		Stage:      auditDomain.StageForward,
		Decision:   auditDomain.DecisionAllow,
		ReasonCode: "forwarded",
		RequestID:  requestid.Get(c),
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		ClientIP:   c.ClientIP(),
	}
	p.annotate(c, record)
	p.recorder.Record(c.Request.Context(), record)
}

// annotate fills identity and provenance fields available in the request context.
func (p *Pipeline) annotate(c *gin.Context, record *auditDomain.Record) {
	if principal, ok := GetPrincipal(c.Request.Context()); ok {
		id := principal.ID
		record.PrincipalID = &id
		record.Tier = string(principal.Tier)
	}
	if sessionID, ok := GetSessionID(c.Request.Context()); ok {
		id := sessionID
		record.SessionID = &id
	}
	if attestation, ok := edge.GetAttestation(c.Request.Context()); ok {
		record.Fingerprint = attestation.Visitor
		if record.ClientIP == "" {
			record.ClientIP = attestation.ClientIP
		}
	}
}

// translateStageErr converts stage deadline errors into a forbidden deny, so
// a slow dependency fails closed instead of surfacing as a server error.
func translateStageErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errStageTimeout
	}
	return err
}

// denyReason maps a stage error to its audit reason code.
func denyReason(err error) string {
	var invalid *tokenDomain.InvalidError
	if errors.As(err, &invalid) {
		return "token_" + string(invalid.Reason)
	}
	var violation *policy.ViolationError
	if errors.As(err, &violation) {
		return "policy_" + string(violation.Reason)
	}
	switch {
	case errors.Is(err, tokenDomain.ErrRefreshReused):
		return "refresh_token_reuse"
	case errors.Is(err, context.DeadlineExceeded):
		return "stage_timeout"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return "credential_invalid"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	default:
		return "internal_error"
	}
}

// parseBearer extracts the token from an Authorization header value.
func parseBearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
