package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Identity headers injected into forwarded requests. Inbound values are
// always stripped so clients cannot spoof them.
const (
	HeaderPrincipalID   = "X-Principal-Id"
	HeaderPrincipalTier = "X-Principal-Tier"
	HeaderSessionID     = "X-Session-Id"
)

// Proxy builds the terminal handler: an allowed request is forwarded to the
// configured backend carrying the authenticated identity headers.
func (p *Pipeline) Proxy() (gin.HandlerFunc, error) {
	backend, err := url.Parse(p.config.BackendURL)
	if err != nil {
		return nil, apperrors.Wrap(err, "invalid backend URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(backend)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Error("backend request failed", "error", err, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"bad_gateway","message":"The backend did not respond"}`))
	}

	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c.Request.Context())
		if !ok {
			p.deny(c, auditDomain.StageForward, "principal_missing", apperrors.ErrUnauthorized)
			return
		}

		c.Request.Header.Del(HeaderPrincipalID)
		c.Request.Header.Del(HeaderPrincipalTier)
		c.Request.Header.Del(HeaderSessionID)

		c.Request.Header.Set(HeaderPrincipalID, principal.ID.String())
		c.Request.Header.Set(HeaderPrincipalTier, string(principal.Tier))
		if sessionID, ok := GetSessionID(c.Request.Context()); ok {
			c.Request.Header.Set(HeaderSessionID, sessionID.String())
		}

		p.allow(c)
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}
