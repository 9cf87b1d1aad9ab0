package edge

import (
	"log/slog"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	auditUseCase "github.com/sallyport/gateway/internal/audit/usecase"
	"github.com/sallyport/gateway/internal/httputil"
)

// Middleware rejects requests without complete edge attestation.
//
// It runs first in the pipeline: a request that did not come through the
// trusted edge is denied with 403 before any credential material is read,
// and the denial is written to the audit trail.
func Middleware(recorder auditUseCase.Recorder, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		attestation := &Attestation{
			TransactionID: c.GetHeader(HeaderTransactionID),
			ClientIP:      c.GetHeader(HeaderClientIP),
			Visitor:       c.GetHeader(HeaderVisitor),
			Country:       c.GetHeader(HeaderCountry),
		}

		if attestation.TransactionID == "" || attestation.ClientIP == "" || attestation.Visitor == "" {
			recorder.Record(c.Request.Context(), &auditDomain.Record{
				Stage:      auditDomain.StageEdge,
				Decision:   auditDomain.DecisionDeny,
				ReasonCode: "edge_trust_missing",
				RequestID:  requestid.Get(c),
				Method:     c.Request.Method,
				Path:       c.Request.URL.Path,
				ClientIP:   c.ClientIP(),
			})
			httputil.HandleErrorGin(c, ErrTrustMissing, logger)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithAttestation(c.Request.Context(), attestation))
		c.Next()
	}
}
