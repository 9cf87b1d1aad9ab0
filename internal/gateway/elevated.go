package gateway

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	apperrors "github.com/sallyport/gateway/internal/errors"
	verificationUseCase "github.com/sallyport/gateway/internal/verification/usecase"
)

// ErrVerificationRequired indicates an elevated path was requested without an
// approved verification for its access level.
var ErrVerificationRequired = apperrors.Wrap(apperrors.ErrForbidden, "elevated access requires an approved verification")

// elevatedPath binds a request path prefix to a verification access level.
type elevatedPath struct {
	prefix string
	level  string
}

// parseElevatedPaths parses the "/admin=full,/billing=payment" configuration
// format. Malformed entries are skipped.
func parseElevatedPaths(raw string) []elevatedPath {
	var paths []elevatedPath
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, level, ok := strings.Cut(entry, "=")
		if !ok || prefix == "" || level == "" || !strings.HasPrefix(prefix, "/") {
			continue
		}
		paths = append(paths, elevatedPath{prefix: prefix, level: level})
	}
	return paths
}

// Elevated gates configured sensitive path prefixes behind the verification
// workflow: the principal must hold an unexpired approved verification for
// the prefix's access level. Requests outside the configured prefixes pass
// through untouched.
func (p *Pipeline) Elevated(verifications verificationUseCase.VerificationUseCase) gin.HandlerFunc {
	paths := parseElevatedPaths(p.config.ElevatedPaths)

	return func(c *gin.Context) {
		level, required := matchElevatedPath(paths, c.Request.URL.Path)
		if !required {
			c.Next()
			return
		}

		principal, ok := GetPrincipal(c.Request.Context())
		if !ok {
			p.deny(c, auditDomain.StageVerification, "principal_missing", apperrors.ErrUnauthorized)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), p.config.StageTimeout)
		approved, err := verifications.HasApproved(ctx, principal.ID, level)
		cancel()
		if err != nil {
			p.deny(c, auditDomain.StageVerification, "verification_check_failed", translateStageErr(err))
			return
		}
		if !approved {
			p.deny(c, auditDomain.StageVerification, "verification_required", ErrVerificationRequired)
			return
		}

		c.Next()
	}
}

// matchElevatedPath finds the longest configured prefix covering the path.
func matchElevatedPath(paths []elevatedPath, requestPath string) (level string, required bool) {
	longest := -1
	for _, p := range paths {
		if strings.HasPrefix(requestPath, p.prefix) && len(p.prefix) > longest {
			longest = len(p.prefix)
			level = p.level
			required = true
		}
	}
	return level, required
}
