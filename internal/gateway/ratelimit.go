package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// limiterStore holds per-principal rate limiters with automatic cleanup.
type limiterStore struct {
	limiters sync.Map // map[uuid.UUID]*limiterEntry
}

// limiterEntry holds a rate limiter, its configured rate, and last access
// time for cleanup. The rate is kept so a tier change rebuilds the limiter.
type limiterEntry struct {
	limiter    *rate.Limiter
	perMinute  int
	lastAccess time.Time
	mu         sync.Mutex
}

// RateLimit enforces the tier bundle's per-minute request budget per principal.
//
// Must run after Authenticate. Uses a token bucket per principal via
// golang.org/x/time/rate, sized from the principal's tier bundle, with burst
// capacity of one tenth of the minute budget. Exceeding the budget returns
// 429 with a Retry-After header and an audit deny record.
func (p *Pipeline) RateLimit() gin.HandlerFunc {
	store := &limiterStore{}
	go store.cleanupStale(context.Background(), 5*time.Minute)

	return func(c *gin.Context) {
		if !p.config.RateLimitEnabled {
			c.Next()
			return
		}

		principal, ok := GetPrincipal(c.Request.Context())
		if !ok {
			p.deny(c, auditDomain.StageRateLimit, "principal_missing", apperrors.ErrUnauthorized)
			return
		}

		bundle := p.policyEngine.Resolve(principal.Tier)
		limiter := store.getLimiter(principal.ID, bundle.RequestsPerMinute)

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := int(reservation.Delay().Seconds())
			reservation.Cancel()

			record := &auditDomain.Record{
				Stage:      auditDomain.StageRateLimit,
				Decision:   auditDomain.DecisionDeny,
				ReasonCode: "rate_limit_exceeded",
				Method:     c.Request.Method,
				Path:       c.Request.URL.Path,
				ClientIP:   c.ClientIP(),
			}
			p.annotate(c, record)
			p.recorder.Record(c.Request.Context(), record)

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please retry after the specified delay.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// getLimiter retrieves or creates a rate limiter for a principal at the given
// per-minute budget.
func (s *limiterStore) getLimiter(principalID uuid.UUID, perMinute int) *rate.Limiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}

	if val, ok := s.limiters.Load(principalID); ok {
		entry := val.(*limiterEntry)
		entry.mu.Lock()
		if entry.perMinute == perMinute {
			entry.lastAccess = time.Now()
			entry.mu.Unlock()
			return entry.limiter
		}
		entry.mu.Unlock()
	}

	limiter := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	entry := &limiterEntry{
		limiter:    limiter,
		perMinute:  perMinute,
		lastAccess: time.Now(),
	}
	s.limiters.Store(principalID, entry)
	return limiter
}

// cleanupStale removes rate limiters that haven't been accessed recently.
func (s *limiterStore) cleanupStale(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-interval)
			s.limiters.Range(func(key, val any) bool {
				entry := val.(*limiterEntry)
				entry.mu.Lock()
				stale := entry.lastAccess.Before(cutoff)
				entry.mu.Unlock()
				if stale {
					s.limiters.Delete(key)
				}
				return true
			})
		}
	}
}
