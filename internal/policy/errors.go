package policy

import (
	"fmt"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// ViolationReason identifies which tier policy rule a request violated.
// Reasons are recorded in the audit trail; callers only see a generic deny.
type ViolationReason string

const (
	ReasonRedirectURI ViolationReason = "redirect_uri"
	ReasonIP          ViolationReason = "ip"
	ReasonGeo         ViolationReason = "geo"
	ReasonConcurrency ViolationReason = "concurrency"
	ReasonMFAStale    ViolationReason = "mfa_stale"
)

// ViolationError reports a tier policy violation. It unwraps to ErrForbidden
// so handlers map it to a 403 without leaking the internal reason.
type ViolationError struct {
	Reason ViolationReason
	Tier   Tier
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("tier policy violation (%s, tier %s)", e.Reason, e.Tier)
}

// Unwrap makes the violation match errors.Is(err, apperrors.ErrForbidden).
func (e *ViolationError) Unwrap() error {
	return apperrors.ErrForbidden
}

// NewViolation creates a ViolationError for the given reason and tier.
func NewViolation(reason ViolationReason, tier Tier) *ViolationError {
	return &ViolationError{Reason: reason, Tier: tier}
}
