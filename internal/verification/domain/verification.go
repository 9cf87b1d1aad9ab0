// Package domain defines elevated-access verification requests.
//
// A verification request is a human approval gate in front of sensitive
// operations. A principal asks for an access level, a different principal
// approves or rejects it, and the decision only counts while the request's
// validity window is open. The status machine is forward-only: once a request
// leaves pending it never comes back.
package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Status tracks a verification request's lifecycle.
type Status string

const (
	// StatusPending awaits an approver decision.
	StatusPending Status = "pending"
	// StatusApproved grants the requested access level until ExpiresAt.
	StatusApproved Status = "approved"
	// StatusRejected is a terminal deny.
	StatusRejected Status = "rejected"
	// StatusExpired is set by the sweep when a pending request outlives its TTL.
	StatusExpired Status = "expired"
)

// Request is one elevated-access verification request.
type Request struct {
	ID          uuid.UUID
	PrincipalID uuid.UUID
	// Purpose is the requester's free-form justification.
	Purpose string
	// AccessLevel names what the approval unlocks, matched against the
	// elevated path configuration.
	AccessLevel  string
	DeviceInfo   string
	LocationInfo string
	Status       Status
	// ApproverID is set on approval or rejection. Never the requester.
	ApproverID  *uuid.UUID
	RequestedAt time.Time
	// ExpiresAt bounds both the pending window and, after approval, how long
	// the grant is usable.
	ExpiresAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPending reports whether the request still awaits a decision at the given
// instant. A pending request past its deadline is expired even if the sweep
// has not observed it yet.
func (r *Request) IsPending(now time.Time) bool {
	return r.Status == StatusPending && now.Before(r.ExpiresAt)
}

// StatusAt resolves the effective status at the given instant. A pending
// request past its deadline reads as expired before the sweep persists the
// transition.
func (r *Request) StatusAt(now time.Time) Status {
	if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// GrantsAt reports whether the request authorizes its access level at the
// given instant.
func (r *Request) GrantsAt(now time.Time) bool {
	return r.Status == StatusApproved && now.Before(r.ExpiresAt)
}

// RequestInput carries the fields for a new verification request.
type RequestInput struct {
	PrincipalID  uuid.UUID
	Purpose      string
	AccessLevel  string
	DeviceInfo   string
	LocationInfo string
}

var (
	// ErrVerificationNotFound indicates the request does not exist.
	ErrVerificationNotFound = apperrors.Wrap(apperrors.ErrNotFound, "verification request not found")

	// ErrExpired indicates the request's validity window has closed.
	ErrExpired = apperrors.Wrap(apperrors.ErrForbidden, "verification request expired")

	// ErrAlreadyDecided indicates the request already left the pending state.
	ErrAlreadyDecided = apperrors.Wrap(apperrors.ErrConflict, "verification request already decided")

	// ErrSelfApproval indicates the requester tried to decide their own request.
	ErrSelfApproval = apperrors.Wrap(apperrors.ErrForbidden, "principal cannot approve their own request")
)
