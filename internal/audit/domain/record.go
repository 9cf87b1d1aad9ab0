// Package domain defines the append-only audit record model.
//
// Every access decision the gateway makes is recorded: which pipeline stage
// decided, the outcome, and a machine-readable reason. Records are HMAC-signed
// so tampering with stored history is detectable, and they are never updated
// or deleted on the request path.
package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Stage identifies which pipeline stage produced a decision.
type Stage string

const (
	StageEdge         Stage = "edge"
	StageAuthenticate Stage = "authenticate"
	StagePolicy       Stage = "policy"
	StageSession      Stage = "session"
	StageRateLimit    Stage = "rate_limit"
	StageVerification Stage = "verification"
	StageForward      Stage = "forward"
)

// Decision is the outcome of a stage.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Record is one append-only audit entry.
type Record struct {
	ID       uuid.UUID
	Stage    Stage
	Decision Decision
	// ReasonCode is a stable machine-readable code, e.g. "token_expired" or
	// "policy_violation_geo". Allow decisions use "ok".
	ReasonCode  string
	PrincipalID *uuid.UUID
	SessionID   *uuid.UUID
	Tier        string
	// RequestID is the gateway's per-request correlation id.
	RequestID string
	Method    string
	Path      string
	ClientIP  string
	// Fingerprint summarizes the request (method, path, IP, request id) for
	// correlation without storing payloads.
	Fingerprint string
	Signature   []byte
	CreatedAt   time.Time
}

// HasSignature reports whether the record carries a signature.
func (r *Record) HasSignature() bool {
	return len(r.Signature) > 0
}

var (
	// ErrSignatureInvalid indicates a stored record failed signature
	// verification, meaning it was tampered with or signed by another key.
	ErrSignatureInvalid = apperrors.New("audit record signature invalid")
)
