// Package domain defines the principal domain model.
//
// A principal is an authenticated identity known to the gateway. Principals are
// created on first successful credential validation (just-in-time provisioning
// for federated sign-ins), mutated as their verification level changes, and
// deactivated rather than deleted.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/sallyport/gateway/internal/policy"
)

// TrustScore bounds.
const (
	MinTrustScore = 0
	MaxTrustScore = 100

	// DefaultTrustScore is assigned to newly provisioned principals.
	DefaultTrustScore = 50
)

// Principal represents an authenticated identity known to the gateway.
type Principal struct {
	ID                    uuid.UUID   // Unique identifier (UUIDv7)
	ExternalSubject       string      // Federated subject identifier (OIDC sub / SAML NameID), empty for local clients
	Tier                  policy.Tier // Membership tier, assigned externally and read-only to the gateway
	VerifiedEmail         bool
	VerifiedPaymentMethod bool
	TrustScore            int      // 0..100
	IsActive              bool     // Deactivated principals never authenticate; rows are never deleted
	RegisteredIPs         []string // IPs auto-registered under the tier's IP restriction cap
	RedirectURIs          []string // Redirect URIs registered for authorization-code flows
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ClampTrustScore forces the trust score into the valid range.
func (p *Principal) ClampTrustScore() {
	if p.TrustScore < MinTrustScore {
		p.TrustScore = MinTrustScore
	}
	if p.TrustScore > MaxTrustScore {
		p.TrustScore = MaxTrustScore
	}
}

// ProvisionInput carries the mapped claims used to create or update a principal
// on a federated sign-in.
type ProvisionInput struct {
	ExternalSubject string
	EmailVerified   bool
	Tier            policy.Tier // Zero value means "use the configured default tier"
}
