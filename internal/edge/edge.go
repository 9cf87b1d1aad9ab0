// Package edge enforces the edge trust boundary.
//
// The gateway only serves traffic relayed by the trusted edge network. The
// edge attests each request with a transaction ID, the original client IP,
// and a visitor fingerprint; requests missing any of the three are denied
// before credential parsing even starts.
package edge

import (
	"context"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Attestation header names set by the trusted edge.
const (
	HeaderTransactionID = "X-Edge-Transaction-Id"
	HeaderClientIP      = "X-Edge-Client-Ip"
	HeaderVisitor       = "X-Edge-Visitor"

	// HeaderCountry is optional: the edge's GeoIP country code for the
	// client. Absent when the edge could not resolve one.
	HeaderCountry = "X-Edge-Country"
)

// Attestation carries the edge-asserted request provenance.
type Attestation struct {
	TransactionID string
	ClientIP      string
	Visitor       string
	Country       string
}

// ErrTrustMissing indicates a request arrived without complete edge attestation.
var ErrTrustMissing = apperrors.Wrap(apperrors.ErrForbidden, "edge trust headers missing")

// attestationKey is a context key type for storing the edge attestation.
type attestationKey struct{}

// WithAttestation stores the edge attestation in the context.
func WithAttestation(ctx context.Context, attestation *Attestation) context.Context {
	return context.WithValue(ctx, attestationKey{}, attestation)
}

// GetAttestation retrieves the edge attestation from the context.
// Returns (attestation, true) if present, or (nil, false) if not set.
func GetAttestation(ctx context.Context) (*Attestation, bool) {
	attestation, ok := ctx.Value(attestationKey{}).(*Attestation)
	return attestation, ok
}
