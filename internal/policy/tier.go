// Package policy defines membership tiers, per-tier policy bundles, and the
// decision functions the gateway applies after a caller has been authenticated.
//
// The catalog maps each tier to an immutable policy bundle; the engine evaluates
// redirect URI, IP, geo, and MFA freshness rules against a resolved bundle.
package policy

import (
	"strings"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Tier is a membership tier ordered by privilege. Diamond is the highest.
// A principal's tier is assigned externally and is read-only to the gateway.
type Tier string

const (
	TierDiamond  Tier = "diamond"
	TierEmerald  Tier = "emerald"
	TierRuby     Tier = "ruby"
	TierSapphire Tier = "sapphire"
)

// Tiers lists all known tiers in descending privilege order.
var Tiers = []Tier{TierDiamond, TierEmerald, TierRuby, TierSapphire}

// ParseTier converts a string to a Tier. Matching is case-insensitive.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierDiamond:
		return TierDiamond, nil
	case TierEmerald:
		return TierEmerald, nil
	case TierRuby:
		return TierRuby, nil
	case TierSapphire:
		return TierSapphire, nil
	}
	return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown tier %q", s)
}

// Rank returns the privilege rank of the tier: higher means more privileged.
// Unknown tiers rank below sapphire.
func (t Tier) Rank() int {
	switch t {
	case TierDiamond:
		return 4
	case TierEmerald:
		return 3
	case TierRuby:
		return 2
	case TierSapphire:
		return 1
	}
	return 0
}

// AtLeast reports whether the tier is at least as privileged as other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// String returns the tier name.
func (t Tier) String() string {
	return string(t)
}
