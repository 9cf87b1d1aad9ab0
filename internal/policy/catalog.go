package policy

import (
	"encoding/json"
	"sync/atomic"
	"time"

	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Catalog maps tiers to policy bundles. The table is immutable once built;
// Reload constructs a fresh table and swaps it atomically so in-flight requests
// never observe a half-updated catalog.
type Catalog struct {
	bundles atomic.Pointer[map[Tier]Bundle]
}

// NewCatalog builds a catalog from the built-in defaults with optional JSON
// overrides (a JSON object keyed by tier name; omitted tiers and fields keep
// their defaults).
func NewCatalog(overridesJSON string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(overridesJSON); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve returns the policy bundle for the given tier. Unknown tiers resolve
// to the sapphire bundle, the most restrictive one.
func (c *Catalog) Resolve(tier Tier) Bundle {
	bundles := *c.bundles.Load()
	if bundle, ok := bundles[tier]; ok {
		return bundle
	}
	return bundles[TierSapphire]
}

// Reload rebuilds the catalog from defaults plus the given overrides and swaps
// it in atomically. On validation failure the previous catalog stays active.
func (c *Catalog) Reload(overridesJSON string) error {
	bundles := defaultBundles()

	if overridesJSON != "" {
		var overrides map[string]bundleOverride
		if err := json.Unmarshal([]byte(overridesJSON), &overrides); err != nil {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "malformed policy bundle overrides")
		}

		for name, override := range overrides {
			tier, err := ParseTier(name)
			if err != nil {
				return err
			}
			bundle := bundles[tier]
			if err := override.apply(&bundle); err != nil {
				return err
			}
			bundles[tier] = bundle
		}
	}

	// Reject-on-limit is mandatory for the two highest tiers.
	for _, tier := range []Tier{TierDiamond, TierEmerald} {
		if bundles[tier].Eviction != EvictReject {
			return apperrors.Wrapf(apperrors.ErrInvalidInput,
				"tier %s requires the reject eviction policy", tier)
		}
	}

	c.bundles.Store(&bundles)
	return nil
}

// bundleOverride carries optional per-field overrides for a tier bundle.
// Durations are expressed in explicit units to keep the JSON surface readable.
type bundleOverride struct {
	SessionLimit             *int      `json:"session_limit"`
	SessionTimeoutMinutes    *int      `json:"session_timeout_minutes"`
	IdleTimeoutMinutes       *int      `json:"idle_timeout_minutes"`
	Eviction                 *string   `json:"eviction"`
	MFARequired              *bool     `json:"mfa_required"`
	MFAMinFactors            *int      `json:"mfa_min_factors"`
	MFAReauthIntervalMinutes *int      `json:"mfa_reauth_interval_minutes"`
	RedirectURIMode          *string   `json:"redirect_uri_mode"`
	IPRestriction            *bool     `json:"ip_restriction"`
	MaxIPs                   *int      `json:"max_ips"`
	GeoRestriction           *bool     `json:"geo_restriction"`
	AllowedCountries         *[]string `json:"allowed_countries"`
	SAMLMaxValiditySeconds   *int      `json:"saml_max_validity_seconds"`
	SAMLEncryption           *bool     `json:"saml_encryption"`
	SecretRotationDays       *int      `json:"secret_rotation_days"`
	CertRotationDays         *int      `json:"cert_rotation_days"`
	RequestsPerMinute        *int      `json:"requests_per_minute"`
}

// apply copies the set override fields onto the bundle.
func (o *bundleOverride) apply(b *Bundle) error {
	const day = 24 * time.Hour

	if o.SessionLimit != nil {
		b.SessionLimit = *o.SessionLimit
	}
	if o.SessionTimeoutMinutes != nil {
		b.SessionTimeout = time.Duration(*o.SessionTimeoutMinutes) * time.Minute
	}
	if o.IdleTimeoutMinutes != nil {
		b.IdleTimeout = time.Duration(*o.IdleTimeoutMinutes) * time.Minute
	}
	if o.Eviction != nil {
		switch EvictionPolicy(*o.Eviction) {
		case EvictReject, EvictLRU:
			b.Eviction = EvictionPolicy(*o.Eviction)
		default:
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown eviction policy %q", *o.Eviction)
		}
	}
	if o.MFARequired != nil {
		b.MFARequired = *o.MFARequired
	}
	if o.MFAMinFactors != nil {
		b.MFAMinFactors = *o.MFAMinFactors
	}
	if o.MFAReauthIntervalMinutes != nil {
		b.MFAReauthInterval = time.Duration(*o.MFAReauthIntervalMinutes) * time.Minute
	}
	if o.RedirectURIMode != nil {
		switch RedirectURIMode(*o.RedirectURIMode) {
		case RedirectExact, RedirectSubdomainWildcard, RedirectAny:
			b.RedirectURIMode = RedirectURIMode(*o.RedirectURIMode)
		default:
			return apperrors.Wrapf(apperrors.ErrInvalidInput, "unknown redirect URI mode %q", *o.RedirectURIMode)
		}
	}
	if o.IPRestriction != nil {
		b.IPRestriction = *o.IPRestriction
	}
	if o.MaxIPs != nil {
		b.MaxIPs = *o.MaxIPs
	}
	if o.GeoRestriction != nil {
		b.GeoRestriction = *o.GeoRestriction
	}
	if o.AllowedCountries != nil {
		b.AllowedCountries = *o.AllowedCountries
	}
	if o.SAMLMaxValiditySeconds != nil {
		b.SAMLMaxValidity = time.Duration(*o.SAMLMaxValiditySeconds) * time.Second
	}
	if o.SAMLEncryption != nil {
		b.SAMLEncryption = *o.SAMLEncryption
	}
	if o.SecretRotationDays != nil {
		b.SecretRotation = time.Duration(*o.SecretRotationDays) * day
	}
	if o.CertRotationDays != nil {
		b.CertRotation = time.Duration(*o.CertRotationDays) * day
	}
	if o.RequestsPerMinute != nil {
		b.RequestsPerMinute = *o.RequestsPerMinute
	}
	return nil
}
