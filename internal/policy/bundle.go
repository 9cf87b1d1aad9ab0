package policy

import "time"

// RedirectURIMode controls how redirect URIs are matched for a tier.
type RedirectURIMode string

const (
	// RedirectExact accepts only a URI that exactly matches a registered URI.
	RedirectExact RedirectURIMode = "exact"
	// RedirectSubdomainWildcard accepts any subdomain of a registered URI's host.
	RedirectSubdomainWildcard RedirectURIMode = "subdomain-wildcard"
	// RedirectAny accepts any redirect URI unconditionally.
	RedirectAny RedirectURIMode = "any"
)

// EvictionPolicy controls what happens when a principal hits its session limit.
type EvictionPolicy string

const (
	// EvictReject rejects the newest login attempt. Mandatory for diamond and
	// emerald tiers.
	EvictReject EvictionPolicy = "reject"
	// EvictLRU evicts the least-recently-active session to make room.
	EvictLRU EvictionPolicy = "evict"
)

// Bundle is the enforceable rule set for a tier. Bundles are immutable for the
// lifetime of a catalog generation; reload builds a new catalog and swaps it in.
type Bundle struct {
	Tier              Tier            `json:"tier"`
	SessionLimit      int             `json:"session_limit"`
	SessionTimeout    time.Duration   `json:"session_timeout"`
	IdleTimeout       time.Duration   `json:"idle_timeout"`
	Eviction          EvictionPolicy  `json:"eviction"`
	MFARequired       bool            `json:"mfa_required"`
	MFAMinFactors     int             `json:"mfa_min_factors"`
	MFAReauthInterval time.Duration   `json:"mfa_reauth_interval"`
	RedirectURIMode   RedirectURIMode `json:"redirect_uri_mode"`
	IPRestriction     bool            `json:"ip_restriction"`
	MaxIPs            int             `json:"max_ips"`
	GeoRestriction    bool            `json:"geo_restriction"`
	AllowedCountries  []string        `json:"allowed_countries"`
	SAMLMaxValidity   time.Duration   `json:"saml_max_validity"`
	SAMLEncryption    bool            `json:"saml_encryption"`
	SecretRotation    time.Duration   `json:"secret_rotation"`
	CertRotation      time.Duration   `json:"cert_rotation"`
	RequestsPerMinute int             `json:"requests_per_minute"`
}

// defaultBundles returns the built-in policy bundles. Higher tiers get looser
// redirect matching and more sessions but tighter rotation and MFA cadence.
func defaultBundles() map[Tier]Bundle {
	const day = 24 * time.Hour

	return map[Tier]Bundle{
		TierDiamond: {
			Tier:              TierDiamond,
			SessionLimit:      10,
			SessionTimeout:    12 * time.Hour,
			IdleTimeout:       30 * time.Minute,
			Eviction:          EvictReject,
			MFARequired:       true,
			MFAMinFactors:     2,
			MFAReauthInterval: 4 * time.Hour,
			RedirectURIMode:   RedirectSubdomainWildcard,
			IPRestriction:     false,
			MaxIPs:            0,
			GeoRestriction:    false,
			SAMLMaxValidity:   10 * time.Minute,
			SAMLEncryption:    true,
			SecretRotation:    30 * day,
			CertRotation:      90 * day,
			RequestsPerMinute: 600,
		},
		TierEmerald: {
			Tier:              TierEmerald,
			SessionLimit:      8,
			SessionTimeout:    12 * time.Hour,
			IdleTimeout:       30 * time.Minute,
			Eviction:          EvictReject,
			MFARequired:       true,
			MFAMinFactors:     2,
			MFAReauthInterval: 8 * time.Hour,
			RedirectURIMode:   RedirectSubdomainWildcard,
			IPRestriction:     false,
			MaxIPs:            0,
			GeoRestriction:    false,
			SAMLMaxValidity:   10 * time.Minute,
			SAMLEncryption:    true,
			SecretRotation:    45 * day,
			CertRotation:      180 * day,
			RequestsPerMinute: 300,
		},
		TierRuby: {
			Tier:              TierRuby,
			SessionLimit:      5,
			SessionTimeout:    8 * time.Hour,
			IdleTimeout:       20 * time.Minute,
			Eviction:          EvictLRU,
			MFARequired:       true,
			MFAMinFactors:     1,
			MFAReauthInterval: 12 * time.Hour,
			RedirectURIMode:   RedirectExact,
			IPRestriction:     true,
			MaxIPs:            10,
			GeoRestriction:    false,
			SAMLMaxValidity:   5 * time.Minute,
			SAMLEncryption:    false,
			SecretRotation:    60 * day,
			CertRotation:      365 * day,
			RequestsPerMinute: 120,
		},
		TierSapphire: {
			Tier:              TierSapphire,
			SessionLimit:      3,
			SessionTimeout:    4 * time.Hour,
			IdleTimeout:       15 * time.Minute,
			Eviction:          EvictLRU,
			MFARequired:       false,
			MFAMinFactors:     0,
			MFAReauthInterval: 0,
			RedirectURIMode:   RedirectExact,
			IPRestriction:     true,
			MaxIPs:            3,
			GeoRestriction:    true,
			AllowedCountries:  []string{"US", "CA", "GB", "MX"},
			SAMLMaxValidity:   5 * time.Minute,
			SAMLEncryption:    false,
			SecretRotation:    90 * day,
			CertRotation:      365 * day,
			RequestsPerMinute: 60,
		},
	}
}
