package policy

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

// Engine evaluates tier policy rules against a resolved bundle. All checks are
// pure functions over the bundle plus caller-supplied state; any failed check
// yields a ViolationError and the request is denied before reaching the backend.
type Engine struct {
	catalog *Catalog
}

// NewEngine creates a policy engine backed by the given catalog.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Resolve returns the policy bundle for a tier.
func (e *Engine) Resolve(tier Tier) Bundle {
	return e.catalog.Resolve(tier)
}

// ValidateRedirectURI checks a redirect URI for authorization-code flows against
// the principal's registered URIs under the bundle's matching mode:
//
//   - exact: the URI must match a registered URI byte-for-byte
//   - subdomain-wildcard: the URI may additionally be any subdomain of a
//     registered URI's host, with the same scheme and path
//   - any: unconditional accept
func (e *Engine) ValidateRedirectURI(rawURI string, registered []string, bundle Bundle) error {
	if bundle.RedirectURIMode == RedirectAny {
		return nil
	}

	if slices.Contains(registered, rawURI) {
		return nil
	}

	if bundle.RedirectURIMode == RedirectSubdomainWildcard {
		candidate, err := url.Parse(rawURI)
		if err == nil {
			for _, reg := range registered {
				base, err := url.Parse(reg)
				if err != nil {
					continue
				}
				if matchesSubdomain(candidate, base) {
					return nil
				}
			}
		}
	}

	return NewViolation(ReasonRedirectURI, bundle.Tier)
}

// matchesSubdomain reports whether candidate is a subdomain variant of base:
// same scheme, same path, and a host that is a strict subdomain of base's host.
func matchesSubdomain(candidate, base *url.URL) bool {
	if candidate.Scheme != base.Scheme || candidate.Path != base.Path {
		return false
	}
	candidateHost := strings.ToLower(candidate.Hostname())
	baseHost := strings.ToLower(base.Hostname())
	if candidateHost == baseHost {
		return true
	}
	return strings.HasSuffix(candidateHost, "."+baseHost)
}

// CheckIP enforces the bundle's IP restriction. It returns whether the caller
// should persist the IP as newly registered: new IPs auto-register up to the
// bundle cap, and once at the cap unregistered IPs are denied.
func (e *Engine) CheckIP(ip string, registered []string, bundle Bundle) (register bool, err error) {
	if !bundle.IPRestriction {
		return false, nil
	}
	if slices.Contains(registered, ip) {
		return false, nil
	}
	if len(registered) < bundle.MaxIPs {
		return true, nil
	}
	return false, NewViolation(ReasonIP, bundle.Tier)
}

// CheckGeo enforces the bundle's geo restriction. Country codes are compared
// case-insensitively against the allow-list.
func (e *Engine) CheckGeo(country string, bundle Bundle) error {
	if !bundle.GeoRestriction {
		return nil
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, allowed := range bundle.AllowedCountries {
		if strings.ToUpper(allowed) == country {
			return nil
		}
	}
	return NewViolation(ReasonGeo, bundle.Tier)
}

// MFASatisfied reports whether a sign-in's factor set meets the bundle's
// minimum factor count.
func (e *Engine) MFASatisfied(factors []string, bundle Bundle) bool {
	return len(factors) >= bundle.MFAMinFactors
}

// CheckMFAFreshness denies when the bundle requires MFA and the session's last
// MFA satisfaction is older than the bundle's re-auth interval. A zero
// mfaSatisfiedAt means MFA was never satisfied for the session.
func (e *Engine) CheckMFAFreshness(mfaSatisfiedAt time.Time, now time.Time, bundle Bundle) error {
	if !bundle.MFARequired {
		return nil
	}
	if mfaSatisfiedAt.IsZero() || now.Sub(mfaSatisfiedAt) > bundle.MFAReauthInterval {
		return NewViolation(ReasonMFAStale, bundle.Tier)
	}
	return nil
}
