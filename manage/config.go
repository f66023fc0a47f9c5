// Package manage implements the grant, session, and token lifecycle engine:
// code issuance and single-use redemption, PKCE verification, session
// rotation with replay detection, claim validation side effects, and scope
// and resource negotiation.
package manage

import "time"

// Config carries the server-level policy the engine validates against. It is
// passed by value at construction; components never read global state.
type Config struct {
	// Issuer is the value of the iss claim on every issued token and the
	// exact string required of presented tokens.
	Issuer string

	// DefaultAudience is the aud claim used when a grant carries no
	// resource indicators.
	DefaultAudience string

	// ScopeAllowlist enumerates every scope token the server will grant.
	// ScopeDisplayNames is consent-screen metadata keyed by scope token.
	ScopeAllowlist    []string
	ScopeDisplayNames map[string]string

	// ResourceAllowlist enumerates every resource indicator the server will
	// bind tokens to. ResourceDisplayNames is keyed by resource URI.
	ResourceAllowlist    []string
	ResourceDisplayNames map[string]string

	// Token durations used when a client does not override them.
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration

	// GrantTTL bounds how long an authorization code stays redeemable.
	GrantTTL time.Duration

	// RequireScope and RequireResource reject requests whose effective
	// scope or resource set would be empty.
	RequireScope    bool
	RequireResource bool

	// AllowPlainPKCE permits the discouraged plain code challenge method.
	AllowPlainPKCE bool
}

// DefaultConfig returns a Config with conventional lifetimes. Issuer,
// audience, and allowlists must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 24 * time.Hour,
		GrantTTL:             5 * time.Minute,
	}
}

func (c Config) accessDuration(clientOverride time.Duration) time.Duration {
	if clientOverride > 0 {
		return clientOverride
	}
	return c.AccessTokenDuration
}

func (c Config) refreshDuration(clientOverride time.Duration) time.Duration {
	if clientOverride > 0 {
		return clientOverride
	}
	return c.RefreshTokenDuration
}

func (c Config) scopeAllowed(tok string) bool {
	for _, s := range c.ScopeAllowlist {
		if s == tok {
			return true
		}
	}
	return false
}

func (c Config) resourceAllowed(uri string) bool {
	for _, r := range c.ResourceAllowlist {
		if r == uri {
			return true
		}
	}
	return false
}

// audienceAllowed reports whether an aud claim member is one the server
// could have issued: the default audience or any allowlisted resource.
func (c Config) audienceAllowed(aud string) bool {
	if aud == c.DefaultAudience && aud != "" {
		return true
	}
	return c.resourceAllowed(aud)
}
