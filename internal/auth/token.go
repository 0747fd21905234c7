// Package auth acquires and renews bearer tokens for the proxy.
package auth

import "time"

const (
	// DefaultExpiresIn applies when the token response omits expires_in. Zero or
	// negative values fall to MinLifetime.
	DefaultExpiresIn = time.Hour
	// ExpiryMargin is subtracted from the server-declared lifetime.
	ExpiryMargin = 30 * time.Second
	// MinLifetime is the floor for a freshly issued token.
	MinLifetime = 60 * time.Second
)

// AccessToken is immutable once built; renewal yields a new value.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token should no longer be presented. A zero
// ExpiresAt never expires.
func (t AccessToken) Expired(now time.Time) bool {
	if t.Token == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// ExpiryFor returns issuedAt + max(MinLifetime, expiresIn - ExpiryMargin).
func ExpiryFor(issuedAt time.Time, expiresIn time.Duration) time.Time {
	lifetime := expiresIn - ExpiryMargin
	if lifetime < MinLifetime {
		lifetime = MinLifetime
	}
	return issuedAt.Add(lifetime)
}
