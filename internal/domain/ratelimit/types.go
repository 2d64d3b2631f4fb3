// Package ratelimit provides the gateway's three-tier rate limiting domain:
// a global ceiling, a per-caller tier, and a per-API-key tier, each enforced
// as a fixed window over a shared counter store.
package ratelimit

import (
	"fmt"
	"time"
)

// Tier identifies which of the three cascade stages a check belongs to.
// Tiers are evaluated in ascending order; the first tier to deny the
// request short-circuits the remaining ones.
type Tier string

const (
	// TierGlobal bounds total admitted traffic across all callers.
	TierGlobal Tier = "global"
	// TierCaller bounds traffic attributable to a single caller identity
	// (digested IP or fingerprint when no API key is present).
	TierCaller Tier = "caller"
	// TierKey bounds traffic attributable to a single API key.
	TierKey Tier = "key"
)

// Config defines the fixed-window parameters for one tier.
type Config struct {
	// Limit is the number of requests admitted per Window.
	Limit int
	// Window is the fixed-window duration.
	Window time.Duration
}

// Decision is the outcome of a cascade check against one or more tiers.
type Decision struct {
	// Allowed is true if every evaluated tier admitted the request.
	Allowed bool
	// Tier names the tier that denied the request or, when Allowed, the
	// last tier evaluated. Empty when no tier was evaluated.
	Tier Tier
	// Limit is the configured limit of the deciding tier.
	Limit int
	// Remaining is the number of requests left in the current window of
	// the deciding tier (or, when Allowed, of the last tier checked).
	Remaining int
	// RetryAfter is the duration until the denying tier's window resets.
	// Zero when Allowed.
	RetryAfter time.Duration
	// Reset is the wall-clock time at which the deciding tier's window
	// resets, for emitting X-RateLimit-Reset. Zero value if no tier was
	// evaluated (all tiers disabled).
	Reset time.Time
}

// keyPrefix namespaces every counter key this gateway writes, so the shared
// store can be reused by other tenants of the same Redis deployment.
const keyPrefix = "firewall:ratelimit"

// FormatKey returns the structured counter key for a tier and identifier.
// Format: "firewall:ratelimit:{tier}:{value}"
func FormatKey(tier Tier, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, tier, value)
}
