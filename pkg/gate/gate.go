// Package gate holds the circuit breakers that keep the fetch pipeline
// from punishing the user: FailureGate suppresses UI noise from
// transient errors, RefreshGate stops retry-storming a dead credential,
// and CooldownGate spaces out interactive secure-storage prompts.
//
// The two persisted gates deliberately avoid time-based backoff. A
// revoked refresh token never starts working on its own, so a blocked
// refresh gate waits for evidence of change (a new credential
// fingerprint or an explicit success), not for a timer.
package gate

import "time"

// Tuned constants. These values shape user-visible prompt frequency and
// were chosen empirically; change them only with that in mind.
const (
	// SurfaceFailureThreshold is how many consecutive failures it takes
	// before an error replaces previously shown usage data.
	SurfaceFailureThreshold = 2

	// FingerprintRecheckInterval throttles how often a blocked refresh
	// gate re-derives the credential fingerprint.
	FingerprintRecheckInterval = 20 * time.Second

	// AccessCooldown is how long interactive secure-storage prompts stay
	// suppressed after a denial.
	AccessCooldown = 6 * time.Hour
)
