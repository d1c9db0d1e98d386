package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch error. The orchestrator and gates act on the
// kind alone; strategy-specific details stay inside the wrapped error.
type Kind int

const (
	// KindTransient covers network and server errors. Safe to retry on
	// the next poll; never escalates a gate to a terminal block.
	KindTransient Kind = iota

	// KindCredentialInvalid marks expired, revoked or missing refresh
	// material. Escalates the refresh gate to a terminal block.
	KindCredentialInvalid

	// KindInteractiveDenied marks a secure-storage prompt refused by the
	// user or the platform. Escalates the access cooldown gate.
	KindInteractiveDenied

	// KindFallback marks "not logged in here" style failures that leave
	// the next strategy worth trying in auto mode.
	KindFallback

	// KindConfig marks programming or configuration mistakes. Never
	// retried automatically, surfaced immediately.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCredentialInvalid:
		return "credential_invalid"
	case KindInteractiveDenied:
		return "interactive_denied"
	case KindFallback:
		return "fallback"
	case KindConfig:
		return "config"
	}
	return "unknown"
}

// Error is a classified fetch error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// CredentialInvalid wraps err as a dead-credential failure.
func CredentialInvalid(err error) error { return &Error{Kind: KindCredentialInvalid, Err: err} }

// InteractiveDenied wraps err as a refused secure-storage prompt.
func InteractiveDenied(err error) error { return &Error{Kind: KindInteractiveDenied, Err: err} }

// Fallback wraps err as fallback-eligible.
func Fallback(err error) error { return &Error{Kind: KindFallback, Err: err} }

// Config wraps err as a programming/configuration mistake.
func Config(err error) error { return &Error{Kind: KindConfig, Err: err} }

// Fallbackf is shorthand for Fallback(fmt.Errorf(...)).
func Fallbackf(format string, args ...any) error {
	return Fallback(fmt.Errorf(format, args...))
}

// ClassifyKind extracts the classification from err. Unclassified errors
// count as transient: that is the only kind safe to assume, since it
// neither blocks a gate nor skips a strategy that might have worked.
func ClassifyKind(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// FallbackEligible reports whether the next strategy is still worth
// trying after err. Transient and fallback failures are local to one
// strategy; credential, access and config failures are terminal for the
// whole refresh. Strategies delegate their ShouldFallback to this.
func FallbackEligible(err error) bool {
	switch ClassifyKind(err) {
	case KindTransient, KindFallback:
		return true
	}
	return false
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && ClassifyKind(err) == k
}

// FromHTTPStatus classifies a non-2xx status from a provider API.
// 401/403 mean the token is dead, everything else is worth retrying on
// the next poll.
func FromHTTPStatus(status int) error {
	err := fmt.Errorf("HTTP %d", status)
	if status == 401 || status == 403 {
		return CredentialInvalid(err)
	}
	return Transient(err)
}
