package provider

import (
	"context"
	"time"
)

// ID identifies a supported provider. The set is closed: adding a provider
// means registering a strategy set for a new ID, nothing else.
type ID string

const (
	Claude  ID = "claude"
	Codex   ID = "codex"
	Gemini  ID = "gemini"
	Copilot ID = "copilot"
)

// All returns the supported providers in display order.
func All() []ID {
	return []ID{Claude, Codex, Gemini, Copilot}
}

// Valid reports whether id names a supported provider.
func (id ID) Valid() bool {
	switch id {
	case Claude, Codex, Gemini, Copilot:
		return true
	}
	return false
}

// SourceMode selects which strategies may run for a refresh.
// ModeAuto tries every registered strategy in priority order; any other
// mode pins a single strategy and disables fallback.
type SourceMode string

const (
	ModeAuto  SourceMode = "auto"
	ModeCLI   SourceMode = "cli"
	ModeOAuth SourceMode = "oauth"
	ModeWeb   SourceMode = "web"
	ModeAPI   SourceMode = "api"
)

// Valid reports whether m is a known source mode.
func (m SourceMode) Valid() bool {
	switch m {
	case ModeAuto, ModeCLI, ModeOAuth, ModeWeb, ModeAPI:
		return true
	}
	return false
}

// RateWindow is one rate-limit window as reported by a provider.
type RateWindow struct {
	// Label distinguishes windows of the same provider ("session", "weekly").
	Label       string        `json:"label"`
	UsedPercent float64       `json:"used_percent"`
	Duration    time.Duration `json:"duration,omitempty"`
	ResetsAt    time.Time     `json:"resets_at,omitempty"`
}

// Remaining returns the unused share of the window in percent, clamped
// to [0, 100].
func (w RateWindow) Remaining() float64 {
	r := 100 - w.UsedPercent
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// UsageSnapshot is one successful usage reading for a provider account.
type UsageSnapshot struct {
	Windows   []RateWindow `json:"windows"`
	Identity  string       `json:"identity,omitempty"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Session returns the shortest-lived window, which drives depletion
// notifications, or nil if the snapshot carries no windows.
func (s *UsageSnapshot) Session() *RateWindow {
	if s == nil || len(s.Windows) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(s.Windows); i++ {
		if s.Windows[i].Duration > 0 && (s.Windows[best].Duration == 0 || s.Windows[i].Duration < s.Windows[best].Duration) {
			best = i
		}
	}
	return &s.Windows[best]
}

// FetchAttempt records one strategy attempt, successful or not, so the
// UI can explain why a fallback happened.
type FetchAttempt struct {
	Strategy string        `json:"strategy"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// UsageResult is the sole contract the presentation layer consumes.
type UsageResult struct {
	Provider ID             `json:"provider"`
	Snapshot *UsageSnapshot `json:"snapshot,omitempty"`
	// Source is the human-readable label of the strategy that produced
	// the snapshot.
	Source   string         `json:"source,omitempty"`
	Attempts []FetchAttempt `json:"attempts"`
	Err      error          `json:"-"`
	// Suppressed is set when the failure should not replace previously
	// shown data (see gate.FailureGate).
	Suppressed bool `json:"suppressed,omitempty"`
}

// OK reports whether the result carries a snapshot.
func (r UsageResult) OK() bool {
	return r.Err == nil && r.Snapshot != nil
}

// Strategy is one concrete way to obtain usage data for a provider.
// Implementations classify their own errors; the orchestrator only ever
// consults ShouldFallback, never error internals.
type Strategy interface {
	// Name is a short human-readable label ("claude cli", "codex oauth").
	Name() string

	// IsAvailable reports whether this strategy has any chance of
	// succeeding right now (credential file present, API key set, ...).
	// It must be cheap and must not prompt the user.
	IsAvailable(ctx context.Context) bool

	// Fetch obtains a usage snapshot. Blocking work must honor ctx.
	Fetch(ctx context.Context) (*UsageSnapshot, error)

	// ShouldFallback reports whether err leaves the next strategy worth
	// trying ("not logged in here") as opposed to terminal for this
	// refresh (auth revoked, malformed request).
	ShouldFallback(err error) bool
}
