package gate

import "sync"

// FailureGate decides whether a fetch failure is worth showing. A
// single transient error should not blank out previously shown usage
// data; only a sustained run of failures should. The counter lives in
// memory only: after a restart there is no prior snapshot to protect,
// so the first failure surfaces anyway.
type FailureGate struct {
	mu          sync.Mutex
	consecutive int
}

func NewFailureGate() *FailureGate {
	return &FailureGate{}
}

// RecordFailure bumps the consecutive failure counter.
func (g *FailureGate) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive++
}

// RecordSuccess resets the counter.
func (g *FailureGate) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecutive = 0
}

// Reset is an alias for RecordSuccess for callers that clear state
// without a fetch (account removal, provider disabled).
func (g *FailureGate) Reset() {
	g.RecordSuccess()
}

// ShouldSurface reports whether the current failure should be shown to
// the user. With no prior successful data there is nothing to protect,
// so the error surfaces immediately.
func (g *FailureGate) ShouldSurface(hadPriorData bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !hadPriorData {
		return true
	}
	return g.consecutive >= SurfaceFailureThreshold
}
