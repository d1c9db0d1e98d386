package gate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/store"
)

// refreshState is the persisted gate record. The legacy fields carry
// the old timer-based backoff format forward; they are migrated on
// first load and never written back.
type refreshState struct {
	Blocked     bool                    `json:"blocked"`
	Fingerprint *credential.Fingerprint `json:"fingerprint,omitempty"`
	LastCheckAt time.Time               `json:"last_check_at"`

	// Legacy backoff format.
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	FailureCount int        `json:"failure_count,omitempty"`
}

// RefreshGate blocks repeated credential-refresh attempts against the
// same broken credential. States: open (attempts allowed) -> blocked
// (terminal, no expiry) -> open again only on a fingerprint change or
// an explicit success.
type RefreshGate struct {
	mu       sync.Mutex
	provider provider.ID
	store    store.StateStore
	fp       credential.Fingerprinter

	loaded bool
	state  refreshState
}

func NewRefreshGate(id provider.ID, st store.StateStore, fp credential.Fingerprinter) *RefreshGate {
	return &RefreshGate{provider: id, store: st, fp: fp}
}

func (g *RefreshGate) key() string {
	return "gate/refresh/" + string(g.provider)
}

// load reads persisted state once, migrating any legacy timer-based
// record: an expiry already in the past means not blocked; an expiry in
// the future or a prior failure count means terminally blocked with an
// unknown fingerprint, so the first fingerprint observation unblocks.
func (g *RefreshGate) load(ctx context.Context) {
	if g.loaded {
		return
	}
	g.loaded = true

	data, ok, err := g.store.Get(ctx, g.key())
	if err != nil {
		log.WithError(err).WithField("provider", g.provider).Warn("failed to load refresh gate state")
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(data, &g.state); err != nil {
		log.WithError(err).WithField("provider", g.provider).Warn("corrupt refresh gate state, resetting")
		g.state = refreshState{}
		return
	}

	if g.state.BlockedUntil != nil || g.state.FailureCount > 0 {
		migratedBlocked := g.state.FailureCount > 0
		if g.state.BlockedUntil != nil && g.state.BlockedUntil.After(time.Now()) {
			migratedBlocked = true
		}
		g.state = refreshState{Blocked: migratedBlocked}
		g.persist(ctx)
		log.WithFields(log.Fields{
			"provider": g.provider,
			"blocked":  migratedBlocked,
		}).Info("migrated legacy refresh gate state")
	}
}

func (g *RefreshGate) persist(ctx context.Context) {
	data, err := json.Marshal(g.state)
	if err != nil {
		return
	}
	if err := g.store.Set(ctx, g.key(), data); err != nil {
		log.WithError(err).WithField("provider", g.provider).Warn("failed to persist refresh gate state")
	}
}

// ShouldAttempt reports whether a refresh attempt is permitted at now.
// When blocked it re-derives the fingerprint, at most once per
// FingerprintRecheckInterval, and unblocks if the credential changed,
// including the was-unknown-now-known case.
func (g *RefreshGate) ShouldAttempt(ctx context.Context, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)

	if !g.state.Blocked {
		return true
	}

	if now.Sub(g.state.LastCheckAt) < FingerprintRecheckInterval {
		return false
	}
	g.state.LastCheckAt = now

	var current credential.Fingerprint
	if g.fp != nil {
		current = g.fp.Fingerprint(ctx, g.provider)
	}

	var captured credential.Fingerprint
	if g.state.Fingerprint != nil {
		captured = *g.state.Fingerprint
	}

	if !current.Equal(captured) {
		log.WithField("provider", g.provider).Info("credential fingerprint changed, unblocking refresh gate")
		g.state.Blocked = false
		g.state.Fingerprint = nil
		g.persist(ctx)
		return true
	}

	g.persist(ctx)
	return false
}

// RecordAuthFailure transitions to the terminal blocked state,
// capturing the current fingerprint best-effort (it may be unknown).
func (g *RefreshGate) RecordAuthFailure(ctx context.Context, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)

	var fp credential.Fingerprint
	if g.fp != nil {
		fp = g.fp.Fingerprint(ctx, g.provider)
	}
	g.state = refreshState{
		Blocked:     true,
		Fingerprint: &fp,
		LastCheckAt: now,
	}
	g.persist(ctx)
}

// RecordSuccess unconditionally clears the blocked state.
func (g *RefreshGate) RecordSuccess(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)

	if !g.state.Blocked && g.state.Fingerprint == nil {
		return
	}
	g.state = refreshState{}
	if err := g.store.Delete(ctx, g.key()); err != nil {
		log.WithError(err).WithField("provider", g.provider).Warn("failed to clear refresh gate state")
	}
}

// Blocked reports the current state without side effects.
func (g *RefreshGate) Blocked(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)
	return g.state.Blocked
}

// ForceRecheck zeroes the throttle so the next ShouldAttempt re-derives
// the fingerprint immediately. The credential-file watcher calls this
// when it sees an external write.
func (g *RefreshGate) ForceRecheck() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.LastCheckAt = time.Time{}
}
