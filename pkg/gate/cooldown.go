package gate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/store"
)

const cooldownKey = "gate/access"

type cooldownState struct {
	DeniedUntil time.Time `json:"denied_until"`
}

// CooldownGate blocks interactive secure-storage prompts for a fixed
// window after the user (or the platform) denies one. One gate covers
// the whole process: a denial is about the user's patience, not about
// any single provider.
type CooldownGate struct {
	mu    sync.Mutex
	store store.StateStore

	// Disabled is the global kill switch: when set, prompts are never
	// allowed regardless of cooldown state.
	Disabled bool

	loaded bool
	state  cooldownState
}

func NewCooldownGate(st store.StateStore) *CooldownGate {
	return &CooldownGate{store: st}
}

func (g *CooldownGate) load(ctx context.Context) {
	if g.loaded {
		return
	}
	g.loaded = true

	data, ok, err := g.store.Get(ctx, cooldownKey)
	if err != nil {
		log.WithError(err).Warn("failed to load access cooldown state")
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(data, &g.state); err != nil {
		log.WithError(err).Warn("corrupt access cooldown state, resetting")
		g.state = cooldownState{}
	}
}

// ShouldAllowPrompt reports whether an interactive prompt may be shown
// at now.
func (g *CooldownGate) ShouldAllowPrompt(ctx context.Context, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)

	if g.Disabled {
		return false
	}
	return !now.Before(g.state.DeniedUntil)
}

// RecordDenied starts (or restarts) the cooldown window at now.
func (g *CooldownGate) RecordDenied(ctx context.Context, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.load(ctx)

	g.state.DeniedUntil = now.Add(AccessCooldown)
	data, err := json.Marshal(g.state)
	if err != nil {
		return
	}
	if err := g.store.Set(ctx, cooldownKey, data); err != nil {
		log.WithError(err).Warn("failed to persist access cooldown state")
	}
	log.WithField("until", g.state.DeniedUntil).Info("secure-storage prompts on cooldown")
}
