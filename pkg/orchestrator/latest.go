package orchestrator

import (
	"sync"
	"time"

	"github.com/quotabar/quotabar/pkg/notify"
	"github.com/quotabar/quotabar/pkg/provider"
)

// historyCap bounds the per-provider reading history kept for the
// depletion forecast.
const historyCap = 120

// LatestProjection holds the last good snapshot per provider (the data
// the failure gate protects) plus a short reading history feeding the
// depletion estimate.
type LatestProjection struct {
	mu      sync.RWMutex
	results map[provider.ID]*provider.UsageResult
	history map[provider.ID][]notify.UsagePoint
}

func NewLatestProjection() *LatestProjection {
	return &LatestProjection{
		results: make(map[provider.ID]*provider.UsageResult),
		history: make(map[provider.ID][]notify.UsagePoint),
	}
}

// Update records a successful result and extends the reading history.
func (p *LatestProjection) Update(res provider.UsageResult) {
	if !res.OK() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := res
	p.results[res.Provider] = &cp

	if w := res.Snapshot.Session(); w != nil {
		h := append(p.history[res.Provider], notify.UsagePoint{
			Timestamp:   res.Snapshot.FetchedAt,
			UsedPercent: w.UsedPercent,
		})
		if len(h) > historyCap {
			h = h[len(h)-historyCap:]
		}
		p.history[res.Provider] = h
	}
}

// Get returns the last good result for id, or nil.
func (p *LatestProjection) Get(id provider.ID) *provider.UsageResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.results[id]
}

// All returns the last good results keyed by provider.
func (p *LatestProjection) All() map[provider.ID]*provider.UsageResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[provider.ID]*provider.UsageResult, len(p.results))
	for id, res := range p.results {
		out[id] = res
	}
	return out
}

// Depletion projects when the provider's session window runs out, based
// on the recorded history.
func (p *LatestProjection) Depletion(id provider.ID, now time.Time) (notify.Depletion, bool) {
	p.mu.RLock()
	h := p.history[id]
	p.mu.RUnlock()
	return notify.EstimateDepletion(h, now)
}
