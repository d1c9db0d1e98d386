package orchestrator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/provider"
)

// Target is one provider to poll, with the source mode it is pinned to
// (usually auto).
type Target struct {
	ID   provider.ID
	Mode provider.SourceMode
}

// Poller drives periodic refreshes. Providers refresh independently and
// concurrently with each other; the orchestrator's single-flight layer
// guarantees at most one in-flight fetch per provider even when a
// manual refresh overlaps the timer.
type Poller struct {
	orch     *Orchestrator
	interval time.Duration

	mu      sync.RWMutex
	targets []Target
}

func NewPoller(orch *Orchestrator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{orch: orch, interval: interval}
}

// SetTargets replaces the polled provider set (config hot reload).
func (p *Poller) SetTargets(targets []Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = make([]Target, len(targets))
	for i, t := range targets {
		if t.Mode == "" {
			t.Mode = provider.ModeAuto
		}
		p.targets[i] = t
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.WithField("interval", p.interval).Info("poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	p.mu.RLock()
	targets := append([]Target(nil), p.targets...)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			res := p.orch.Refresh(ctx, t.ID, t.Mode)
			if res.OK() {
				log.WithFields(log.Fields{
					"provider": t.ID,
					"source":   res.Source,
				}).Debug("poll succeeded")
			}
		}(t)
	}
	wg.Wait()
}
