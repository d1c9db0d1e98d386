package orchestrator

import (
	"sync"

	"github.com/quotabar/quotabar/pkg/provider"
)

// flight tracks one in-progress refresh so concurrent requests for the
// same provider coalesce onto it instead of running in parallel.
// Running twice risks duplicate interactive prompts or consuming a
// one-time-use refresh token twice.
type flight struct {
	done   chan struct{}
	result provider.UsageResult
}

type inflight struct {
	mu      sync.Mutex
	flights map[provider.ID]*flight
}

func newInflight() *inflight {
	return &inflight{flights: make(map[provider.ID]*flight)}
}

// do runs fn for id, or waits for the in-flight run and shares its
// result. Exactly one fn executes per provider at a time.
func (c *inflight) do(id provider.ID, fn func() provider.UsageResult) provider.UsageResult {
	c.mu.Lock()
	if f := c.flights[id]; f != nil {
		c.mu.Unlock()
		<-f.done
		return f.result
	}
	f := &flight{done: make(chan struct{})}
	c.flights[id] = f
	c.mu.Unlock()

	f.result = fn()

	c.mu.Lock()
	delete(c.flights, id)
	c.mu.Unlock()
	close(f.done)

	return f.result
}
