package credential

import (
	"context"
	"sync"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

type cacheEntry struct {
	payload     *Payload
	storedAt    time.Time
	fingerprint Fingerprint
}

// Cache holds decoded credential payloads per provider so strategies do
// not hit the secure store (and its interactive prompts) on every poll.
// Each access re-derives the fingerprint and drops the entry when the
// underlying credential changed out from under us.
type Cache struct {
	mu      sync.Mutex
	entries map[provider.ID]*cacheEntry
	fp      Fingerprinter
	now     func() time.Time
}

func NewCache(fp Fingerprinter) *Cache {
	return &Cache{
		entries: make(map[provider.ID]*cacheEntry),
		fp:      fp,
		now:     time.Now,
	}
}

// Load returns the cached payload for id, or nil when there is none
// worth using: missing, invalidated by a fingerprint change, or expired
// without a refresh token.
func (c *Cache) Load(ctx context.Context, id provider.ID) *Payload {
	if c.InvalidateIfChanged(ctx, id) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	if !e.payload.Usable(c.now()) {
		delete(c.entries, id)
		return nil
	}
	return e.payload
}

// Store caches the payload together with the fingerprint observed now,
// which is the watermark InvalidateIfChanged compares against.
func (c *Cache) Store(ctx context.Context, id provider.ID, p *Payload) {
	if p == nil {
		return
	}
	var fp Fingerprint
	if c.fp != nil {
		fp = c.fp.Fingerprint(ctx, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = &cacheEntry{payload: p, storedAt: c.now(), fingerprint: fp}
}

// InvalidateIfChanged drops the entry for id when the current
// fingerprint differs from the one recorded at store time, and reports
// whether it did, so callers can force a fresh secure-store read.
func (c *Cache) InvalidateIfChanged(ctx context.Context, id provider.ID) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok || c.fp == nil {
		return false
	}

	current := c.fp.Fingerprint(ctx, id)
	if current.Equal(e.fingerprint) {
		return false
	}

	c.mu.Lock()
	// Re-check: a concurrent Store may have replaced the entry while the
	// fingerprint was being derived.
	if cur, ok := c.entries[id]; ok && cur == e {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	return true
}

// Invalidate drops the entry for id unconditionally.
func (c *Cache) Invalidate(id provider.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
