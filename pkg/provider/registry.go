package provider

import "sync"

// registration pairs a strategy with the source mode that pins it.
type registration struct {
	mode     SourceMode
	strategy Strategy
}

// Registry holds the ordered strategy sets per provider. Registration
// order is priority order in auto mode: decreasing reliability, then
// increasing user friction.
type Registry struct {
	mu   sync.RWMutex
	sets map[ID][]registration
}

func NewRegistry() *Registry {
	return &Registry{sets: make(map[ID][]registration)}
}

// Register appends a strategy for the given provider and mode. Later
// registrations rank lower in auto mode.
func (r *Registry) Register(id ID, mode SourceMode, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[id] = append(r.sets[id], registration{mode: mode, strategy: s})
}

// Resolve returns the strategies to attempt for (id, mode). Auto mode
// yields the full priority list; a pinned mode yields only the matching
// strategies, so a failure there is never followed by a fallback.
func (r *Registry) Resolve(id ID, mode SourceMode) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Strategy
	for _, reg := range r.sets[id] {
		if mode == ModeAuto || reg.mode == mode {
			out = append(out, reg.strategy)
		}
	}
	return out
}

// Providers returns the IDs with at least one registered strategy, in
// the fixed display order.
func (r *Registry) Providers() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ID
	for _, id := range All() {
		if len(r.sets[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}
