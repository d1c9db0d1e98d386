package provider

import (
	"context"
	"sync"
	"time"
)

// MockStrategy is a scriptable strategy for tests and the simulator.
type MockStrategy struct {
	mu        sync.Mutex
	name      string
	available bool
	snapshot  *UsageSnapshot
	err       error
	fallback  bool
	calls     int
}

// NewMockStrategy creates an available mock that succeeds with a single
// half-used session window.
func NewMockStrategy(name string) *MockStrategy {
	return &MockStrategy{
		name:      name,
		available: true,
		snapshot: &UsageSnapshot{
			Windows: []RateWindow{{
				Label:       "session",
				UsedPercent: 50,
				Duration:    5 * time.Hour,
				ResetsAt:    time.Now().Add(5 * time.Hour),
			}},
			Identity:  name,
			FetchedAt: time.Now(),
		},
	}
}

// SetUnavailable makes IsAvailable return false.
func (m *MockStrategy) SetUnavailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = false
}

// FailWith scripts Fetch to return err; fallback controls ShouldFallback.
func (m *MockStrategy) FailWith(err error, fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.fallback = fallback
}

// SucceedWith scripts Fetch to return snap.
func (m *MockStrategy) SucceedWith(snap *UsageSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	m.snapshot = snap
}

// Calls returns how many times Fetch ran.
func (m *MockStrategy) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockStrategy) Name() string { return m.name }

func (m *MockStrategy) IsAvailable(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *MockStrategy) Fetch(ctx context.Context) (*UsageSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *MockStrategy) ShouldFallback(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback {
		return true
	}
	return IsKind(err, KindFallback)
}
