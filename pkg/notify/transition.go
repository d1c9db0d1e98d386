// Package notify derives user-facing quota notifications from usage
// readings. The core is a pure transition function: events fire exactly
// once per boundary crossing, never once per poll.
package notify

import (
	"sync"

	"github.com/quotabar/quotabar/pkg/provider"
)

// DepletionEpsilon is the remaining-percent threshold at or below which
// a session window counts as depleted. One percent, so providers that
// never report exactly zero still trigger.
const DepletionEpsilon = 1.0

// Transition is the outcome of comparing two remaining-percent readings.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionDepleted
	TransitionRestored
)

func (t Transition) String() string {
	switch t {
	case TransitionDepleted:
		return "depleted"
	case TransitionRestored:
		return "restored"
	}
	return "none"
}

// Classify compares the previous and current remaining-percent
// readings. Depleted fires only on crossing at-or-below the epsilon
// from above; restored only on crossing back above it. A missing
// reading on either side yields none: without both there is no
// crossing to detect.
func Classify(previous, current *float64) Transition {
	if previous == nil || current == nil {
		return TransitionNone
	}
	prevDepleted := *previous <= DepletionEpsilon
	curDepleted := *current <= DepletionEpsilon
	switch {
	case !prevDepleted && curDepleted:
		return TransitionDepleted
	case prevDepleted && !curDepleted:
		return TransitionRestored
	}
	return TransitionNone
}

// Tracker remembers the last session-window reading per provider and
// applies Classify on each observation.
type Tracker struct {
	mu   sync.Mutex
	last map[provider.ID]float64
	seen map[provider.ID]bool
}

func NewTracker() *Tracker {
	return &Tracker{
		last: make(map[provider.ID]float64),
		seen: make(map[provider.ID]bool),
	}
}

// Observe records the current remaining percent for id (nil when the
// reading is absent) and returns the transition it triggers.
func (t *Tracker) Observe(id provider.ID, remaining *float64) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var previous *float64
	if t.seen[id] {
		v := t.last[id]
		previous = &v
	}

	tr := Classify(previous, remaining)

	if remaining != nil {
		t.last[id] = *remaining
		t.seen[id] = true
	} else {
		delete(t.last, id)
		t.seen[id] = false
	}
	return tr
}
