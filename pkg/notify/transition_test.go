package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

func pct(v float64) *float64 { return &v }

func TestTrackerBoundaryCrossings(t *testing.T) {
	// Remaining-percent sequence with the transition each reading should
	// trigger. Repeated depleted readings must not re-fire.
	readings := []float64{10, 0.5, 0, 0, 5, 20}
	want := []Transition{
		TransitionNone,     // first reading, nothing to compare against
		TransitionDepleted, // 0.5 crossed at-or-below the epsilon
		TransitionNone,     // still depleted, no re-fire
		TransitionNone,     // still depleted, no re-fire
		TransitionRestored, // crossed back above
		TransitionNone,     // still fine
	}

	tr := NewTracker()
	for i, r := range readings {
		got := tr.Observe(provider.Claude, pct(r))
		if got != want[i] {
			t.Errorf("reading %d (%.1f%%): got %v, want %v", i, r, got, want[i])
		}
	}
}

func TestTrackerEpsilonBoundary(t *testing.T) {
	tr := NewTracker()
	tr.Observe(provider.Claude, pct(50))

	// Exactly at the epsilon counts as depleted.
	if got := tr.Observe(provider.Claude, pct(DepletionEpsilon)); got != TransitionDepleted {
		t.Errorf("at epsilon: got %v, want depleted", got)
	}
	if got := tr.Observe(provider.Claude, pct(DepletionEpsilon+0.001)); got != TransitionRestored {
		t.Errorf("just above epsilon: got %v, want restored", got)
	}
}

func TestTrackerMissingReadingClearsHistory(t *testing.T) {
	tr := NewTracker()
	tr.Observe(provider.Claude, pct(10))
	tr.Observe(provider.Claude, pct(0))

	// A fetch failure drops the reading; no transition fires.
	if got := tr.Observe(provider.Claude, nil); got != TransitionNone {
		t.Errorf("nil reading: got %v, want none", got)
	}

	// The next reading has nothing to compare against, even though the
	// last real reading was depleted.
	if got := tr.Observe(provider.Claude, pct(50)); got != TransitionNone {
		t.Errorf("reading after gap: got %v, want none", got)
	}
}

func TestTrackerProvidersIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Observe(provider.Claude, pct(10))
	tr.Observe(provider.Codex, pct(50))

	if got := tr.Observe(provider.Claude, pct(0)); got != TransitionDepleted {
		t.Errorf("claude: got %v, want depleted", got)
	}
	if got := tr.Observe(provider.Codex, pct(40)); got != TransitionNone {
		t.Errorf("codex: got %v, want none", got)
	}
}

func TestClassifyMissingSides(t *testing.T) {
	if got := Classify(nil, pct(0)); got != TransitionNone {
		t.Errorf("nil previous: got %v", got)
	}
	if got := Classify(pct(0), nil); got != TransitionNone {
		t.Errorf("nil current: got %v", got)
	}
	if got := Classify(nil, nil); got != TransitionNone {
		t.Errorf("both nil: got %v", got)
	}
}

func TestMessageFor(t *testing.T) {
	resets := time.Date(2026, 3, 1, 14, 30, 0, 0, time.Local)

	msg, ok := MessageFor(provider.Claude, TransitionDepleted, resets)
	if !ok {
		t.Fatal("expected a message for depleted")
	}
	if !strings.Contains(msg.Title, "claude") {
		t.Errorf("title missing provider: %q", msg.Title)
	}
	if !strings.Contains(msg.Body, "14:30") {
		t.Errorf("body missing reset time: %q", msg.Body)
	}

	msg, ok = MessageFor(provider.Claude, TransitionDepleted, time.Time{})
	if !ok {
		t.Fatal("expected a message for depleted without reset time")
	}
	if strings.Contains(msg.Body, "Resets at") {
		t.Errorf("body should omit unknown reset time: %q", msg.Body)
	}

	if _, ok := MessageFor(provider.Claude, TransitionRestored, time.Time{}); !ok {
		t.Error("expected a message for restored")
	}
	if _, ok := MessageFor(provider.Claude, TransitionNone, time.Time{}); ok {
		t.Error("expected no message for none")
	}
}
