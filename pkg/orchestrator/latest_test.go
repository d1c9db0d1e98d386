package orchestrator

import (
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

func result(id provider.ID, used float64, at time.Time) provider.UsageResult {
	return provider.UsageResult{
		Provider: id,
		Source:   "test",
		Snapshot: &provider.UsageSnapshot{
			Windows:   []provider.RateWindow{{Label: "session", UsedPercent: used, Duration: 5 * time.Hour}},
			FetchedAt: at,
		},
	}
}

func TestLatestProjectionKeepsLastGood(t *testing.T) {
	p := NewLatestProjection()
	now := time.Now()

	p.Update(result(provider.Claude, 10, now))
	p.Update(result(provider.Claude, 20, now.Add(time.Minute)))

	got := p.Get(provider.Claude)
	if got == nil || got.Snapshot.Windows[0].UsedPercent != 20 {
		t.Fatalf("latest: got %+v", got)
	}
	if p.Get(provider.Codex) != nil {
		t.Error("unseen provider should have no result")
	}

	// Failed results never replace good data.
	p.Update(provider.UsageResult{Provider: provider.Claude, Err: errFake})
	if got := p.Get(provider.Claude); got == nil || got.Err != nil {
		t.Error("failed update overwrote the last good result")
	}
}

var errFake = &provider.Error{Kind: provider.KindTransient}

func TestLatestProjectionDepletionForecast(t *testing.T) {
	p := NewLatestProjection()
	now := time.Now()

	// 1% per minute, currently at 80%.
	for i := 0; i <= 10; i++ {
		p.Update(result(provider.Claude, 70+float64(i), now.Add(time.Duration(i)*time.Minute)))
	}

	dep, ok := p.Depletion(provider.Claude, now.Add(10*time.Minute))
	if !ok {
		t.Fatal("expected a depletion forecast")
	}
	// 20% remaining at 1%/min: roughly 20 minutes out.
	want := now.Add(30 * time.Minute)
	if diff := dep.At.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("depletion at %v, want ~%v", dep.At, want)
	}

	if _, ok := p.Depletion(provider.Codex, now); ok {
		t.Error("no history should yield no forecast")
	}
}

func TestLatestProjectionAll(t *testing.T) {
	p := NewLatestProjection()
	now := time.Now()
	p.Update(result(provider.Claude, 10, now))
	p.Update(result(provider.Gemini, 30, now))

	all := p.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 results, got %d", len(all))
	}
	if all[provider.Claude] == nil || all[provider.Gemini] == nil {
		t.Errorf("missing providers: %v", all)
	}
}
