package accounts

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

// scriptedFetcher returns a canned snapshot or error per account label.
type scriptedFetcher struct {
	snapshots map[string]*provider.UsageSnapshot
	errs      map[string]error
}

func (f *scriptedFetcher) FetchAccount(ctx context.Context, id provider.ID, acct Account) (*provider.UsageSnapshot, error) {
	if err := f.errs[acct.Label]; err != nil {
		return nil, err
	}
	return f.snapshots[acct.Label], nil
}

func snap(used float64, resetsAt time.Time) *provider.UsageSnapshot {
	return &provider.UsageSnapshot{
		Windows: []provider.RateWindow{
			{Label: "session", UsedPercent: used, Duration: 5 * time.Hour, ResetsAt: resetsAt},
		},
		FetchedAt: time.Now().UTC(),
	}
}

func TestRefreshAllMergesSuccessfulAccounts(t *testing.T) {
	now := time.Now().UTC()
	early := now.Add(time.Hour)
	late := now.Add(3 * time.Hour)

	accts := []Account{
		{ID: "1", Label: "work"},
		{ID: "2", Label: "personal"},
		{ID: "3", Label: "broken"},
	}
	f := &scriptedFetcher{
		snapshots: map[string]*provider.UsageSnapshot{
			"work":     snap(40, late),
			"personal": snap(80, early),
		},
		errs: map[string]error{
			"broken": errors.New("token revoked"),
		},
	}

	merged, results := RefreshAll(context.Background(), provider.Claude, accts, f)
	if merged == nil {
		t.Fatal("expected a merged snapshot")
	}

	if len(merged.Windows) != 1 {
		t.Fatalf("expected one merged window, got %d", len(merged.Windows))
	}
	w := merged.Windows[0]
	if math.Abs(w.UsedPercent-60) > 0.001 {
		t.Errorf("averaged used percent: got %f, want 60", w.UsedPercent)
	}
	if !w.ResetsAt.Equal(early) {
		t.Errorf("merged resetsAt: got %v, want soonest %v", w.ResetsAt, early)
	}
	if merged.Identity != "2 of 3 accounts" {
		t.Errorf("identity: got %q", merged.Identity)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 per-account results, got %d", len(results))
	}
	for _, res := range results {
		if res.Label == "broken" {
			if !strings.Contains(res.Error, "token revoked") {
				t.Errorf("broken account missing error text: %q", res.Error)
			}
			if res.Snapshot != nil {
				t.Error("failed account should carry no snapshot")
			}
		} else if res.Error != "" {
			t.Errorf("account %s unexpectedly failed: %s", res.Label, res.Error)
		}
	}
}

func TestRefreshAllAllSucceed(t *testing.T) {
	accts := []Account{{ID: "1", Label: "a"}, {ID: "2", Label: "b"}}
	f := &scriptedFetcher{snapshots: map[string]*provider.UsageSnapshot{
		"a": snap(10, time.Time{}),
		"b": snap(30, time.Time{}),
	}}

	merged, _ := RefreshAll(context.Background(), provider.Codex, accts, f)
	if merged == nil {
		t.Fatal("expected a merged snapshot")
	}
	if merged.Identity != "All 2 accounts" {
		t.Errorf("identity: got %q", merged.Identity)
	}
}

func TestRefreshAllAllFail(t *testing.T) {
	accts := []Account{{ID: "1", Label: "a"}}
	f := &scriptedFetcher{errs: map[string]error{"a": errors.New("down")}}

	merged, results := RefreshAll(context.Background(), provider.Claude, accts, f)
	if merged != nil {
		t.Error("no successes should yield no merged snapshot")
	}
	if len(results) != 1 || results[0].Error == "" {
		t.Errorf("expected the failure in results, got %+v", results)
	}
}

func TestRefreshAllDisjointWindows(t *testing.T) {
	// Accounts on different plans can report different window sets; each
	// window averages over the accounts that reported it.
	accts := []Account{{ID: "1", Label: "a"}, {ID: "2", Label: "b"}}
	f := &scriptedFetcher{snapshots: map[string]*provider.UsageSnapshot{
		"a": {Windows: []provider.RateWindow{
			{Label: "session", UsedPercent: 50},
			{Label: "weekly", UsedPercent: 20},
		}},
		"b": {Windows: []provider.RateWindow{
			{Label: "session", UsedPercent: 70},
		}},
	}}

	merged, _ := RefreshAll(context.Background(), provider.Claude, accts, f)
	if merged == nil {
		t.Fatal("expected a merged snapshot")
	}
	byLabel := map[string]float64{}
	for _, w := range merged.Windows {
		byLabel[w.Label] = w.UsedPercent
	}
	if got := byLabel["session"]; math.Abs(got-60) > 0.001 {
		t.Errorf("session: got %f, want 60", got)
	}
	if got := byLabel["weekly"]; math.Abs(got-20) > 0.001 {
		t.Errorf("weekly: got %f, want 20 (single reporter)", got)
	}
}
