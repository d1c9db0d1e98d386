package accounts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

// Fetcher obtains a usage snapshot for one specific account.
type Fetcher interface {
	FetchAccount(ctx context.Context, id provider.ID, acct Account) (*provider.UsageSnapshot, error)
}

// AccountResult is the per-account outcome of an aggregate refresh.
// Failed accounts carry their error text for UI display while staying
// out of the merged numbers.
type AccountResult struct {
	AccountID string                  `json:"account_id"`
	Label     string                  `json:"label"`
	Snapshot  *provider.UsageSnapshot `json:"snapshot,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// RefreshAll fetches every account concurrently with independent error
// isolation and merges the successful snapshots: usedPercent averaged
// per window label, soonest resetsAt wins. One account failing must not
// fail the batch.
func RefreshAll(ctx context.Context, id provider.ID, accts []Account, f Fetcher) (*provider.UsageSnapshot, []AccountResult) {
	results := make([]AccountResult, len(accts))

	var wg sync.WaitGroup
	for i, acct := range accts {
		wg.Add(1)
		go func(i int, acct Account) {
			defer wg.Done()
			res := AccountResult{AccountID: acct.ID, Label: acct.Label}
			snap, err := f.FetchAccount(ctx, id, acct)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Snapshot = snap
			}
			results[i] = res
		}(i, acct)
	}
	wg.Wait()

	merged := merge(id, results, len(accts))
	return merged, results
}

type windowAccum struct {
	label    string
	sum      float64
	count    int
	resetsAt time.Time
	duration time.Duration
	order    int
}

func merge(id provider.ID, results []AccountResult, total int) *provider.UsageSnapshot {
	accums := make(map[string]*windowAccum)
	succeeded := 0

	for _, res := range results {
		if res.Snapshot == nil {
			continue
		}
		succeeded++
		for _, w := range res.Snapshot.Windows {
			acc, ok := accums[w.Label]
			if !ok {
				acc = &windowAccum{label: w.Label, order: len(accums)}
				accums[w.Label] = acc
			}
			acc.sum += w.UsedPercent
			acc.count++
			if acc.duration == 0 {
				acc.duration = w.Duration
			}
			if !w.ResetsAt.IsZero() && (acc.resetsAt.IsZero() || w.ResetsAt.Before(acc.resetsAt)) {
				acc.resetsAt = w.ResetsAt
			}
		}
	}

	if succeeded == 0 {
		return nil
	}

	windows := make([]provider.RateWindow, len(accums))
	for _, acc := range accums {
		windows[acc.order] = provider.RateWindow{
			Label:       acc.label,
			UsedPercent: acc.sum / float64(acc.count),
			Duration:    acc.duration,
			ResetsAt:    acc.resetsAt,
		}
	}

	identity := fmt.Sprintf("All %d accounts", total)
	if succeeded < total {
		identity = fmt.Sprintf("%d of %d accounts", succeeded, total)
	}

	return &provider.UsageSnapshot{
		Windows:   windows,
		Identity:  identity,
		FetchedAt: time.Now().UTC(),
	}
}
