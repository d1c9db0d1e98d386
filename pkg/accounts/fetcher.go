package accounts

import (
	"context"
	"fmt"

	"github.com/quotabar/quotabar/pkg/provider"
)

// TokenFetcher fetches one account's usage through a provider strategy
// built around the account's stored secret. Build returns nil for
// providers without a token-based strategy; that surfaces as a
// per-account error rather than failing the batch.
type TokenFetcher struct {
	Build func(id provider.ID, secret string) provider.Strategy
	Store *Store
}

func (f *TokenFetcher) FetchAccount(ctx context.Context, id provider.ID, acct Account) (*provider.UsageSnapshot, error) {
	strat := f.Build(id, acct.Secret)
	if strat == nil {
		return nil, fmt.Errorf("no token-based fetch for %s accounts", id)
	}
	if !strat.IsAvailable(ctx) {
		return nil, fmt.Errorf("account %q has no usable secret", acct.Label)
	}

	snap, err := strat.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Identity == "" {
		snap.Identity = acct.Label
	}
	if f.Store != nil {
		// Best effort; a failed stamp must not fail the fetch.
		_ = f.Store.TouchUsed(id, acct.ID)
	}
	return snap, nil
}
