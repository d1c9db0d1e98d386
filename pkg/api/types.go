package api

import (
	"time"

	"github.com/quotabar/quotabar/pkg/accounts"
	"github.com/quotabar/quotabar/pkg/provider"
)

// UsageResponse is the wire form of a provider's latest result. Errors
// flatten to a string so the struct survives JSON round trips.
type UsageResponse struct {
	Provider   provider.ID             `json:"provider"`
	Snapshot   *provider.UsageSnapshot `json:"snapshot,omitempty"`
	Source     string                  `json:"source,omitempty"`
	Attempts   []provider.FetchAttempt `json:"attempts,omitempty"`
	Error      string                  `json:"error,omitempty"`
	ErrorKind  string                  `json:"error_kind,omitempty"`
	Suppressed bool                    `json:"suppressed,omitempty"`
}

func toUsageResponse(res provider.UsageResult) UsageResponse {
	out := UsageResponse{
		Provider:   res.Provider,
		Snapshot:   res.Snapshot,
		Source:     res.Source,
		Attempts:   res.Attempts,
		Suppressed: res.Suppressed,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		out.ErrorKind = provider.ClassifyKind(res.Err).String()
	}
	return out
}

// AccountResponse lists an account without its secret.
type AccountResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	AddedAt    time.Time  `json:"added_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// AccountUsageResponse is the aggregate usage across every stored
// account of one provider. Merged is nil when no account succeeded.
type AccountUsageResponse struct {
	Provider provider.ID              `json:"provider"`
	Merged   *provider.UsageSnapshot  `json:"merged,omitempty"`
	Accounts []accounts.AccountResult `json:"accounts"`
}

type addAccountRequest struct {
	Label  string `json:"label"`
	Secret string `json:"secret"`
}

type errorResponse struct {
	Error string `json:"error"`
}
