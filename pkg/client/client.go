// Package client is the SDK the CLI and TUI talk to the daemon with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quotabar/quotabar/pkg/api"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/reports"
	"github.com/quotabar/quotabar/pkg/store"
)

// DefaultEndpoint is where the daemon listens unless configured
// otherwise.
const DefaultEndpoint = "http://127.0.0.1:8808"

// Client is the quotabar daemon SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	retries  int
}

// NewClient creates a client for the given endpoint, defaulting to
// DefaultEndpoint when empty. Reads retry transparently; mutations do
// not.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 40 * time.Second},
		backoff:  DefaultBackoff(),
		retries:  2,
	}
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]string
	return c.get(ctx, "/v1/health", &out)
}

// Usage fetches the latest known result for every provider.
func (c *Client) Usage(ctx context.Context) (map[provider.ID]api.UsageResponse, error) {
	var out map[provider.ID]api.UsageResponse
	if err := c.get(ctx, "/v1/usage", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderUsage fetches the latest known result for one provider.
func (c *Client) ProviderUsage(ctx context.Context, id provider.ID) (*api.UsageResponse, error) {
	var out api.UsageResponse
	if err := c.get(ctx, "/v1/usage/"+string(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh triggers a synchronous fetch and returns its result. The
// daemon reports fetch failures with a 502 and a body that still
// carries the attempt trail, so that case is not an SDK error.
func (c *Client) Refresh(ctx context.Context, id provider.ID, mode provider.SourceMode) (*api.UsageResponse, error) {
	path := "/v1/refresh/" + string(id)
	if mode != "" && mode != provider.ModeAuto {
		path += "?mode=" + url.QueryEscape(string(mode))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadGateway {
		return nil, statusError(resp)
	}
	var out api.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events fetches recent events, newest first. An empty provider means
// all providers.
func (c *Client) Events(ctx context.Context, id provider.ID, limit int) ([]*store.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	path := fmt.Sprintf("/v1/events?limit=%d", limit)
	if id != "" {
		path += "&provider=" + url.QueryEscape(string(id))
	}
	var out []*store.Event
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Accounts lists the stored accounts for a provider.
func (c *Client) Accounts(ctx context.Context, id provider.ID) ([]api.AccountResponse, error) {
	var out []api.AccountResponse
	if err := c.get(ctx, "/v1/accounts/"+string(id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AccountUsage fetches every stored account for a provider and returns
// the merged snapshot with per-account outcomes.
func (c *Client) AccountUsage(ctx context.Context, id provider.ID) (*api.AccountUsageResponse, error) {
	var out api.AccountUsageResponse
	if err := c.get(ctx, "/v1/accounts/"+string(id)+"/usage", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddAccount stores a new token account for a provider.
func (c *Client) AddAccount(ctx context.Context, id provider.ID, label, secret string) (*api.AccountResponse, error) {
	body, err := json.Marshal(map[string]string{"label": label, "secret": secret})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/accounts/"+string(id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp)
	}
	var out api.AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveAccount deletes a stored account.
func (c *Client) RemoveAccount(ctx context.Context, id provider.ID, accountID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint+"/v1/accounts/"+string(id)+"/"+url.PathEscape(accountID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// Export streams usage history in the requested format.
func (c *Client) Export(ctx context.Context, id provider.ID, since time.Time, format reports.Format, w io.Writer) error {
	q := url.Values{}
	if id != "" {
		q.Set("provider", string(id))
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if format != "" {
		q.Set("format", string(format))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/export?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// get issues a GET with transparent retry on transport errors and 5xx.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("daemon unreachable: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = statusError(resp)
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return statusError(resp)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		return err
	}
	return lastErr
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
