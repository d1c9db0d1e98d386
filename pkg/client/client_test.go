package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/api"
	"github.com/quotabar/quotabar/pkg/provider"
)

func fastClient(endpoint string) *Client {
	c := NewClient(endpoint)
	c.backoff = &ExponentialBackoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	return c
}

func TestUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usage" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[provider.ID]api.UsageResponse{
			provider.Claude: {Provider: provider.Claude, Source: "claude cli"},
		})
	}))
	defer srv.Close()

	usage, err := fastClient(srv.URL).Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if usage[provider.Claude].Source != "claude cli" {
		t.Errorf("usage: %+v", usage)
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	if err := fastClient(srv.URL).Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no data yet for claude"})
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).ProviderUsage(context.Background(), provider.Claude)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "no data yet") {
		t.Errorf("error should carry the daemon's message: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("client errors must not retry, got %d attempts", got)
	}
}

func TestRefreshParsesFailureBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("refresh method: %s", r.Method)
		}
		if got := r.URL.Query().Get("mode"); got != "oauth" {
			t.Errorf("mode: %q", got)
		}
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(api.UsageResponse{
			Provider:  provider.Claude,
			Error:     "all strategies failed",
			ErrorKind: "transient",
			Attempts:  []provider.FetchAttempt{{Strategy: "claude cli", Error: "timeout"}},
		})
	}))
	defer srv.Close()

	// A 502 still carries the attempt trail and is not an SDK error.
	res, err := fastClient(srv.URL).Refresh(context.Background(), provider.Claude, provider.ModeOAuth)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if res.Error != "all strategies failed" || len(res.Attempts) != 1 {
		t.Errorf("refresh result: %+v", res)
	}
}

func TestAccountsLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/accounts/claude":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["secret"] != "sk-test" {
				t.Errorf("secret not sent: %v", req)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(api.AccountResponse{ID: "abc", Label: req["label"]})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/accounts/claude/abc":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	acct, err := c.AddAccount(context.Background(), provider.Claude, "work", "sk-test")
	if err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	if acct.ID != "abc" || acct.Label != "work" {
		t.Errorf("account: %+v", acct)
	}

	if err := c.RemoveAccount(context.Background(), provider.Claude, "abc"); err != nil {
		t.Errorf("RemoveAccount failed: %v", err)
	}
}

func TestAccountUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/accounts/claude/usage" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.AccountUsageResponse{
			Provider: provider.Claude,
			Merged: &provider.UsageSnapshot{
				Identity: "All 2 accounts",
				Windows:  []provider.RateWindow{{Label: "session", UsedPercent: 25}},
			},
		})
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL).AccountUsage(context.Background(), provider.Claude)
	if err != nil {
		t.Fatalf("AccountUsage failed: %v", err)
	}
	if res.Merged == nil || res.Merged.Identity != "All 2 accounts" {
		t.Errorf("merged: %+v", res.Merged)
	}
}

func TestExportStreamsBody(t *testing.T) {
	const csvBody = "timestamp,provider,window,used_percent,resets_at,source\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("provider"); got != "claude" {
			t.Errorf("provider param: %q", got)
		}
		if got := r.URL.Query().Get("since"); got == "" {
			t.Error("since param missing")
		}
		w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := fastClient(srv.URL).Export(context.Background(), provider.Claude, time.Now().Add(-time.Hour), "", &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if buf.String() != csvBody {
		t.Errorf("export body: %q", buf.String())
	}
}

func TestUnreachableDaemon(t *testing.T) {
	c := fastClient("http://127.0.0.1:1")
	err := c.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "daemon unreachable") {
		t.Errorf("expected unreachable error, got %v", err)
	}
}
