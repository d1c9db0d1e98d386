package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/provider"
)

func TestProbe_HeadersToWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit", "1500")
		w.Header().Set("x-ratelimit-remaining", "300")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	snap, err := probe(context.Background(), server.Client(), server.URL, "tok")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	win := snap.Windows[0]
	if win.Label != "daily" || win.UsedPercent != 80 {
		t.Errorf("window = %+v", win)
	}
}

func TestProbe_MissingHeadersDegrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	snap, err := probe(context.Background(), server.Client(), server.URL, "tok")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := snap.Windows[0].UsedPercent; got != 0 {
		t.Errorf("want 0%% used without headers, got %v", got)
	}
}

func TestProbe_QuotaExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	snap, err := probe(context.Background(), server.Client(), server.URL, "tok")
	if err != nil {
		t.Fatalf("probe on 429: %v", err)
	}
	if got := snap.Windows[0].UsedPercent; got != 100 {
		t.Errorf("want 100%% used on 429, got %v", got)
	}
}

func TestCLIStrategy_FreshTokenSkipsRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("x-ratelimit-limit", "1500")
		w.Header().Set("x-ratelimit-remaining", "1500")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	future := time.Now().Add(time.Hour).UnixMilli()
	creds := fmt.Sprintf(`{"access_token":"tok-1","refresh_token":"rt-1","expiry_date":%d}`, future)

	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewCLIStrategy()
	s.CredsFile = path
	s.BaseURL = server.URL

	if !s.IsAvailable(context.Background()) {
		t.Fatal("strategy should be available with creds file present")
	}
	snap, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := snap.Windows[0].UsedPercent; got != 0 {
		t.Errorf("used = %v", got)
	}
}

func TestCLIStrategy_MissingFileFallsBack(t *testing.T) {
	s := NewCLIStrategy()
	s.CredsFile = filepath.Join(t.TempDir(), "absent.json")

	_, err := s.Fetch(context.Background())
	if !provider.IsKind(err, provider.KindFallback) {
		t.Fatalf("want fallback error, got %v", err)
	}
}

func TestCLIStrategy_RejectedRefreshIsTerminal(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokens.Close()

	past := time.Now().Add(-time.Hour).UnixMilli()
	creds := fmt.Sprintf(`{"access_token":"tok-old","refresh_token":"rt-revoked","expiry_date":%d}`, past)

	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewCLIStrategy()
	s.CredsFile = path
	s.TokenURL = tokens.URL

	_, err := s.Fetch(context.Background())
	if !provider.IsKind(err, provider.KindCredentialInvalid) {
		t.Fatalf("want credential_invalid for rejected refresh, got %v", err)
	}
	if s.ShouldFallback(err) {
		t.Error("dead refresh token must not fall back")
	}
}
