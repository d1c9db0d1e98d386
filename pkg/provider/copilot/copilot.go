// Package copilot fetches usage for GitHub Copilot accounts via the
// GitHub rate-limit API, using either the Copilot extension's stored
// OAuth token or an explicit token from the environment.
package copilot

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quotabar/quotabar/pkg/provider"
)

const (
	// RateLimitURL is the authenticated quota endpoint.
	RateLimitURL = "https://api.github.com/rate_limit"

	hourlyWindow = time.Hour
)

// AppsFilePath returns where the Copilot editor extensions store their
// OAuth token.
func AppsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "github-copilot", "apps.json")
}

func fetchRateLimit(ctx context.Context, client *http.Client, baseURL, token string) (*provider.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "token "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, provider.Transient(err)
	}
	return parseRateLimit(buf.Bytes())
}

// parseRateLimit maps the per-resource quotas onto hourly windows. The
// response lists more resources than anyone watches a status bar for;
// core and search are the ones that actually gate interactive use.
func parseRateLimit(body []byte) (*provider.UsageSnapshot, error) {
	snap := &provider.UsageSnapshot{FetchedAt: time.Now().UTC()}

	for _, name := range []string{"core", "search"} {
		r := gjson.GetBytes(body, "resources."+name)
		if !r.Exists() {
			continue
		}
		limit := r.Get("limit").Float()
		if limit <= 0 {
			continue
		}
		win := provider.RateWindow{
			Label:       name,
			UsedPercent: 100 * (1 - r.Get("remaining").Float()/limit),
			Duration:    hourlyWindow,
		}
		if reset := r.Get("reset").Int(); reset > 0 {
			win.ResetsAt = time.Unix(reset, 0).UTC()
		}
		snap.Windows = append(snap.Windows, win)
	}

	if len(snap.Windows) == 0 {
		return nil, provider.Transient(fmt.Errorf("rate_limit response carries no resources"))
	}
	return snap, nil
}

// CLIStrategy reads the OAuth token the Copilot extensions keep in
// ~/.config/github-copilot/apps.json.
type CLIStrategy struct {
	Client   *http.Client
	AppsFile string
	BaseURL  string
}

func NewCLIStrategy() *CLIStrategy {
	return &CLIStrategy{
		Client:   &http.Client{Timeout: 10 * time.Second},
		AppsFile: AppsFilePath(),
		BaseURL:  RateLimitURL,
	}
}

func (s *CLIStrategy) Name() string { return "copilot cli" }

func (s *CLIStrategy) IsAvailable(ctx context.Context) bool {
	if s.AppsFile == "" {
		return false
	}
	_, err := os.Stat(s.AppsFile)
	return err == nil
}

func (s *CLIStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	data, err := os.ReadFile(s.AppsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Fallbackf("copilot extension not signed in")
		}
		return nil, provider.Transient(err)
	}

	// apps.json is keyed by app id; any entry's token works against
	// the rate-limit API.
	var token, user string
	gjson.ParseBytes(data).ForEach(func(_, v gjson.Result) bool {
		token = v.Get("oauth_token").String()
		user = v.Get("user").String()
		return token == ""
	})
	if token == "" {
		return nil, provider.Fallbackf("copilot apps file carries no oauth token")
	}

	snap, err := fetchRateLimit(ctx, s.Client, s.BaseURL, token)
	if err != nil {
		return nil, err
	}
	snap.Identity = user
	return snap, nil
}

func (s *CLIStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// TokenStrategy uses an explicit token from GITHUB_TOKEN or GH_TOKEN.
type TokenStrategy struct {
	Client  *http.Client
	Token   string
	BaseURL string
}

func NewTokenStrategy() *TokenStrategy {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		token = os.Getenv("GH_TOKEN")
	}
	return &TokenStrategy{
		Client:  &http.Client{Timeout: 10 * time.Second},
		Token:   token,
		BaseURL: RateLimitURL,
	}
}

func (s *TokenStrategy) Name() string { return "copilot api" }

func (s *TokenStrategy) IsAvailable(ctx context.Context) bool { return s.Token != "" }

func (s *TokenStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	if s.Token == "" {
		return nil, provider.Fallbackf("no github token in environment")
	}
	return fetchRateLimit(ctx, s.Client, s.BaseURL, s.Token)
}

func (s *TokenStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }
