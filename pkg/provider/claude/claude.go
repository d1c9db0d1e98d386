// Package claude fetches usage for Anthropic Claude accounts. The CLI
// and OAuth strategies read the oauth usage endpoint; the API-key
// strategy probes the Messages API and reads rate-limit headers, since
// API keys cannot see subscription windows.
package claude

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/provider"
)

const (
	// UsageURL reports subscription window utilization for OAuth tokens.
	UsageURL = "https://api.anthropic.com/api/oauth/usage"

	// TokenURL refreshes expired OAuth access tokens.
	TokenURL = "https://console.anthropic.com/v1/oauth/token"

	// ClientID is the public OAuth client the Claude CLI registers as.
	ClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	// MessagesURL serves the API-key rate-limit probe.
	MessagesURL = "https://api.anthropic.com/v1/messages"

	anthropicVersion = "2023-06-01"
	oauthBeta        = "oauth-2025-04-20"

	fiveHourWindow = 5 * time.Hour
	sevenDayWindow = 7 * 24 * time.Hour
)

// CredentialsFilePath returns the Claude CLI credential file location.
func CredentialsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

func fetchUsage(ctx context.Context, client *http.Client, baseURL, token string) (*provider.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", oauthBeta)

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
	return parseUsage(buf.Bytes())
}

// parseUsage maps the oauth usage response onto windows. Utilization
// comes back as a percentage; resets_at as RFC 3339. Absent windows
// (plans without a sonnet cap, say) are simply skipped.
func parseUsage(body []byte) (*provider.UsageSnapshot, error) {
	snap := &provider.UsageSnapshot{FetchedAt: time.Now().UTC()}

	for _, w := range []struct {
		key      string
		label    string
		duration time.Duration
	}{
		{"five_hour", "session", fiveHourWindow},
		{"seven_day", "weekly", sevenDayWindow},
		{"seven_day_sonnet", "weekly sonnet", sevenDayWindow},
	} {
		v := gjson.GetBytes(body, w.key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		win := provider.RateWindow{
			Label:       w.label,
			UsedPercent: v.Get("utilization").Float(),
			Duration:    w.duration,
		}
		if raw := v.Get("resets_at").String(); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				win.ResetsAt = t.UTC()
			}
		}
		snap.Windows = append(snap.Windows, win)
	}

	if len(snap.Windows) == 0 {
		return nil, provider.Transient(fmt.Errorf("usage response carries no windows"))
	}
	return snap, nil
}

func refreshToken(ctx context.Context, client *http.Client, tokenURL, refreshTok string) (access, refresh string, expiresAt time.Time, err error) {
	body := fmt.Sprintf(`{"grant_type":"refresh_token","refresh_token":%q,"client_id":%q}`, refreshTok, ClientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(body))
	if err != nil {
		return "", "", time.Time{}, provider.Config(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", time.Time{}, provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return "", "", time.Time{}, provider.CredentialInvalid(fmt.Errorf("token refresh rejected: HTTP %d", resp.StatusCode))
		}
		return "", "", time.Time{}, provider.FromHTTPStatus(resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", "", time.Time{}, provider.Transient(err)
	}

	access = gjson.GetBytes(buf.Bytes(), "access_token").String()
	if access == "" {
		return "", "", time.Time{}, provider.Transient(fmt.Errorf("token refresh response missing access_token"))
	}
	refresh = gjson.GetBytes(buf.Bytes(), "refresh_token").String()
	if ttl := gjson.GetBytes(buf.Bytes(), "expires_in").Int(); ttl > 0 {
		expiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	}
	return access, refresh, expiresAt, nil
}

// CLIStrategy reads the token the Claude CLI keeps in
// ~/.claude/.credentials.json. An expired token is refreshed in memory
// only; the CLI owns its file.
type CLIStrategy struct {
	Client          *http.Client
	CredentialsFile string
	BaseURL         string
	TokenURL        string
}

func NewCLIStrategy() *CLIStrategy {
	return &CLIStrategy{
		Client:          &http.Client{Timeout: 20 * time.Second},
		CredentialsFile: CredentialsFilePath(),
		BaseURL:         UsageURL,
		TokenURL:        TokenURL,
	}
}

func (s *CLIStrategy) Name() string { return "claude cli" }

func (s *CLIStrategy) IsAvailable(ctx context.Context) bool {
	if s.CredentialsFile == "" {
		return false
	}
	_, err := os.Stat(s.CredentialsFile)
	return err == nil
}

func (s *CLIStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	data, err := os.ReadFile(s.CredentialsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Fallbackf("claude cli not logged in")
		}
		return nil, provider.Transient(err)
	}

	oauth := gjson.GetBytes(data, "claudeAiOauth")
	token := oauth.Get("accessToken").String()
	if token == "" {
		return nil, provider.Fallbackf("claude credentials file carries no access token")
	}

	// expiresAt is unix milliseconds.
	if ms := oauth.Get("expiresAt").Int(); ms > 0 && time.Now().After(time.UnixMilli(ms)) {
		refreshTok := oauth.Get("refreshToken").String()
		if refreshTok == "" {
			return nil, provider.CredentialInvalid(fmt.Errorf("claude cli token expired without refresh token"))
		}
		token, _, _, err = refreshToken(ctx, s.Client, s.TokenURL, refreshTok)
		if err != nil {
			return nil, err
		}
	}

	return fetchUsage(ctx, s.Client, s.BaseURL, token)
}

func (s *CLIStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// OAuthStrategy fetches with a keychain-held OAuth credential,
// refreshing it in place when the access token has expired.
type OAuthStrategy struct {
	Client   *http.Client
	Loader   *credential.Loader
	BaseURL  string
	TokenURL string
}

func NewOAuthStrategy(loader *credential.Loader) *OAuthStrategy {
	return &OAuthStrategy{
		Client:   &http.Client{Timeout: 20 * time.Second},
		Loader:   loader,
		BaseURL:  UsageURL,
		TokenURL: TokenURL,
	}
}

func (s *OAuthStrategy) Name() string { return "claude oauth" }

func (s *OAuthStrategy) IsAvailable(ctx context.Context) bool { return s.Loader != nil }

func (s *OAuthStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	p, err := s.Loader.Load(ctx, provider.Claude)
	if err != nil {
		return nil, err
	}

	if p.Expired(time.Now()) {
		access, refresh, expiresAt, err := refreshToken(ctx, s.Client, s.TokenURL, p.RefreshToken)
		if err != nil {
			return nil, err
		}
		refreshed := *p
		refreshed.AccessToken = access
		if refresh != "" {
			refreshed.RefreshToken = refresh
		}
		refreshed.ExpiresAt = expiresAt
		refreshed.Raw = nil
		if err := s.Loader.Save(ctx, provider.Claude, &refreshed); err != nil {
			return nil, provider.Transient(fmt.Errorf("persist refreshed credential: %w", err))
		}
		p = &refreshed
	}

	snap, err := fetchUsage(ctx, s.Client, s.BaseURL, p.AccessToken)
	if err != nil {
		return nil, err
	}
	if p.Email != "" {
		snap.Identity = p.Email
	}
	return snap, nil
}

func (s *OAuthStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// APIKeyStrategy probes the Messages API with a one-token request and
// reads the anthropic-ratelimit-* headers. It cannot see subscription
// windows, so it reports a single request-quota window.
type APIKeyStrategy struct {
	Client  *http.Client
	APIKey  string
	BaseURL string
}

func NewAPIKeyStrategy() *APIKeyStrategy {
	return &APIKeyStrategy{
		Client:  &http.Client{Timeout: 20 * time.Second},
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL: MessagesURL,
	}
}

func (s *APIKeyStrategy) Name() string { return "claude api" }

func (s *APIKeyStrategy) IsAvailable(ctx context.Context) bool { return s.APIKey != "" }

func (s *APIKeyStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	body := `{"model":"claude-haiku-4-5","max_tokens":1,"messages":[{"role":"user","content":"."}]}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, strings.NewReader(body))
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	// 429 still carries the headers we came for.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	win, err := windowFromHeaders(resp.Header)
	if err != nil {
		return nil, err
	}
	return &provider.UsageSnapshot{
		Windows:   []provider.RateWindow{win},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func windowFromHeaders(h http.Header) (provider.RateWindow, error) {
	limit, err1 := strconv.ParseFloat(h.Get("anthropic-ratelimit-requests-limit"), 64)
	remaining, err2 := strconv.ParseFloat(h.Get("anthropic-ratelimit-requests-remaining"), 64)
	if err1 != nil || err2 != nil || limit <= 0 {
		return provider.RateWindow{}, provider.Transient(fmt.Errorf("response missing rate-limit headers"))
	}

	win := provider.RateWindow{
		Label:       "requests",
		UsedPercent: 100 * (1 - remaining/limit),
		Duration:    time.Minute,
	}
	if raw := h.Get("anthropic-ratelimit-requests-reset"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			win.ResetsAt = t.UTC()
		}
	}
	return win, nil
}

func (s *APIKeyStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }
