// Package codex fetches usage for OpenAI Codex accounts. Three
// strategies share one usage endpoint and differ only in where the
// access token comes from: the Codex CLI auth file, the keychain, or a
// browser session cookie.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/provider"
)

const (
	// UsageURL is the ChatGPT backend endpoint Codex reports against.
	UsageURL = "https://chatgpt.com/backend-api/wham/usage"

	// TokenURL refreshes expired OAuth access tokens.
	TokenURL = "https://auth.openai.com/oauth/token"

	// ClientID is the public OAuth client the Codex CLI registers as.
	ClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

	sessionWindow = 5 * time.Hour
	weeklyWindow  = 7 * 24 * time.Hour
)

// AuthFilePath returns the Codex CLI credential file location.
func AuthFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "auth.json")
}

func fetchUsage(ctx context.Context, client *http.Client, baseURL, token, accountID string) (*provider.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", accountID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, provider.Transient(err)
	}
	return parseUsage(body)
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseUsage maps the wham/usage response onto windows. The primary
// window is the rolling session, the secondary the weekly cap; either
// may be absent.
func parseUsage(body []byte) (*provider.UsageSnapshot, error) {
	rl := gjson.GetBytes(body, "rate_limit")
	if !rl.Exists() {
		return nil, provider.Transient(fmt.Errorf("usage response missing rate_limit"))
	}

	snap := &provider.UsageSnapshot{FetchedAt: time.Now().UTC()}
	if w := rl.Get("primary_window"); w.Exists() {
		snap.Windows = append(snap.Windows, apiWindow(w, "session", sessionWindow))
	}
	if w := rl.Get("secondary_window"); w.Exists() {
		snap.Windows = append(snap.Windows, apiWindow(w, "weekly", weeklyWindow))
	}
	if len(snap.Windows) == 0 {
		return nil, provider.Transient(fmt.Errorf("usage response carries no windows"))
	}
	return snap, nil
}

func apiWindow(w gjson.Result, label string, d time.Duration) provider.RateWindow {
	out := provider.RateWindow{
		Label:       label,
		UsedPercent: w.Get("used_percent").Float(),
		Duration:    d,
	}
	if reset := w.Get("reset_at").Int(); reset > 0 {
		out.ResetsAt = time.Unix(reset, 0).UTC()
	}
	return out
}

// CLIStrategy reads the access token the Codex CLI keeps in
// ~/.codex/auth.json.
type CLIStrategy struct {
	Client   *http.Client
	AuthFile string
	BaseURL  string
}

func NewCLIStrategy() *CLIStrategy {
	return &CLIStrategy{
		Client:   &http.Client{Timeout: 20 * time.Second},
		AuthFile: AuthFilePath(),
		BaseURL:  UsageURL,
	}
}

func (s *CLIStrategy) Name() string { return "codex cli" }

func (s *CLIStrategy) IsAvailable(ctx context.Context) bool {
	if s.AuthFile == "" {
		return false
	}
	_, err := os.Stat(s.AuthFile)
	return err == nil
}

func (s *CLIStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	data, err := os.ReadFile(s.AuthFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Fallbackf("codex cli not logged in")
		}
		return nil, provider.Transient(err)
	}

	token := gjson.GetBytes(data, "tokens.access_token").String()
	if token == "" {
		return nil, provider.Fallbackf("codex auth file carries no access token")
	}
	accountID := gjson.GetBytes(data, "tokens.account_id").String()

	snap, err := fetchUsage(ctx, s.Client, s.BaseURL, token, accountID)
	if err != nil {
		return nil, err
	}
	if email := gjson.GetBytes(data, "tokens.id_token_claims.email").String(); email != "" {
		snap.Identity = email
	}
	return snap, nil
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

func (s *OAuthStrategy) Name() string { return "codex oauth" }

func (s *OAuthStrategy) IsAvailable(ctx context.Context) bool { return s.Loader != nil }

func (s *OAuthStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	p, err := s.Loader.Load(ctx, provider.Codex)
	if err != nil {
		return nil, err
	}

	if p.Expired(time.Now()) {
		if p, err = s.refresh(ctx, p); err != nil {
			return nil, err
		}
	}

	snap, err := fetchUsage(ctx, s.Client, s.BaseURL, p.AccessToken, p.AccountID)
	if err != nil {
		return nil, err
	}
	if p.Email != "" {
		snap.Identity = p.Email
	}
	return snap, nil
}

func (s *OAuthStrategy) refresh(ctx context.Context, p *credential.Payload) (*credential.Payload, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     ClientID,
		"grant_type":    "refresh_token",
		"refresh_token": p.RefreshToken,
	})
	if err != nil {
		return nil, provider.Config(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A rejected refresh token will not recover on its own.
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, provider.CredentialInvalid(fmt.Errorf("token refresh rejected: HTTP %d", resp.StatusCode))
		}
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, provider.Transient(err)
	}

	refreshed := *p
	refreshed.AccessToken = gjson.GetBytes(data, "access_token").String()
	if refreshed.AccessToken == "" {
		return nil, provider.Transient(fmt.Errorf("token refresh response missing access_token"))
	}
	if rt := gjson.GetBytes(data, "refresh_token").String(); rt != "" {
		refreshed.RefreshToken = rt
	}
	if ttl := gjson.GetBytes(data, "expires_in").Int(); ttl > 0 {
		refreshed.ExpiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	}
	refreshed.Raw = nil

	if err := s.Loader.Save(ctx, provider.Codex, &refreshed); err != nil {
		return nil, provider.Transient(fmt.Errorf("persist refreshed credential: %w", err))
	}
	return &refreshed, nil
}

func (s *OAuthStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// WebStrategy rides an existing browser session instead of a stored
// token. Strictly last resort: cookies rotate without notice.
type WebStrategy struct {
	Client  *http.Client
	Cookies provider.CookieSource
	BaseURL string
}

func NewWebStrategy(cookies provider.CookieSource) *WebStrategy {
	return &WebStrategy{
		Client:  &http.Client{Timeout: 20 * time.Second},
		Cookies: cookies,
		BaseURL: UsageURL,
	}
}

func (s *WebStrategy) Name() string { return "codex web" }

func (s *WebStrategy) IsAvailable(ctx context.Context) bool { return s.Cookies != nil }

func (s *WebStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	cookie, err := s.Cookies.SessionCookie(ctx, "chatgpt.com")
	if err != nil {
		if errors.Is(err, provider.ErrNoSession) {
			return nil, provider.Fallback(err)
		}
		// The cookie source classifies its own failures; a denied
		// keychain prompt must stay interactive-denied, not transient.
		var perr *provider.Error
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, provider.Transient(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL, nil)
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cookie", "__Secure-next-auth.session-token="+cookie)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A browser session that stopped working is not a reason to
		// block the account: the user may simply have logged out.
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			return nil, provider.Fallbackf("browser session rejected: HTTP %d", resp.StatusCode)
		}
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, provider.Transient(err)
	}
	return parseUsage(body)
}

func (s *WebStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// TokenStrategy fetches with a caller-supplied access token. It backs
// the multi-account aggregator, which carries one stored secret per
// account instead of reading the CLI credential file.
type TokenStrategy struct {
	Client  *http.Client
	Token   string
	BaseURL string
}

func NewTokenStrategy(token string) *TokenStrategy {
	return &TokenStrategy{
		Client:  &http.Client{Timeout: 20 * time.Second},
		Token:   token,
		BaseURL: UsageURL,
	}
}

func (s *TokenStrategy) Name() string { return "codex token" }

func (s *TokenStrategy) IsAvailable(ctx context.Context) bool { return s.Token != "" }

func (s *TokenStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	return fetchUsage(ctx, s.Client, s.BaseURL, s.Token, "")
}

func (s *TokenStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }
