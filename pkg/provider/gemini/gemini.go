// Package gemini fetches usage for Google Gemini accounts. Google
// exposes no read-only quota endpoint for the CLI tier, so both
// strategies issue a one-token generateContent probe and read the
// rate-limit headers off the response.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/provider"
)

const (
	// ProbeURL is the cheapest authenticated request that returns
	// rate-limit headers.
	ProbeURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

	// TokenURL refreshes expired OAuth access tokens.
	TokenURL = "https://oauth2.googleapis.com/token"

	// The Gemini CLI ships these as a public installed-app client.
	clientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	clientSecret = "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"

	dailyWindow = 24 * time.Hour

	// Free-tier daily request cap, used when the response carries no
	// rate-limit headers.
	defaultDailyLimit = 1500
)

// CredsFilePath returns the Gemini CLI credential file location.
func CredsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "oauth_creds.json")
}

func oauthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

// probe issues the minimal generateContent call and turns the response
// headers into a daily window. A missing header set degrades to the
// static free-tier cap with zero observed usage rather than failing the
// fetch.
func probe(ctx context.Context, client *http.Client, baseURL, token string) (*provider.UsageSnapshot, error) {
	body := `{"contents":[{"parts":[{"text":"q"}]}],"generationConfig":{"maxOutputTokens":1}}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, strings.NewReader(body))
	if err != nil {
		return nil, provider.Config(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, provider.Transient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		// Quota exhausted is still an answer.
		return &provider.UsageSnapshot{
			Windows:   []provider.RateWindow{window(resp.Header, 100)},
			FetchedAt: time.Now().UTC(),
		}, nil
	default:
		return nil, provider.FromHTTPStatus(resp.StatusCode)
	}

	limit, _ := strconv.ParseFloat(resp.Header.Get("x-ratelimit-limit"), 64)
	remaining, hasRemaining := headerFloat(resp.Header, "x-ratelimit-remaining")

	used := 0.0
	if hasRemaining {
		if limit <= 0 {
			limit = defaultDailyLimit
		}
		used = 100 * (1 - remaining/limit)
		if used < 0 {
			used = 0
		}
	}

	return &provider.UsageSnapshot{
		Windows:   []provider.RateWindow{window(resp.Header, used)},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func headerFloat(h http.Header, key string) (float64, bool) {
	v, err := strconv.ParseFloat(h.Get(key), 64)
	return v, err == nil
}

func window(h http.Header, used float64) provider.RateWindow {
	win := provider.RateWindow{Label: "daily", UsedPercent: used, Duration: dailyWindow}
	if sec, ok := headerFloat(h, "x-ratelimit-reset"); ok && sec > 0 {
		win.ResetsAt = time.Unix(int64(sec), 0).UTC()
	}
	return win
}

// CLIStrategy reads the credential the Gemini CLI keeps in
// ~/.gemini/oauth_creds.json, refreshing it through the CLI's own
// OAuth client when expired.
type CLIStrategy struct {
	Client    *http.Client
	CredsFile string
	BaseURL   string
	TokenURL  string
}

func NewCLIStrategy() *CLIStrategy {
	return &CLIStrategy{
		Client:    &http.Client{Timeout: 20 * time.Second},
		CredsFile: CredsFilePath(),
		BaseURL:   ProbeURL,
		TokenURL:  TokenURL,
	}
}

func (s *CLIStrategy) Name() string { return "gemini cli" }

func (s *CLIStrategy) IsAvailable(ctx context.Context) bool {
	if s.CredsFile == "" {
		return false
	}
	_, err := os.Stat(s.CredsFile)
	return err == nil
}

func (s *CLIStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	data, err := os.ReadFile(s.CredsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provider.Fallbackf("gemini cli not logged in")
		}
		return nil, provider.Transient(err)
	}

	tok := &oauth2.Token{
		AccessToken:  gjson.GetBytes(data, "access_token").String(),
		RefreshToken: gjson.GetBytes(data, "refresh_token").String(),
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, provider.Fallbackf("gemini credentials file carries no tokens")
	}
	// expiry_date is unix milliseconds.
	if ms := gjson.GetBytes(data, "expiry_date").Int(); ms > 0 {
		tok.Expiry = time.UnixMilli(ms)
	}

	token, err := validToken(ctx, s.TokenURL, tok)
	if err != nil {
		return nil, err
	}
	return probe(ctx, s.Client, s.BaseURL, token.AccessToken)
}

func (s *CLIStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// validToken returns tok refreshed if needed. oauth2.TokenSource does
// the expiry bookkeeping.
func validToken(ctx context.Context, tokenURL string, tok *oauth2.Token) (*oauth2.Token, error) {
	fresh, err := oauthConfig(tokenURL).TokenSource(ctx, tok).Token()
	if err != nil {
		if rErr, ok := err.(*oauth2.RetrieveError); ok && rErr.Response != nil && (rErr.Response.StatusCode == http.StatusBadRequest || rErr.Response.StatusCode == http.StatusUnauthorized) {
			return nil, provider.CredentialInvalid(fmt.Errorf("token refresh rejected: %w", err))
		}
		return nil, provider.Transient(err)
	}
	return fresh, nil
}

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
		BaseURL:  ProbeURL,
		TokenURL: TokenURL,
	}
}

func (s *OAuthStrategy) Name() string { return "gemini oauth" }

func (s *OAuthStrategy) IsAvailable(ctx context.Context) bool { return s.Loader != nil }

func (s *OAuthStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	p, err := s.Loader.Load(ctx, provider.Gemini)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Expiry:       p.ExpiresAt,
	}
	fresh, err := validToken(ctx, s.TokenURL, tok)
	if err != nil {
		return nil, err
	}

	if fresh.AccessToken != p.AccessToken {
		refreshed := *p
		refreshed.AccessToken = fresh.AccessToken
		if fresh.RefreshToken != "" {
			refreshed.RefreshToken = fresh.RefreshToken
		}
		refreshed.ExpiresAt = fresh.Expiry
		refreshed.Raw = nil
		if err := s.Loader.Save(ctx, provider.Gemini, &refreshed); err != nil {
			return nil, provider.Transient(fmt.Errorf("persist refreshed credential: %w", err))
		}
		p = &refreshed
	}

	snap, err := probe(ctx, s.Client, s.BaseURL, p.AccessToken)
	if err != nil {
		return nil, err
	}
	if p.Email != "" {
		snap.Identity = p.Email
	}
	return snap, nil
}

func (s *OAuthStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }

// TokenStrategy probes with a caller-supplied access token, for stored
// multi-account secrets. No refresh: a token that stops working is the
// account owner's to replace.
type TokenStrategy struct {
	Client  *http.Client
	Token   string
	BaseURL string
}

func NewTokenStrategy(token string) *TokenStrategy {
	return &TokenStrategy{
		Client:  &http.Client{Timeout: 20 * time.Second},
		Token:   token,
		BaseURL: ProbeURL,
	}
}

func (s *TokenStrategy) Name() string { return "gemini token" }

func (s *TokenStrategy) IsAvailable(ctx context.Context) bool { return s.Token != "" }

func (s *TokenStrategy) Fetch(ctx context.Context) (*provider.UsageSnapshot, error) {
	return probe(ctx, s.Client, s.BaseURL, s.Token)
}

func (s *TokenStrategy) ShouldFallback(err error) bool { return provider.FallbackEligible(err) }
