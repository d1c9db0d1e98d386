package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

// CookieService is the keychain service holding browser session cookies,
// keyed by domain. Entries are written by the user (one cookie value per
// domain); web strategies only ever read them.
const CookieService = "quotabar.cookies"

// CookieJar serves browser session cookies out of the secure store,
// subject to the same prompt gate the credential loader honors: a
// cookie read can trigger an interactive keychain prompt too.
type CookieJar struct {
	Keychain keychain.Store
	Access   PromptGate
}

func (j *CookieJar) SessionCookie(ctx context.Context, domain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if j.Access != nil && !j.Access.ShouldAllowPrompt(ctx, time.Now()) {
		return "", provider.Fallbackf("secure storage prompts on cooldown")
	}
	raw, err := j.Keychain.Load(CookieService, domain)
	switch {
	case errors.Is(err, keychain.ErrNotFound):
		return "", provider.ErrNoSession
	case errors.Is(err, keychain.ErrPermissionDenied):
		return "", provider.InteractiveDenied(err)
	case err != nil:
		return "", provider.Transient(err)
	}

	cookie := strings.TrimSpace(string(raw))
	if cookie == "" {
		return "", provider.ErrNoSession
	}
	return cookie, nil
}
