package credential

import (
	"context"
	"errors"
	"time"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

// Service is the keychain service name for provider credentials.
const Service = "quotabar.credentials"

// PromptGate is the slice of the access cooldown gate the loader needs.
type PromptGate interface {
	ShouldAllowPrompt(ctx context.Context, now time.Time) bool
}

// Loader is the one place strategies obtain refreshable credentials
// from: cache first, then the secure store, never more often than the
// prompt gate allows. Errors come back classified so the orchestrator
// can act on them without inspecting internals.
type Loader struct {
	Keychain keychain.Store
	Cache    *Cache
	Access   PromptGate
}

// Load returns a usable payload for id or a classified error:
// fallback-eligible when the credential is simply absent (or prompts
// are on cooldown), interactive-denied when the store refused access,
// transient for store failures.
func (l *Loader) Load(ctx context.Context, id provider.ID) (*Payload, error) {
	if l.Cache != nil {
		if p := l.Cache.Load(ctx, id); p != nil {
			return p, nil
		}
	}

	if l.Access != nil && !l.Access.ShouldAllowPrompt(ctx, time.Now()) {
		return nil, provider.Fallbackf("secure storage prompts on cooldown")
	}

	data, err := l.Keychain.Load(Service, string(id))
	if err != nil {
		switch {
		case errors.Is(err, keychain.ErrNotFound):
			return nil, provider.Fallbackf("no stored credential for %s", id)
		case errors.Is(err, keychain.ErrPermissionDenied):
			return nil, provider.InteractiveDenied(err)
		default:
			return nil, provider.Transient(err)
		}
	}

	p, err := Decode(data)
	if err != nil {
		return nil, provider.CredentialInvalid(err)
	}
	if !p.Usable(time.Now()) {
		// Expired with no refresh token is useless for a new fetch;
		// treat it like an absent credential.
		return nil, provider.Fallbackf("stored credential for %s expired without refresh token", id)
	}

	if l.Cache != nil {
		l.Cache.Store(ctx, id, p)
	}
	return p, nil
}

// Save persists a payload (typically after a token refresh) to the
// secure store and the cache.
func (l *Loader) Save(ctx context.Context, id provider.ID, p *Payload) error {
	data := p.Raw
	if len(data) == 0 {
		var err error
		data, err = encodePayload(p)
		if err != nil {
			return err
		}
	}
	if err := l.Keychain.Store(Service, string(id), data); err != nil {
		return err
	}
	if l.Cache != nil {
		l.Cache.Store(ctx, id, p)
	}
	return nil
}
