package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is a decoded credential as strategies consume it. Raw keeps
// the original bytes for provider-specific fields the common decoder
// does not model.
type Payload struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Raw          []byte    `json:"-"`
}

// Decode parses the common credential shape the provider CLIs write.
func Decode(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("credential: decode: %w", err)
	}
	p.Raw = append([]byte(nil), data...)
	return &p, nil
}

func encodePayload(p *Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("credential: encode: %w", err)
	}
	return data, nil
}

// Expired reports whether the access token is past its expiry. A zero
// expiry means the payload never expires (API keys).
func (p *Payload) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Refreshable reports whether an expired payload is still worth keeping:
// only a refresh token can turn it back into a usable credential.
func (p *Payload) Refreshable() bool {
	return p.RefreshToken != ""
}

// Usable reports whether the payload can serve a fetch right now or
// after a refresh. An expired non-refreshable credential is as good as
// absent.
func (p *Payload) Usable(now time.Time) bool {
	if p == nil || (p.AccessToken == "" && p.RefreshToken == "") {
		return false
	}
	return !p.Expired(now) || p.Refreshable()
}
