// Package credential tracks credential material without holding on to
// secrets longer than necessary: fingerprints answer "did it change",
// the cache avoids redundant secure-storage reads, and the watcher
// invalidates on external file writes.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

// Fingerprint is a cheap comparable summary of credential material,
// derived from secure-store metadata plus the on-disk credential file
// hash. The zero value is the "unknown" sentinel.
type Fingerprint struct {
	StoreModifiedAt *time.Time `json:"store_modified_at,omitempty"`
	StoreCreatedAt  *time.Time `json:"store_created_at,omitempty"`
	StoreRefHash    string     `json:"store_ref_hash,omitempty"`
	FileHash        string     `json:"file_hash,omitempty"`
}

// Known reports whether any fingerprint material was observable.
func (f Fingerprint) Known() bool {
	return f.StoreModifiedAt != nil || f.StoreCreatedAt != nil ||
		f.StoreRefHash != "" || f.FileHash != ""
}

// Equal compares field by field. An unknown fingerprint never equals a
// known one: a gate blocked while fingerprinting was unavailable must
// unblock as soon as fingerprinting starts working, instead of staying
// blocked forever.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Known() != o.Known() {
		return false
	}
	return timeEqual(f.StoreModifiedAt, o.StoreModifiedAt) &&
		timeEqual(f.StoreCreatedAt, o.StoreCreatedAt) &&
		f.StoreRefHash == o.StoreRefHash &&
		f.FileHash == o.FileHash
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Fingerprinter derives the current fingerprint for a provider. It must
// be cheap and must never trigger an interactive prompt.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, id provider.ID) Fingerprint
}

// StoreFingerprinter combines secure-store metadata with an optional
// credential file per provider (e.g. the CLI session file a provider's
// own tooling writes).
type StoreFingerprinter struct {
	Keychain keychain.Store
	Service  string
	// CredentialFile maps a provider to its on-disk credential file,
	// empty when the provider has none.
	CredentialFile func(id provider.ID) string
}

func (s *StoreFingerprinter) Fingerprint(ctx context.Context, id provider.ID) Fingerprint {
	var fp Fingerprint
	if s.Keychain != nil {
		if md, err := s.Keychain.Metadata(s.Service, string(id)); err == nil {
			if !md.ModifiedAt.IsZero() {
				t := md.ModifiedAt
				fp.StoreModifiedAt = &t
			}
			if !md.CreatedAt.IsZero() {
				t := md.CreatedAt
				fp.StoreCreatedAt = &t
			}
			fp.StoreRefHash = md.RefHash
		}
	}
	if s.CredentialFile != nil {
		if path := s.CredentialFile(id); path != "" {
			fp.FileHash = hashFile(path)
		}
	}
	return fp
}

func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
