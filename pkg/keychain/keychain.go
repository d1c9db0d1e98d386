// Package keychain abstracts the secure credential store consumed by
// fetch strategies. Reads may require interactive user consent on some
// platforms, so callers must go through the access cooldown gate and
// the credential cache rather than hitting the store on every poll.
package keychain

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means no item exists for the service/account pair.
	ErrNotFound = errors.New("keychain: item not found")

	// ErrPermissionDenied means the user or the platform refused the
	// interactive prompt. Callers route this through the access
	// cooldown gate instead of retrying.
	ErrPermissionDenied = errors.New("keychain: permission denied")
)

// Metadata describes a stored item without exposing its secret. It
// feeds credential fingerprints: any re-write of the item changes at
// least one field.
type Metadata struct {
	ModifiedAt time.Time
	CreatedAt  time.Time
	// RefHash is a stable short hash of the item content.
	RefHash string
}

// Store is an opaque key/value store for secrets.
type Store interface {
	// Load returns the secret bytes, ErrNotFound, or ErrPermissionDenied.
	Load(service, account string) ([]byte, error)

	// Store writes or replaces the secret bytes.
	Store(service, account string, data []byte) error

	// Delete removes the item. Deleting a missing item is not an error.
	Delete(service, account string) error

	// Metadata returns fingerprint material without reading the secret,
	// so it never triggers an interactive prompt.
	Metadata(service, account string) (Metadata, error)
}
