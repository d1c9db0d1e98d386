// Package accounts manages the stored token accounts per provider and
// the aggregator that merges their usage into one synthetic snapshot.
package accounts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

// accountsService is the keychain service name holding account lists.
const accountsService = "quotabar.accounts"

// Account is one stored token account for a provider.
type Account struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Secret     string     `json:"secret"`
	AddedAt    time.Time  `json:"added_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// List is the ordered account list for one provider. ActiveIndex picks
// the account single-account UX operates on; the aggregator ignores it
// and fetches all of them.
type List struct {
	Accounts    []Account `json:"accounts"`
	ActiveIndex int       `json:"active_index"`
}

// Active returns the active account, or nil when the list is empty.
func (l *List) Active() *Account {
	if len(l.Accounts) == 0 {
		return nil
	}
	idx := l.ActiveIndex
	if idx < 0 || idx >= len(l.Accounts) {
		idx = 0
	}
	return &l.Accounts[idx]
}

// Store persists account lists through the keychain, one item per
// provider, so secrets never touch the regular state database.
type Store struct {
	keychain keychain.Store
}

func NewStore(kc keychain.Store) *Store {
	return &Store{keychain: kc}
}

// Load returns the account list for id; a missing item is an empty list.
func (s *Store) Load(id provider.ID) (*List, error) {
	data, err := s.keychain.Load(accountsService, string(id))
	if err != nil {
		if err == keychain.ErrNotFound {
			return &List{}, nil
		}
		return nil, err
	}
	var list List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("accounts: decode list for %s: %w", id, err)
	}
	return &list, nil
}

// Save writes the account list for id back to the keychain.
func (s *Store) Save(id provider.ID, list *List) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("accounts: encode list for %s: %w", id, err)
	}
	return s.keychain.Store(accountsService, string(id), data)
}

// Add appends a new account and returns it.
func (s *Store) Add(id provider.ID, label, secret string) (*Account, error) {
	list, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	acct := Account{
		ID:      uuid.NewString(),
		Label:   label,
		Secret:  secret,
		AddedAt: time.Now().UTC(),
	}
	list.Accounts = append(list.Accounts, acct)
	if err := s.Save(id, list); err != nil {
		return nil, err
	}
	return &acct, nil
}

// TouchUsed stamps LastUsedAt on the account whose secret was just
// exercised by a fetch.
func (s *Store) TouchUsed(id provider.ID, accountID string) error {
	list, err := s.Load(id)
	if err != nil {
		return err
	}
	for i := range list.Accounts {
		if list.Accounts[i].ID == accountID {
			now := time.Now().UTC()
			list.Accounts[i].LastUsedAt = &now
			return s.Save(id, list)
		}
	}
	return fmt.Errorf("accounts: no account %s for %s", accountID, id)
}

// Remove deletes the account with accountID, clamping the active index.
func (s *Store) Remove(id provider.ID, accountID string) error {
	list, err := s.Load(id)
	if err != nil {
		return err
	}
	kept := list.Accounts[:0]
	for _, a := range list.Accounts {
		if a.ID != accountID {
			kept = append(kept, a)
		}
	}
	list.Accounts = kept
	if list.ActiveIndex >= len(list.Accounts) {
		list.ActiveIndex = 0
	}
	return s.Save(id, list)
}
