package keychain

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests. LoadErr, when set, is
// returned by every Load, which is how tests script permission denials.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string][]byte
	meta    map[string]Metadata
	LoadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
		meta:  make(map[string]Metadata),
	}
}

func key(service, account string) string { return service + "\x00" + account }

func (m *MemoryStore) Load(service, account string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	data, ok := m.items[key(service, account)]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *MemoryStore) Store(service, account string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(service, account)
	now := time.Now()
	md := m.meta[k]
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	md.ModifiedAt = now
	sum := sha256.Sum256(data)
	md.RefHash = hex.EncodeToString(sum[:8])
	m.meta[k] = md
	m.items[k] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key(service, account))
	delete(m.meta, key(service, account))
	return nil
}

func (m *MemoryStore) Metadata(service, account string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.meta[key(service, account)]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return md, nil
}
