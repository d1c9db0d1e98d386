package accounts

import (
	"testing"

	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/provider"
)

func TestStoreAddLoadRemove(t *testing.T) {
	s := NewStore(keychain.NewMemoryStore())

	list, err := s.Load(provider.Claude)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(list.Accounts) != 0 {
		t.Fatalf("expected empty list, got %d accounts", len(list.Accounts))
	}

	a, err := s.Add(provider.Claude, "work", "sk-1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.ID == "" || a.AddedAt.IsZero() {
		t.Errorf("account missing generated fields: %+v", a)
	}
	if _, err := s.Add(provider.Claude, "personal", "sk-2"); err != nil {
		t.Fatalf("add second: %v", err)
	}

	list, err = s.Load(provider.Claude)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(list.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(list.Accounts))
	}
	if list.Accounts[0].Secret != "sk-1" {
		t.Errorf("secret did not round-trip: %q", list.Accounts[0].Secret)
	}

	if err := s.Remove(provider.Claude, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list, _ = s.Load(provider.Claude)
	if len(list.Accounts) != 1 || list.Accounts[0].Label != "personal" {
		t.Errorf("remove kept the wrong account: %+v", list.Accounts)
	}
}

func TestStoreProvidersIsolated(t *testing.T) {
	s := NewStore(keychain.NewMemoryStore())
	if _, err := s.Add(provider.Claude, "work", "sk-1"); err != nil {
		t.Fatal(err)
	}

	list, err := s.Load(provider.Codex)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Accounts) != 0 {
		t.Errorf("codex list should be empty, got %d", len(list.Accounts))
	}
}

func TestListActive(t *testing.T) {
	var empty List
	if empty.Active() != nil {
		t.Error("empty list should have no active account")
	}

	l := List{Accounts: []Account{{ID: "1"}, {ID: "2"}}, ActiveIndex: 1}
	if got := l.Active(); got == nil || got.ID != "2" {
		t.Errorf("active: got %+v", got)
	}

	// Out-of-range index clamps to the first account.
	l.ActiveIndex = 9
	if got := l.Active(); got == nil || got.ID != "1" {
		t.Errorf("clamped active: got %+v", got)
	}
}

func TestRemoveClampsActiveIndex(t *testing.T) {
	s := NewStore(keychain.NewMemoryStore())
	a, _ := s.Add(provider.Claude, "a", "1")
	b, _ := s.Add(provider.Claude, "b", "2")

	list, _ := s.Load(provider.Claude)
	list.ActiveIndex = 1
	if err := s.Save(provider.Claude, list); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(provider.Claude, b.ID); err != nil {
		t.Fatal(err)
	}
	list, _ = s.Load(provider.Claude)
	if got := list.Active(); got == nil || got.ID != a.ID {
		t.Errorf("active after remove: got %+v", got)
	}
}
