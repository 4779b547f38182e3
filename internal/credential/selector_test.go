package credential_test

import (
	"context"
	"testing"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/identity"
)

func newSelector(t *testing.T, provider *fakeProvider, secrets credential.SecretStore) *credential.AccountSelector {
	t.Helper()
	cacheStore, err := credential.NewCacheStore(provider.cache, secrets)
	if err != nil {
		t.Fatalf("NewCacheStore() error = %v", err)
	}
	s, err := credential.NewAccountSelector(provider, secrets, cacheStore)
	if err != nil {
		t.Fatalf("NewAccountSelector() error = %v", err)
	}
	s.Load(context.Background())
	return s
}

func TestSelectorCurrentWithoutAccounts(t *testing.T) {
	s := newSelector(t, newFakeProvider(), newFakeSecrets())

	if account, ok := s.Current(context.Background()); ok {
		t.Errorf("Current() = %v, want none", account)
	}
}

func TestSelectorSelectEveryAccount(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			provider := newFakeProvider()
			accounts := []identity.Account{
				h1,
				h2,
				{HomeAccountID: "H3", Username: "alan@example.com"},
			}
			for _, a := range accounts {
				provider.addAccount(a, "token-"+a.HomeAccountID)
			}
			s := newSelector(t, provider, newTestStore(t, mode))

			for _, a := range accounts {
				if !s.Select(ctx, a.HomeAccountID) {
					t.Fatalf("Select(%s) = false", a.HomeAccountID)
				}
				got, ok := s.Current(ctx)
				if !ok || got != a {
					t.Errorf("after Select(%s) Current() = %v, %v", a.HomeAccountID, got, ok)
				}
			}
		})
	}
}

func TestSelectorSelectUnknownKeepsPointer(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t, mode)
			provider := newFakeProvider()
			provider.addAccount(h1, "token-1")
			provider.addAccount(h2, "token-2")
			s := newSelector(t, provider, store)

			if !s.Select(ctx, "H2") {
				t.Fatal("Select(H2) = false")
			}
			persisted, _ := store.Get(ctx, credential.SelectedAccountSecret)
			writes := store.writes()

			if s.Select(ctx, "unknown") {
				t.Fatal("Select(unknown) = true, want false")
			}

			if got := s.SelectedID(); got != "H2" {
				t.Errorf("SelectedID() = %q, want H2", got)
			}
			if got, _ := store.Get(ctx, credential.SelectedAccountSecret); got != persisted {
				t.Errorf("persisted pointer = %q, want %q", got, persisted)
			}
			if store.writes() != writes {
				t.Error("Select(unknown) wrote to the secret store")
			}
		})
	}
}

func TestSelectorStalePointerFallsBack(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t, mode)
			provider := newFakeProvider()
			provider.addAccount(h1, "token-1")
			provider.addAccount(h2, "token-2")
			s := newSelector(t, provider, store)

			if !s.Select(ctx, "H2") {
				t.Fatal("Select(H2) = false")
			}

			// The account disappears behind the selector's back
			provider.cache.Remove("H2")

			// Restart with the stale pointer
			restarted := newSelector(t, provider, store)
			if got := restarted.SelectedID(); got != "H2" {
				t.Fatalf("SelectedID() = %q, want the persisted H2", got)
			}

			got, ok := restarted.Current(ctx)
			if !ok || got != h1 {
				t.Errorf("Current() with stale pointer = %v, %v, want H1", got, ok)
			}
		})
	}
}

func TestSelectorSelectIfUnset(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.addAccount(h1, "token-1")
	provider.addAccount(h2, "token-2")
	s := newSelector(t, provider, newFakeSecrets())

	if !s.SelectIfUnset(ctx, "H2") {
		t.Fatal("SelectIfUnset(H2) without pointer = false")
	}
	if s.SelectIfUnset(ctx, "H1") {
		t.Error("SelectIfUnset(H1) replaced a valid pointer")
	}
	if got := s.SelectedID(); got != "H2" {
		t.Errorf("SelectedID() = %q, want H2", got)
	}

	provider.cache.Remove("H2")
	if !s.SelectIfUnset(ctx, "H1") {
		t.Error("SelectIfUnset(H1) with stale pointer = false")
	}
	if got := s.SelectedID(); got != "H1" {
		t.Errorf("SelectedID() = %q, want H1", got)
	}
}

func TestSelectorLoadIgnoresUnreadablePointer(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.values[credential.SelectedAccountSecret] = "{not json"
	provider := newFakeProvider()
	provider.addAccount(h1, "token-1")

	s := newSelector(t, provider, secrets)

	if got := s.SelectedID(); got != "" {
		t.Errorf("SelectedID() = %q, want empty", got)
	}
	if got, ok := s.Current(context.Background()); !ok || got != h1 {
		t.Errorf("Current() = %v, %v, want H1", got, ok)
	}
}

func TestSelectorPointerFormat(t *testing.T) {
	secrets := newFakeSecrets()
	provider := newFakeProvider()
	provider.addAccount(h1, "token-1")
	s := newSelector(t, provider, secrets)

	s.Select(context.Background(), "H1")

	if got, want := secrets.values[credential.SelectedAccountSecret], `{"account_id":"H1"}`; got != want {
		t.Errorf("persisted pointer = %s, want %s", got, want)
	}
}

func TestSelectorRemoveOtherAccountKeepsPointer(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	provider := newFakeProvider()
	provider.addAccount(h1, "token-1")
	provider.addAccount(h2, "token-2")
	s := newSelector(t, provider, secrets)
	s.Select(ctx, "H2")

	if !s.Remove(ctx, "H1") {
		t.Fatal("Remove(H1) = false")
	}
	if got := s.SelectedID(); got != "H2" {
		t.Errorf("SelectedID() = %q, want H2", got)
	}
	if _, ok := secrets.values[credential.TokenCacheSecret]; !ok {
		t.Error("Remove() did not save the token cache")
	}
	if s.Remove(ctx, "H1") {
		t.Error("Remove(H1) twice = true")
	}
}
