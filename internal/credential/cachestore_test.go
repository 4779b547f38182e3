package credential_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/identity"
	"github.com/florianilch/graphbridge/internal/secretstore"
)

func newCacheStore(t *testing.T, cache *identity.Cache, secrets credential.SecretStore) *credential.CacheStore {
	t.Helper()
	s, err := credential.NewCacheStore(cache, secrets)
	if err != nil {
		t.Fatalf("NewCacheStore() error = %v", err)
	}
	return s
}

func TestCacheStoreRoundTrip(t *testing.T) {
	for _, mode := range storeModes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t, mode)
			provider := newFakeProvider()
			provider.addAccount(h1, "token-1")
			provider.addAccount(h2, "token-2")

			if !newCacheStore(t, provider.cache, store).Save(ctx) {
				t.Fatal("Save() of a dirty cache = false")
			}

			restored := identity.NewCache()
			newCacheStore(t, restored, reopenTestStore(t, store.dir)).Load(ctx)

			if diff := cmp.Diff(provider.cache.Accounts(), restored.Accounts()); diff != "" {
				t.Errorf("restored accounts mismatch (-want +got):\n%s", diff)
			}
			want, _ := provider.cache.Marshal()
			got, _ := restored.Marshal()
			if diff := cmp.Diff(string(want), string(got)); diff != "" {
				t.Errorf("restored cache mismatch (-want +got):\n%s", diff)
			}
			if restored.HasChanged() {
				t.Error("freshly loaded cache reports unsaved changes")
			}
		})
	}
}

func TestCacheStoreSaveOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	provider := newFakeProvider()
	s := newCacheStore(t, provider.cache, secrets)

	if s.Save(ctx) {
		t.Error("Save() of an empty cache = true")
	}
	if secrets.writes() != 0 {
		t.Fatalf("writes = %d, want 0", secrets.writes())
	}

	provider.addAccount(h1, "abc")
	if !s.Save(ctx) {
		t.Error("Save() of a dirty cache = false")
	}
	if s.Save(ctx) {
		t.Error("second Save() = true")
	}
	if secrets.writes() != 1 {
		t.Errorf("writes = %d, want 1", secrets.writes())
	}
}

func TestCacheStoreMemoryOnlyStaysDirty(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	secrets.setOutcome(secretstore.OutcomeMemoryOnly)
	provider := newFakeProvider()
	provider.addAccount(h1, "abc")
	s := newCacheStore(t, provider.cache, secrets)

	s.Save(ctx)
	if !provider.cache.HasChanged() {
		t.Fatal("memory-only save cleared the dirty flag")
	}

	secrets.setOutcome(secretstore.OutcomePrimary)
	if !s.Save(ctx) {
		t.Error("Save() did not retry")
	}
	if provider.cache.HasChanged() {
		t.Error("cache still dirty after a durable save")
	}
}

func TestCacheStoreLoadIgnoresCorruptBlob(t *testing.T) {
	secrets := newFakeSecrets()
	secrets.values[credential.TokenCacheSecret] = "not a cache"
	cache := identity.NewCache()

	newCacheStore(t, cache, secrets).Load(context.Background())

	if accounts := cache.Accounts(); len(accounts) != 0 {
		t.Errorf("Accounts() = %v, want empty", accounts)
	}
}

func TestCacheStoreClear(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	provider := newFakeProvider()
	provider.addAccount(h1, "abc")
	s := newCacheStore(t, provider.cache, secrets)
	s.Save(ctx)

	provider.cache.Remove(h1.HomeAccountID)
	s.Clear(ctx, s.Generation())

	if _, ok := secrets.Get(ctx, credential.TokenCacheSecret); ok {
		t.Error("token cache still stored after Clear()")
	}
	if s.Save(ctx) {
		t.Error("Save() after Clear() = true")
	}
}

func TestCacheStoreClearKeepsLaterChanges(t *testing.T) {
	ctx := context.Background()
	secrets := newFakeSecrets()
	provider := newFakeProvider()
	s := newCacheStore(t, provider.cache, secrets)
	cleared := s.Generation()

	// A sign-in lands and is saved before the deletion runs
	provider.addAccount(h2, "def")
	s.Save(ctx)

	s.Clear(ctx, cleared)

	data, ok := secrets.Get(ctx, credential.TokenCacheSecret)
	if !ok {
		t.Fatal("token cache not written again after Clear()")
	}
	restored := identity.NewCache()
	if err := restored.Unmarshal([]byte(data)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff([]identity.Account{h2}, restored.Accounts()); diff != "" {
		t.Errorf("stored accounts mismatch (-want +got):\n%s", diff)
	}
}
