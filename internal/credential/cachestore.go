package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/florianilch/graphbridge/internal/identity"
)

// CacheStore persists the identity client's token cache in a SecretStore.
// All writes are serialized.
type CacheStore struct {
	cache   *identity.Cache
	secrets SecretStore

	mu sync.Mutex
}

// NewCacheStore creates a CacheStore for cache backed by secrets.
func NewCacheStore(cache *identity.Cache, secrets SecretStore) (*CacheStore, error) {
	if cache == nil {
		return nil, fmt.Errorf("missing token cache")
	}
	if secrets == nil {
		return nil, fmt.Errorf("missing secret store")
	}

	return &CacheStore{
		cache:   cache,
		secrets: secrets,
	}, nil
}

// Load restores the persisted cache into the live cache. A missing secret is a
// first run. A blob that cannot be read is logged and ignored, leaving the cache
// empty so the user can sign in again.
func (s *CacheStore) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.secrets.Get(ctx, TokenCacheSecret)
	if !ok {
		slog.DebugContext(ctx, "no persisted token cache")
		return
	}

	if err := s.cache.Unmarshal([]byte(data)); err != nil {
		slog.WarnContext(ctx, "ignoring unreadable token cache", "error", err)
		return
	}

	slog.DebugContext(ctx, "token cache loaded", "accounts", len(s.cache.Accounts()))
}

// Save writes the cache when it has unsaved changes and reports whether a
// write was attempted. The dirty flag is cleared only when the value reached
// durable storage, so a later Save retries a memory-only write.
func (s *CacheStore) Save(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *CacheStore) saveLocked(ctx context.Context) bool {
	if !s.cache.HasChanged() {
		return false
	}

	data, generation, err := s.cache.Snapshot()
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize token cache", "error", err)
		return false
	}

	outcome := s.secrets.Set(ctx, TokenCacheSecret, string(data))
	if outcome.Durable() {
		s.cache.MarkSaved(generation)
	}

	slog.DebugContext(ctx, "token cache saved", "storage", outcome.String())
	return true
}

// Generation returns the generation of the live cache, for Clear.
func (s *CacheStore) Generation() uint64 {
	return s.cache.Generation()
}

// Clear deletes the persisted cache, which stands for the cache state at
// generation. Changes made after generation, such as a sign-in completing
// meanwhile, are written again.
func (s *CacheStore) Clear(ctx context.Context, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets.Delete(ctx, TokenCacheSecret)
	s.cache.ResetSaved(generation)

	if s.saveLocked(ctx) {
		slog.InfoContext(ctx, "token cache changed while clearing, saved again")
	}
}
