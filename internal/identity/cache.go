package identity

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// cacheFormatVersion is bumped on incompatible changes to the serialized cache.
const cacheFormatVersion = 1

// cacheEntry holds one account and its token material.
type cacheEntry struct {
	Account      Account   `json:"account"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// cacheDocument is the serialized form of Cache.
type cacheDocument struct {
	Version  int          `json:"version"`
	Accounts []cacheEntry `json:"accounts"`
}

// Cache is the client's token cache. Accounts are kept in insertion order.
//
// Every mutation bumps a generation counter. The cache is dirty while the
// current generation differs from the last one marked saved. Safe for
// concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries []cacheEntry

	generation uint64
	saved      uint64
}

// NewCache creates an empty cache with no unsaved changes.
func NewCache() *Cache {
	return &Cache{}
}

// Marshal serializes the whole cache.
func (c *Cache) Marshal() ([]byte, error) {
	data, _, err := c.Snapshot()
	return data, err
}

// Snapshot serializes the cache and returns the generation it reflects, to be
// passed to MarkSaved once the bytes are stored.
func (c *Cache) Snapshot() ([]byte, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(cacheDocument{
		Version:  cacheFormatVersion,
		Accounts: c.entries,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling token cache: %w", err)
	}
	return data, c.generation, nil
}

// Unmarshal replaces the cache contents with data. The loaded state counts as
// saved since it came from storage.
func (c *Cache) Unmarshal(data []byte) error {
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshaling token cache: %w", err)
	}
	if doc.Version != cacheFormatVersion {
		return fmt.Errorf("unsupported token cache version %d", doc.Version)
	}

	entries := make([]cacheEntry, 0, len(doc.Accounts))
	seen := make(map[string]bool, len(doc.Accounts))
	for _, e := range doc.Accounts {
		if e.Account.HomeAccountID == "" || seen[e.Account.HomeAccountID] {
			continue
		}
		seen[e.Account.HomeAccountID] = true
		entries = append(entries, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.generation++
	c.saved = c.generation
	return nil
}

// HasChanged reports whether the cache holds changes not yet marked saved.
func (c *Cache) HasChanged() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation != c.saved
}

// MarkSaved records that the state of generation has been stored. Changes made
// after that snapshot keep the cache dirty.
func (c *Cache) MarkSaved(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation > c.saved {
		c.saved = generation
	}
}

// MarkAllSaved clears the dirty flag for the current state.
func (c *Cache) MarkAllSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = c.generation
}

// Generation returns the generation of the current state.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// ResetSaved records generation as the stored state, even when a later one
// was marked saved before. Used after the stored copy was replaced or deleted.
func (c *Cache) ResetSaved(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = generation
}

// Accounts returns the cached accounts in insertion order.
func (c *Cache) Accounts() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accounts := make([]Account, len(c.entries))
	for i, e := range c.entries {
		accounts[i] = e.Account
	}
	return accounts
}

// Account returns the cached account with the given home account id.
func (c *Cache) Account(homeAccountID string) (Account, bool) {
	e, ok := c.lookup(homeAccountID)
	return e.Account, ok
}

// Store records a sign-in for account. An existing account keeps its
// position; its refresh token is kept when tok carries none.
func (c *Cache) Store(account Account, tok *oauth2.Token, scopes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{
		Account:      account,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		ExpiresAt:    tok.Expiry,
		ExpiresIn:    tok.ExpiresIn,
		Scopes:       slices.Clone(scopes),
	}

	i := c.index(account.HomeAccountID)
	if i < 0 {
		c.entries = append(c.entries, e)
	} else {
		if e.RefreshToken == "" {
			e.RefreshToken = c.entries[i].RefreshToken
		}
		c.entries[i] = e
	}
	c.generation++
}

// Update replaces the token material of an account that is still cached.
// Reports false, leaving the cache untouched, when the account is gone.
func (c *Cache) Update(account Account, tok *oauth2.Token, scopes []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(account.HomeAccountID)
	if i < 0 {
		return false
	}

	e := c.entries[i]
	e.Account = account
	e.AccessToken = tok.AccessToken
	e.ExpiresAt = tok.Expiry
	e.ExpiresIn = tok.ExpiresIn
	e.Scopes = slices.Clone(scopes)
	if tok.RefreshToken != "" {
		e.RefreshToken = tok.RefreshToken
	}
	c.entries[i] = e
	c.generation++
	return true
}

// Remove drops the account and its tokens. Reports whether it was cached.
func (c *Cache) Remove(homeAccountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.index(homeAccountID)
	if i < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	c.generation++
	return true
}

func (c *Cache) lookup(homeAccountID string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.index(homeAccountID)
	if i < 0 {
		return cacheEntry{}, false
	}
	e := c.entries[i]
	e.Scopes = slices.Clone(e.Scopes)
	return e, true
}

// index must be called with mu held.
func (c *Cache) index(homeAccountID string) int {
	return slices.IndexFunc(c.entries, func(e cacheEntry) bool {
		return e.Account.HomeAccountID == homeAccountID
	})
}
