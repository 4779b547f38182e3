package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/florianilch/graphbridge/internal/identity"
)

// selectionPointer is the persisted form of the selected account.
type selectionPointer struct {
	AccountID string `json:"account_id"`
}

// AccountSelector tracks which cached account is current. The pointer may
// reference an account that is no longer cached; such a stale pointer is
// tolerated and Current falls back to the first cached account.
//
// Not safe for concurrent use; Manager serializes access.
type AccountSelector struct {
	accounts   AccountSource
	secrets    SecretStore
	cacheStore *CacheStore

	selectedID string
}

// NewAccountSelector creates an AccountSelector. Call Load to restore the pointer.
func NewAccountSelector(accounts AccountSource, secrets SecretStore, cacheStore *CacheStore) (*AccountSelector, error) {
	if accounts == nil {
		return nil, fmt.Errorf("missing account source")
	}
	if secrets == nil {
		return nil, fmt.Errorf("missing secret store")
	}
	if cacheStore == nil {
		return nil, fmt.Errorf("missing cache store")
	}

	return &AccountSelector{
		accounts:   accounts,
		secrets:    secrets,
		cacheStore: cacheStore,
	}, nil
}

// Load restores the persisted pointer. Missing or unreadable pointers leave
// no selection.
func (s *AccountSelector) Load(ctx context.Context) {
	s.selectedID = ""

	data, ok := s.secrets.Get(ctx, SelectedAccountSecret)
	if !ok {
		return
	}

	var pointer selectionPointer
	if err := json.Unmarshal([]byte(data), &pointer); err != nil {
		slog.WarnContext(ctx, "ignoring unreadable account selection", "error", err)
		return
	}
	s.selectedID = pointer.AccountID
}

// SelectedID returns the raw pointer value, which may be empty or stale.
func (s *AccountSelector) SelectedID() string {
	return s.selectedID
}

// Current returns the selected account, falling back to the first cached
// account when nothing is selected or the selection is stale.
func (s *AccountSelector) Current(ctx context.Context) (identity.Account, bool) {
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list cached accounts", "error", err)
		return identity.Account{}, false
	}
	if len(accounts) == 0 {
		return identity.Account{}, false
	}

	if s.selectedID == "" {
		return accounts[0], true
	}

	if account, ok := find(accounts, s.selectedID); ok {
		return account, true
	}

	slog.WarnContext(ctx, "stale selected account, using first cached account",
		"selected_account", s.selectedID,
		"fallback_account", accounts[0].HomeAccountID,
	)
	return accounts[0], true
}

// Select makes id the current account. Returns false, changing nothing, when
// id is not cached.
func (s *AccountSelector) Select(ctx context.Context, id string) bool {
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list cached accounts", "error", err)
		return false
	}
	if _, ok := find(accounts, id); !ok {
		return false
	}

	s.selectedID = id
	s.persist(ctx)
	return true
}

// SelectIfUnset selects id when there is no usable selection: no pointer, or a
// pointer to an account that is no longer cached.
func (s *AccountSelector) SelectIfUnset(ctx context.Context, id string) bool {
	if s.selectedID != "" {
		accounts, err := s.accounts.Accounts(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to list cached accounts", "error", err)
			return false
		}
		if _, ok := find(accounts, s.selectedID); ok {
			return false
		}
	}
	return s.Select(ctx, id)
}

// Remove drops the account from the token cache, clears the pointer if it
// referenced id, and saves the cache. Returns false when id is not cached.
func (s *AccountSelector) Remove(ctx context.Context, id string) bool {
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list cached accounts", "error", err)
		return false
	}
	account, ok := find(accounts, id)
	if !ok {
		return false
	}

	if err := s.accounts.RemoveAccount(ctx, account); err != nil {
		slog.WarnContext(ctx, "failed to remove account", "account", id, "error", err)
		return false
	}

	if s.selectedID == id {
		s.Clear(ctx)
	}

	s.cacheStore.Save(ctx)
	return true
}

// Clear drops the pointer in memory and in every SecretStore backend.
func (s *AccountSelector) Clear(ctx context.Context) {
	s.selectedID = ""
	s.secrets.Delete(ctx, SelectedAccountSecret)
}

func (s *AccountSelector) persist(ctx context.Context) {
	data, err := json.Marshal(selectionPointer{AccountID: s.selectedID})
	if err != nil {
		slog.ErrorContext(ctx, "failed to serialize account selection", "error", err)
		return
	}

	outcome := s.secrets.Set(ctx, SelectedAccountSecret, string(data))
	slog.DebugContext(ctx, "account selection saved", "account", s.selectedID, "storage", outcome.String())
}

func find(accounts []identity.Account, id string) (identity.Account, bool) {
	for _, a := range accounts {
		if a.HomeAccountID == id {
			return a, true
		}
	}
	return identity.Account{}, false
}
