package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianilch/graphbridge/internal/identity"
)

// Options configures a Manager.
type Options struct {
	// Provider is the identity provider client. Required.
	Provider Provider
	// Secrets persists the token cache and the account selection. Required.
	Secrets SecretStore
	// Scopes requested for every token. Fixed for the Manager's lifetime.
	Scopes []string
}

// LoginStatus tells how Login ended.
type LoginStatus int

const (
	// LoginAlreadyAuthenticated means a usable token existed and no flow ran.
	LoginAlreadyAuthenticated LoginStatus = iota + 1
	// LoginAuthenticated means a device code sign-in completed.
	LoginAuthenticated
)

func (s LoginStatus) String() string {
	switch s {
	case LoginAlreadyAuthenticated:
		return "already_authenticated"
	case LoginAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("LoginStatus(%d)", int(s))
	}
}

// LoginResult describes a successful Login.
type LoginResult struct {
	Status    LoginStatus
	Account   identity.Account
	ExpiresAt time.Time
}

// Manager owns the credential state of the process: the persisted token cache,
// the selected account and interactive sign-in.
type Manager struct {
	provider   Provider
	scopes     []string
	cacheStore *CacheStore
	selector   *AccountSelector
	now        func() time.Time

	// mu serializes operations that read or change the selection together
	// with the cache. Device code polling runs without it.
	mu sync.Mutex

	loggingIn atomic.Bool
}

// NewManager creates a Manager and restores the persisted cache and selection.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("missing identity provider")
	}
	if opts.Secrets == nil {
		return nil, fmt.Errorf("missing secret store")
	}
	if len(opts.Scopes) == 0 {
		return nil, fmt.Errorf("missing scopes")
	}

	cacheStore, err := NewCacheStore(opts.Provider.Cache(), opts.Secrets)
	if err != nil {
		return nil, fmt.Errorf("creating cache store: %w", err)
	}

	selector, err := NewAccountSelector(opts.Provider, opts.Secrets, cacheStore)
	if err != nil {
		return nil, fmt.Errorf("creating account selector: %w", err)
	}

	m := &Manager{
		provider:   opts.Provider,
		scopes:     slices.Clone(opts.Scopes),
		cacheStore: cacheStore,
		selector:   selector,
		now:        time.Now,
	}

	cacheStore.Load(ctx)
	selector.Load(ctx)

	return m, nil
}

// Scopes returns the scopes requested for every token.
func (m *Manager) Scopes() []string {
	return slices.Clone(m.scopes)
}

// GetToken returns an access token for the current account. It never starts
// an interactive sign-in; false means the user has to log in.
func (m *Manager) GetToken(ctx context.Context) (string, bool) {
	tok, ok := m.AccessToken(ctx)
	if !ok {
		return "", false
	}
	return tok.Token, true
}

// AccessToken is GetToken with the token's lifetime.
func (m *Manager) AccessToken(ctx context.Context) (identity.AccessToken, bool) {
	account, ok := m.CurrentAccount(ctx)
	if !ok {
		return identity.AccessToken{}, false
	}

	tok, err := m.provider.AcquireTokenSilent(ctx, m.scopes, account)
	if err != nil {
		if errors.Is(err, identity.ErrNoToken) {
			slog.DebugContext(ctx, "no usable token for account", "account", account.HomeAccountID)
		} else {
			slog.WarnContext(ctx, "silent token acquisition failed", "account", account.HomeAccountID, "error", err)
		}
		return identity.AccessToken{}, false
	}

	// A refresh rotates tokens in the cache
	m.cacheStore.Save(ctx)

	return *tok, true
}

// Login signs the user in with the device code flow. Without force it returns
// LoginAlreadyAuthenticated when a token is already available. notify receives
// the sign-in instructions before Login blocks waiting for the user.
//
// Only one sign-in runs at a time; a concurrent call fails with ErrLoginInProgress.
func (m *Manager) Login(ctx context.Context, force bool, notify Notifier) (LoginResult, error) {
	if !force {
		if tok, ok := m.AccessToken(ctx); ok {
			account, _ := m.CurrentAccount(ctx)
			return LoginResult{
				Status:    LoginAlreadyAuthenticated,
				Account:   account,
				ExpiresAt: expiresAt(tok.ExpiresAt, tok.ExpiresIn, m.now()),
			}, nil
		}
	}

	if !m.loggingIn.CompareAndSwap(false, true) {
		return LoginResult{}, ErrLoginInProgress
	}
	defer m.loggingIn.Store(false)

	flow := NewDeviceCodeFlow(m.provider, m.cacheStore, notify)
	if _, err := flow.Initiate(ctx, m.scopes); err != nil {
		return LoginResult{}, err
	}

	success, err := flow.Complete(ctx)
	if err != nil {
		return LoginResult{}, err
	}

	m.mu.Lock()
	if m.selector.SelectIfUnset(ctx, success.Account.HomeAccountID) {
		slog.InfoContext(ctx, "selected signed-in account", "account", success.Account.HomeAccountID)
	}
	m.mu.Unlock()

	return LoginResult{
		Status:    LoginAuthenticated,
		Account:   success.Account,
		ExpiresAt: expiresAt(success.ExpiresAt, success.ExpiresIn, m.now()),
	}, nil
}

// Logout forgets every cached account and deletes all persisted credential
// state. Safe to call when nobody is signed in.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to list cached accounts", "error", err)
	}
	for _, account := range accounts {
		if err := m.provider.RemoveAccount(ctx, account); err != nil {
			slog.WarnContext(ctx, "failed to remove account", "account", account.HomeAccountID, "error", err)
		}
	}

	// The deleted secret stands for the cache as emptied here
	generation := m.cacheStore.Generation()

	m.selector.Clear(ctx)
	m.cacheStore.Clear(ctx, generation)

	slog.InfoContext(ctx, "logged out", "accounts", len(accounts))
}

// VerifyLogin describes the current sign-in state. It never fails.
func (m *Manager) VerifyLogin(ctx context.Context) string {
	account, ok := m.CurrentAccount(ctx)
	if !ok {
		return "Not logged in. Run login to sign in."
	}

	tok, ok := m.AccessToken(ctx)
	if !ok {
		return fmt.Sprintf("Account %s has no valid token. Run login to sign in again.", account.Label())
	}

	expiry := expiresAt(tok.ExpiresAt, tok.ExpiresIn, m.now())
	return fmt.Sprintf("Logged in as %s. Token valid until %s.", account.Label(), expiry.Local().Format(time.RFC1123))
}

// ListAccounts returns the cached accounts in the order the provider reports them.
func (m *Manager) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cached accounts: %w", err)
	}
	return accounts, nil
}

// CurrentAccount returns the account tokens are issued for.
func (m *Manager) CurrentAccount(ctx context.Context) (identity.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector.Current(ctx)
}

// SelectAccount makes id the current account. False when id is not cached.
func (m *Manager) SelectAccount(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector.Select(ctx, id)
}

// RemoveAccount forgets the account. False when id is not cached.
func (m *Manager) RemoveAccount(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector.Remove(ctx, id)
}

// Shutdown persists cache changes not yet written, such as a refresh whose
// save only reached memory.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("saving token cache: %w", err)
	}

	if m.cacheStore.Save(ctx) {
		slog.DebugContext(ctx, "token cache saved on shutdown")
	}
	return nil
}
