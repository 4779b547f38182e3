package credential

import (
	"context"

	"github.com/florianilch/graphbridge/internal/identity"
	"github.com/florianilch/graphbridge/internal/secretstore"
)

// Secret names shared by every SecretStore backend.
const (
	TokenCacheSecret      = "token-cache"
	SelectedAccountSecret = "selected-account"
)

// SecretStore persists named secrets. Implementations absorb their own
// failures and report where a value ended up instead.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, bool)
	Set(ctx context.Context, name, value string) secretstore.Outcome
	Delete(ctx context.Context, name string)
}

// DeviceFlowProvider issues and redeems device codes.
type DeviceFlowProvider interface {
	InitiateDeviceFlow(ctx context.Context, scopes []string) (*identity.DeviceCode, error)
	PollForToken(ctx context.Context, code *identity.DeviceCode) (identity.TokenResult, error)
}

// AccountSource lists and removes the accounts held in the token cache.
type AccountSource interface {
	Accounts(ctx context.Context) ([]identity.Account, error)
	RemoveAccount(ctx context.Context, account identity.Account) error
}

// Provider is the identity provider client the Manager drives.
type Provider interface {
	DeviceFlowProvider
	AccountSource

	// Cache returns the live token cache the provider reads and writes.
	Cache() *identity.Cache

	// AcquireTokenSilent returns a token for account without user interaction.
	AcquireTokenSilent(ctx context.Context, scopes []string, account identity.Account) (*identity.AccessToken, error)
}

// Compile-time checks for the production implementations
var (
	_ Provider    = (*identity.Client)(nil)
	_ SecretStore = (*secretstore.Store)(nil)
)
