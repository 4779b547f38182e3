package credential_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/identity"
	"github.com/florianilch/graphbridge/internal/secretstore"
)

var testScopes = []string{"User.Read", "Mail.Read"}

var (
	h1 = identity.Account{HomeAccountID: "H1", Username: "ada@example.com", DisplayName: "Ada Lovelace"}
	h2 = identity.Account{HomeAccountID: "H2", Username: "grace@example.com", DisplayName: "Grace Hopper"}
)

// fakeProvider is an identity provider whose device flow outcome is scripted.
// Accounts live in a real identity.Cache so persistence is exercised end to end.
type fakeProvider struct {
	cache *identity.Cache

	mu       sync.Mutex
	tokens   map[string]identity.AccessToken
	code     *identity.DeviceCode
	initErr  error
	result   identity.TokenResult
	pollErr  error
	initiate int
	polls    int
	silent   int

	// pollStarted is closed when PollForToken begins; release unblocks it.
	pollStarted chan struct{}
	release     chan struct{}
}

var _ credential.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		cache:  identity.NewCache(),
		tokens: make(map[string]identity.AccessToken),
		code: &identity.DeviceCode{
			UserCode:        "ABCD-EFGH",
			VerificationURI: "https://login.example.com/device",
			Message:         "Open https://login.example.com/device and enter ABCD-EFGH",
		},
	}
}

// addAccount signs account in directly, bypassing the device flow.
func (p *fakeProvider) addAccount(account identity.Account, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storeLocked(account, identity.AccessToken{Token: token, ExpiresIn: 3600})
}

func (p *fakeProvider) storeLocked(account identity.Account, tok identity.AccessToken) {
	p.tokens[account.HomeAccountID] = tok
	p.cache.Store(account, &oauth2.Token{
		AccessToken:  tok.Token,
		RefreshToken: "refresh-" + account.HomeAccountID,
		Expiry:       tok.ExpiresAt,
		ExpiresIn:    tok.ExpiresIn,
	}, testScopes)
}

// approve scripts the next device flow to succeed for account.
func (p *fakeProvider) approve(account identity.Account, token string, expiresIn int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = identity.Success{Token: token, ExpiresIn: expiresIn, Account: account}
}

func (p *fakeProvider) counts() (initiate, polls, silent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initiate, p.polls, p.silent
}

func (p *fakeProvider) Cache() *identity.Cache {
	return p.cache
}

func (p *fakeProvider) InitiateDeviceFlow(_ context.Context, _ []string) (*identity.DeviceCode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiate++
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p.code, nil
}

func (p *fakeProvider) PollForToken(ctx context.Context, _ *identity.DeviceCode) (identity.TokenResult, error) {
	p.mu.Lock()
	p.polls++
	started, release := p.pollStarted, p.release
	p.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	if s, ok := p.result.(identity.Success); ok {
		p.storeLocked(s.Account, identity.AccessToken{Token: s.Token, ExpiresAt: s.ExpiresAt, ExpiresIn: s.ExpiresIn})
	}
	if p.result == nil {
		return identity.Failure{ErrorCode: "expired_token", Description: "no outcome scripted"}, nil
	}
	return p.result, nil
}

func (p *fakeProvider) AcquireTokenSilent(_ context.Context, _ []string, account identity.Account) (*identity.AccessToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent++
	if _, ok := p.cache.Account(account.HomeAccountID); !ok {
		return nil, identity.ErrNoToken
	}
	tok, ok := p.tokens[account.HomeAccountID]
	if !ok {
		return nil, identity.ErrNoToken
	}
	return &tok, nil
}

func (p *fakeProvider) Accounts(ctx context.Context) ([]identity.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.cache.Accounts(), nil
}

func (p *fakeProvider) RemoveAccount(_ context.Context, account identity.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, account.HomeAccountID)
	p.cache.Remove(account.HomeAccountID)
	return nil
}

// countingBackend counts calls into a wrapped Backend.
type countingBackend struct {
	secretstore.Backend

	mu   sync.Mutex
	sets int
}

func (c *countingBackend) Set(ctx context.Context, name, value string) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.Backend.Set(ctx, name, value)
}

func (c *countingBackend) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

// storeMode configures the keyring the secret store runs against.
type storeMode struct {
	name    string
	keyring func()
}

// storeModes covers a working keyring and a keyring that fails every call,
// leaving only the fallback files.
var storeModes = []storeMode{
	{name: "keyring", keyring: keyring.MockInit},
	{name: "fallback-only", keyring: func() { keyring.MockInitWithError(errors.New("no secret service")) }},
}

// testStore is a real secret store over the mocked keyring and a temp directory.
type testStore struct {
	*secretstore.Store

	dir      string
	primary  *countingBackend
	fallback *countingBackend
}

func (s *testStore) writes() int {
	return s.primary.writes() + s.fallback.writes()
}

func newTestStore(t *testing.T, mode storeMode) *testStore {
	t.Helper()
	mode.keyring()
	return reopenTestStore(t, t.TempDir())
}

// reopenTestStore builds a store over the current keyring mock and an existing
// fallback directory, as a restarted process would.
func reopenTestStore(t *testing.T, dir string) *testStore {
	t.Helper()

	kr, err := secretstore.NewKeyringBackend("graphbridge-test")
	if err != nil {
		t.Fatalf("NewKeyringBackend() error = %v", err)
	}
	file, err := secretstore.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	primary := &countingBackend{Backend: kr}
	fallback := &countingBackend{Backend: file}
	store, err := secretstore.New(primary, fallback)
	if err != nil {
		t.Fatalf("secretstore.New() error = %v", err)
	}
	return &testStore{Store: store, dir: dir, primary: primary, fallback: fallback}
}

func newTestManager(t *testing.T, provider *fakeProvider, store credential.SecretStore) *credential.Manager {
	t.Helper()
	m, err := credential.NewManager(context.Background(), credential.Options{
		Provider: provider,
		Secrets:  store,
		Scopes:   testScopes,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

// fakeSecrets is a SecretStore with a scripted Outcome.
type fakeSecrets struct {
	mu      sync.Mutex
	values  map[string]string
	outcome secretstore.Outcome
	sets    int

	// onDelete runs after a secret was deleted, outside the lock.
	onDelete func(name string)
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{values: make(map[string]string), outcome: secretstore.OutcomePrimary}
}

func (s *fakeSecrets) Get(_ context.Context, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *fakeSecrets) Set(_ context.Context, name, value string) secretstore.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.values[name] = value
	return s.outcome
}

func (s *fakeSecrets) Delete(_ context.Context, name string) {
	s.mu.Lock()
	delete(s.values, name)
	hook := s.onDelete
	s.mu.Unlock()

	if hook != nil {
		hook(name)
	}
}

func (s *fakeSecrets) setOutcome(o secretstore.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
}

func (s *fakeSecrets) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// waitFor fails the test if ch is not closed within a second.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
