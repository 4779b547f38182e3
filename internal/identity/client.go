package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// refreshSkew renews access tokens this long before they expire.
const refreshSkew = 5 * time.Minute

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration for NewClient.
type clientConfig struct {
	baseTransport http.RoundTripper
	cache         *Cache
	now           func() time.Time
}

// WithTransport sets a custom base transport for identity requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithCache makes the client use an existing token cache.
func WithCache(cache *Cache) Option {
	return func(c *clientConfig) {
		c.cache = cache
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// Client is a public OAuth2 client for the Microsoft identity platform.
// Safe for concurrent use.
type Client struct {
	config     oauth2.Config
	httpClient *http.Client
	cache      *Cache
	now        func() time.Time

	// Collapses concurrent refreshes of the same account
	refreshes singleflight.Group
}

// NewClient creates a Client for the public client clientID under authority
// (e.g. DefaultAuthority or a tenant-specific authority).
func NewClient(clientID, authority string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}
	u, err := url.Parse(authority)
	if err != nil {
		return nil, fmt.Errorf("invalid authority: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("invalid authority %q: expected an absolute http(s) URL", authority)
	}

	cfg := &clientConfig{
		baseTransport: http.DefaultTransport,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.cache == nil {
		cfg.cache = NewCache()
	}

	return &Client{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: "", // Public client
			Endpoint:     Endpoint(authority),
		},
		httpClient: &http.Client{
			Timeout:   30 * time.Second, // Bounds each identity request; polling spans many requests
			Transport: cfg.baseTransport,
		},
		cache: cfg.cache,
		now:   cfg.now,
	}, nil
}

// Cache returns the client's live token cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// InitiateDeviceFlow requests a device code for scopes.
func (c *Client) InitiateDeviceFlow(ctx context.Context, scopes []string) (*DeviceCode, error) {
	da, err := c.configFor(scopes).DeviceAuth(c.withHTTPClient(ctx))
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}

	return &DeviceCode{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		Message:         instructions(da),
		ExpiresAt:       da.Expiry,
		Scopes:          slices.Clone(scopes),
		auth:            da,
	}, nil
}

// PollForToken blocks until the user completes, denies, or lets the device code
// expire. Provider-reported outcomes are returned as Success or Failure; the
// error is reserved for transport problems and ctx cancellation. On Success the
// account is stored in the cache.
func (c *Client) PollForToken(ctx context.Context, code *DeviceCode) (TokenResult, error) {
	if code == nil || code.auth == nil {
		return nil, errors.New("device code was not issued by this client")
	}

	tok, err := c.configFor(code.Scopes).DeviceAccessToken(c.withHTTPClient(ctx), code.auth)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		switch {
		case errors.As(err, &retrieveErr):
			return Failure{ErrorCode: retrieveErr.ErrorCode, Description: describe(retrieveErr)}, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// oauth2 bounds polling by the device code expiry
			return Failure{ErrorCode: "expired_token", Description: "the device code expired before sign-in completed"}, nil
		default:
			return nil, fmt.Errorf("polling token endpoint: %w", err)
		}
	}

	account, err := accountFromIDToken(idToken(tok))
	if err != nil {
		return nil, err
	}

	c.cache.Store(account, tok, code.Scopes)

	return Success{
		Token:     tok.AccessToken,
		ExpiresAt: tok.Expiry,
		ExpiresIn: tok.ExpiresIn,
		Account:   account,
	}, nil
}

// AcquireTokenSilent returns a cached access token for account, redeeming the
// refresh token when the access token is missing, about to expire, or lacks a
// requested scope. Returns ErrNoToken when nothing usable is cached.
func (c *Client) AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (*AccessToken, error) {
	e, ok := c.cache.lookup(account.HomeAccountID)
	if !ok {
		return nil, ErrNoToken
	}

	if e.AccessToken != "" && coversScopes(e.Scopes, scopes) && c.now().Add(refreshSkew).Before(e.ExpiresAt) {
		return &AccessToken{Token: e.AccessToken, ExpiresAt: e.ExpiresAt, ExpiresIn: e.ExpiresIn}, nil
	}

	if e.RefreshToken == "" {
		return nil, ErrNoToken
	}

	// The shared refresh is detached from any single caller and bounded by the
	// HTTP client timeout; each caller stops waiting when its own ctx ends
	ch := c.refreshes.DoChan(account.HomeAccountID, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx), e, scopes)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessToken), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	}
}

// Accounts returns the cached accounts in insertion order.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.cache.Accounts(), nil
}

// RemoveAccount drops the account and its tokens from the cache.
func (c *Client) RemoveAccount(ctx context.Context, account Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.cache.Remove(account.HomeAccountID)
	return nil
}

func (c *Client) refresh(ctx context.Context, e cacheEntry, scopes []string) (*AccessToken, error) {
	// An expired token with only the refresh token set forces oauth2 to redeem it
	current := &oauth2.Token{RefreshToken: e.RefreshToken}
	tok, err := c.configFor(scopes).TokenSource(c.withHTTPClient(ctx), current).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token for %s: %w", e.Account.HomeAccountID, err)
	}

	account := e.Account
	if raw := idToken(tok); raw != "" {
		if fresh, err := accountFromIDToken(raw); err == nil && fresh.HomeAccountID == account.HomeAccountID {
			account = fresh
		}
	}

	// The account may have been removed while the refresh was in flight
	if !c.cache.Update(account, tok, scopes) {
		return nil, ErrNoToken
	}

	return &AccessToken{Token: tok.AccessToken, ExpiresAt: tok.Expiry, ExpiresIn: tok.ExpiresIn}, nil
}

// configFor returns a copy of the client config requesting scopes.
func (c *Client) configFor(scopes []string) *oauth2.Config {
	cfg := c.config
	cfg.Scopes = requestScopes(scopes)
	return &cfg
}

// withHTTPClient injects the client's HTTP client the way oauth2 expects
// (oauth2.HTTPClient context key).
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func idToken(tok *oauth2.Token) string {
	raw, _ := tok.Extra("id_token").(string)
	return raw
}

func describe(err *oauth2.RetrieveError) string {
	if err.ErrorDescription != "" {
		return err.ErrorDescription
	}
	if err.ErrorCode != "" {
		return err.ErrorCode
	}
	return err.Error()
}

func instructions(da *oauth2.DeviceAuthResponse) string {
	return fmt.Sprintf("To sign in, use a web browser to open the page %s and enter the code %s to authenticate.",
		da.VerificationURI, da.UserCode)
}
