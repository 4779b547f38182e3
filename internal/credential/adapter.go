package credential

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/graphbridge/internal/identity"
)

// defaultLifetime applies when the provider reported neither an expiry nor a lifetime.
const defaultLifetime = 3600 * time.Second

// TokenProvider supplies access tokens for the current account.
type TokenProvider interface {
	AccessToken(ctx context.Context) (identity.AccessToken, bool)
}

// BearerToken is an access token with an absolute expiry.
type BearerToken struct {
	Token     string
	ExpiresAt time.Time
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterClock overrides the clock used to turn relative lifetimes into expiries.
func WithAdapterClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		a.now = now
	}
}

// Adapter exposes the Manager's tokens to HTTP clients.
//
// Scopes are fixed when the Manager is constructed; scopes passed to GetToken
// are ignored.
type Adapter struct {
	tokens TokenProvider
	now    func() time.Time
}

// Compile-time check to ensure Adapter implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Adapter)(nil)

// NewAdapter creates an Adapter over tokens.
func NewAdapter(tokens TokenProvider, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetToken returns a bearer token for the current account, or
// ErrAuthenticationRequired when the user has to sign in.
func (a *Adapter) GetToken(ctx context.Context, _ ...string) (BearerToken, error) {
	tok, ok := a.tokens.AccessToken(ctx)
	if !ok || tok.Token == "" {
		return BearerToken{}, ErrAuthenticationRequired
	}

	return BearerToken{
		Token:     tok.Token,
		ExpiresAt: expiresAt(tok.ExpiresAt, tok.ExpiresIn, a.now()),
	}, nil
}

// Token implements oauth2.TokenSource.
func (a *Adapter) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter
	bearer, err := a.GetToken(context.Background())
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: bearer.Token,
		TokenType:   "Bearer",
		Expiry:      bearer.ExpiresAt,
	}, nil
}

// expiresAt prefers the absolute expiry, then the relative lifetime, then the default.
func expiresAt(absolute time.Time, lifetimeSeconds int64, now time.Time) time.Time {
	switch {
	case !absolute.IsZero():
		return absolute
	case lifetimeSeconds > 0:
		return now.Add(time.Duration(lifetimeSeconds) * time.Second)
	default:
		return now.Add(defaultLifetime)
	}
}
