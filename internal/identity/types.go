package identity

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by silent acquisition when the cache holds nothing
// usable for the account.
var ErrNoToken = errors.New("no cached token for account")

// Account is an identity known to the token cache.
type Account struct {
	// HomeAccountID is the stable, provider-assigned identifier ("<oid>.<tid>").
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name,omitempty"`
}

// Label returns a human-readable name for the account.
func (a Account) Label() string {
	switch {
	case a.DisplayName != "" && a.Username != "":
		return a.DisplayName + " <" + a.Username + ">"
	case a.Username != "":
		return a.Username
	case a.DisplayName != "":
		return a.DisplayName
	default:
		return a.HomeAccountID
	}
}

// AccessToken is a bearer token with whatever lifetime information the
// provider reported. ExpiresAt is zero when only a relative lifetime is known;
// ExpiresIn is zero when the provider omitted it.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64
}

// DeviceCode is an issued device authorization awaiting user action.
type DeviceCode struct {
	UserCode        string
	VerificationURI string
	// Message is the human-readable sign-in instruction.
	Message   string
	ExpiresAt time.Time
	Scopes    []string

	// auth is the raw response when the code was issued by Client.
	auth *oauth2.DeviceAuthResponse
}

// TokenResult is the outcome of polling for a device code token.
// It is either Success or Failure.
type TokenResult interface {
	isTokenResult()
}

// Success is a completed sign-in.
type Success struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64
	Account   Account
}

// Failure is a sign-in the provider ended with an OAuth error
// (access_denied, expired_token, ...).
type Failure struct {
	ErrorCode   string
	Description string
}

func (Success) isTokenResult() {}
func (Failure) isTokenResult() {}

// Compile-time checks for the TokenResult variants
var (
	_ TokenResult = Success{}
	_ TokenResult = Failure{}
)
