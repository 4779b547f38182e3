package identity

import (
	"strings"

	"golang.org/x/oauth2"
)

// DefaultAuthority signs in work, school and personal Microsoft accounts.
const DefaultAuthority = "https://login.microsoftonline.com/common"

// reservedScopes are added to every request: openid and profile yield the
// id_token describing the account, offline_access yields a refresh token.
var reservedScopes = []string{"openid", "profile", "offline_access"}

// Endpoint returns the OAuth2 v2.0 endpoints below authority.
// Public clients send client_id in the request body.
func Endpoint(authority string) oauth2.Endpoint {
	base := strings.TrimSuffix(authority, "/")
	return oauth2.Endpoint{
		AuthURL:       base + "/oauth2/v2.0/authorize",
		DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
		TokenURL:      base + "/oauth2/v2.0/token",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

// requestScopes returns scopes plus the reserved scopes not already present.
func requestScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+len(reservedScopes))
	for _, s := range scopes {
		if !containsScope(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range reservedScopes {
		if !containsScope(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// coversScopes reports whether granted includes every non-reserved requested scope.
func coversScopes(granted, requested []string) bool {
	for _, s := range requested {
		if containsScope(reservedScopes, s) {
			continue
		}
		if !containsScope(granted, s) {
			return false
		}
	}
	return true
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}
