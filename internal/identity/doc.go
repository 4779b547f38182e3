// Package identity is the OAuth client for the Microsoft identity platform.
//
// Client drives the device authorization grant (RFC 8628) and refresh token
// redemption through golang.org/x/oauth2 and keeps every account it signs in
// inside a Cache. The Cache is the client's token cache: accounts in insertion
// order with their refresh and access tokens, serializable to an opaque blob and
// carrying a dirty flag so callers can skip no-op writes.
//
// # Device code sign-in
//
//	code, err := client.InitiateDeviceFlow(ctx, scopes)
//	fmt.Println(code.Message)
//	result, err := client.PollForToken(ctx, code)
//	switch r := result.(type) {
//	case identity.Success:
//		// r.Account is now cached
//	case identity.Failure:
//		// r.ErrorCode, r.Description
//	}
//
// # Custom Base Transport
//
// Configure a custom base transport for identity requests (e.g., for proxies or tests):
//
//	client, err := identity.NewClient(clientID, authority, identity.WithTransport(customTransport))
package identity
