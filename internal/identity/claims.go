package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenClaims are the Microsoft identity platform id_token claims used to
// describe an account.
type idTokenClaims struct {
	jwt.RegisteredClaims
	ObjectID          string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
}

// accountFromIDToken extracts the account from an id_token. The signature is
// not verified: the token was received directly from the token endpoint over
// TLS and is only used to label the cached account.
func accountFromIDToken(raw string) (Account, error) {
	if raw == "" {
		return Account{}, errors.New("token response carried no id_token (is the openid scope requested?)")
	}

	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Account{}, fmt.Errorf("parsing id_token: %w", err)
	}

	homeAccountID := claims.Subject
	if claims.ObjectID != "" && claims.TenantID != "" {
		homeAccountID = claims.ObjectID + "." + claims.TenantID
	}
	if homeAccountID == "" {
		return Account{}, errors.New("id_token carries neither oid/tid nor sub")
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}

	return Account{
		HomeAccountID: homeAccountID,
		Username:      username,
		DisplayName:   claims.Name,
	}, nil
}
