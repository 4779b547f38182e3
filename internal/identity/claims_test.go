package identity

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return raw
}

func TestAccountFromIDToken(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		want    Account
		wantErr bool
	}{
		{
			name: "oid and tid form the home account id",
			claims: jwt.MapClaims{
				"oid": "o1", "tid": "t1", "sub": "s1",
				"preferred_username": "ada@example.com", "name": "Ada",
			},
			want: Account{HomeAccountID: "o1.t1", Username: "ada@example.com", DisplayName: "Ada"},
		},
		{
			name:   "sub and email when oid is missing",
			claims: jwt.MapClaims{"sub": "s1", "email": "grace@example.com"},
			want:   Account{HomeAccountID: "s1", Username: "grace@example.com"},
		},
		{
			name:    "no identifier",
			claims:  jwt.MapClaims{"name": "Nobody"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := accountFromIDToken(signedIDToken(t, tt.claims))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("accountFromIDToken() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("accountFromIDToken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("accountFromIDToken() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAccountFromIDTokenRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not-a-jwt"} {
		if _, err := accountFromIDToken(raw); err == nil {
			t.Errorf("accountFromIDToken(%q) succeeded", raw)
		}
	}
}

func TestRequestScopes(t *testing.T) {
	got := requestScopes([]string{"User.Read", "openid", "user.read"})
	want := []string{"User.Read", "openid", "profile", "offline_access"}
	if len(got) != len(want) {
		t.Fatalf("requestScopes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("requestScopes() = %v, want %v", got, want)
		}
	}
}
