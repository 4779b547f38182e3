// Package identitytest provides a scripted Microsoft identity platform endpoint
// for tests.
package identitytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Tenant is the authority path segment served by Server.
	Tenant = "test-tenant"
	// DeviceCode is the opaque device code handed out by Server.
	DeviceCode = "device-code-1"
	// VerificationURI is the page users are told to open.
	VerificationURI = "https://microsoft.com/devicelogin"

	deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"
)

// Identity describes the user that approves a device code.
type Identity struct {
	ObjectID string
	TenantID string
	Username string
	Name     string
}

// HomeAccountID returns the home account id the client derives from the identity.
func (i Identity) HomeAccountID() string {
	return i.ObjectID + "." + i.TenantID
}

type outcome struct {
	identity    Identity
	accessToken string
	expiresIn   int

	errorCode   string
	description string
}

// Server is an httptest server speaking the v2.0 devicecode and token endpoints.
// Device codes stay pending until ApproveAs or Deny is called.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	userCode      string
	pendingPolls  int
	outcome       *outcome
	refreshTokens map[string]outcome
	refreshReply  string
	refreshError  string
	issued        int

	refreshHeld    chan struct{}
	refreshRelease chan struct{}

	deviceRequests  int
	pollRequests    int
	refreshRequests int
}

// NewServer starts a Server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		userCode:      "ABCD-EFGH",
		refreshTokens: make(map[string]outcome),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{tenant}/oauth2/v2.0/devicecode", s.handleDeviceCode)
	mux.HandleFunc("POST /{tenant}/oauth2/v2.0/token", s.handleToken)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Authority returns the authority URL to configure clients with.
func (s *Server) Authority() string {
	return s.URL + "/" + Tenant
}

// UserCode returns the user code the server hands out.
func (s *Server) UserCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCode
}

// OmitUserCode makes the devicecode endpoint answer without a user_code.
func (s *Server) OmitUserCode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCode = ""
}

// SetPendingPolls answers the next n polls with authorization_pending.
func (s *Server) SetPendingPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPolls = n
}

// ApproveAs completes the device code as id with the given access token.
func (s *Server) ApproveAs(id Identity, accessToken string, expiresIn int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = &outcome{identity: id, accessToken: accessToken, expiresIn: expiresIn}
}

// Deny ends the device code with an OAuth error.
func (s *Server) Deny(errorCode, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = &outcome{errorCode: errorCode, description: description}
}

// SetRefreshAccessToken sets the access token returned by refresh grants.
func (s *Server) SetRefreshAccessToken(accessToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshReply = accessToken
}

// RejectRefresh answers refresh grants with the given OAuth error code.
func (s *Server) RejectRefresh(errorCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshError = errorCode
}

// HoldRefresh blocks refresh grants until release is called. The returned
// channel is closed when the first held refresh arrives.
func (s *Server) HoldRefresh() (held <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshHeld = make(chan struct{})
	s.refreshRelease = make(chan struct{})

	gate := s.refreshRelease
	var once sync.Once
	return s.refreshHeld, func() { once.Do(func() { close(gate) }) }
}

// Requests returns how many devicecode, device polls, and refresh requests arrived.
func (s *Server) Requests() (device, poll, refresh int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceRequests, s.pollRequests, s.refreshRequests
}

func (s *Server) handleDeviceCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceRequests++

	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") == "" {
		writeError(w, "invalid_request", "client_id missing")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      DeviceCode,
		"user_code":        s.userCode,
		"verification_uri": VerificationURI,
		"expires_in":       900,
		"interval":         1,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, "invalid_request", err.Error())
		return
	}

	if r.PostForm.Get("grant_type") == "refresh_token" {
		s.waitForRelease(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case deviceCodeGrant:
		s.pollRequests++
		if r.PostForm.Get("device_code") != DeviceCode {
			writeError(w, "invalid_grant", "unknown device code")
			return
		}
		if s.pendingPolls > 0 || s.outcome == nil {
			s.pendingPolls--
			writeError(w, "authorization_pending", "")
			return
		}
		if s.outcome.errorCode != "" {
			writeError(w, s.outcome.errorCode, s.outcome.description)
			return
		}
		s.writeToken(w, *s.outcome)

	case "refresh_token":
		s.refreshRequests++
		if s.refreshError != "" {
			writeError(w, s.refreshError, "refresh rejected")
			return
		}
		o, ok := s.refreshTokens[r.PostForm.Get("refresh_token")]
		if !ok {
			writeError(w, "invalid_grant", "unknown refresh token")
			return
		}
		delete(s.refreshTokens, r.PostForm.Get("refresh_token"))
		if s.refreshReply != "" {
			o.accessToken = s.refreshReply
		}
		s.writeToken(w, o)

	default:
		writeError(w, "unsupported_grant_type", "")
	}
}

func (s *Server) waitForRelease(r *http.Request) {
	s.mu.Lock()
	held, release := s.refreshHeld, s.refreshRelease
	if held != nil {
		select {
		case <-held:
		default:
			close(held)
		}
	}
	s.mu.Unlock()

	if release == nil {
		return
	}
	select {
	case <-release:
	case <-r.Context().Done():
	}
}

// writeToken must be called with mu held.
func (s *Server) writeToken(w http.ResponseWriter, o outcome) {
	s.issued++
	refreshToken := "refresh-" + strconv.Itoa(s.issued)
	s.refreshTokens[refreshToken] = o

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"oid":                o.identity.ObjectID,
		"tid":                o.identity.TenantID,
		"sub":                "sub-" + o.identity.ObjectID,
		"preferred_username": o.identity.Username,
		"name":               o.identity.Name,
	}).SignedString([]byte("identitytest"))
	if err != nil {
		writeError(w, "server_error", fmt.Sprintf("signing id_token: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"access_token":  o.accessToken,
		"refresh_token": refreshToken,
		"expires_in":    o.expiresIn,
		"id_token":      idToken,
	})
}

func writeError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
