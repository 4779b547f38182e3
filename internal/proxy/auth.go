package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/identity"
)

// heartbeatInterval keeps idle login streams open through intermediaries.
const heartbeatInterval = 15 * time.Second

// Credentials is the credential manager surface served over HTTP.
type Credentials interface {
	Login(ctx context.Context, force bool, notify credential.Notifier) (credential.LoginResult, error)
	Logout(ctx context.Context)
	VerifyLogin(ctx context.Context) string
	ListAccounts(ctx context.Context) ([]identity.Account, error)
	CurrentAccount(ctx context.Context) (identity.Account, bool)
	SelectAccount(ctx context.Context, id string) bool
	RemoveAccount(ctx context.Context, id string) bool
}

// Compile-time check to ensure the credential manager can be served
var _ Credentials = (*credential.Manager)(nil)

// StatusResponse is the body of GET /auth/status.
type StatusResponse struct {
	Message string `json:"message"`
}

// AccountResponse is a cached account as listed by GET /auth/accounts.
type AccountResponse struct {
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username"`
	DisplayName   string `json:"display_name,omitempty"`
	Selected      bool   `json:"selected"`
}

// AccountsResponse is the body of GET /auth/accounts.
type AccountsResponse struct {
	Accounts []AccountResponse `json:"accounts"`
}

// LoginPendingEvent carries the sign-in instructions.
type LoginPendingEvent struct {
	Message string `json:"message"`
}

// LoginResultEvent ends a login stream successfully.
type LoginResultEvent struct {
	Account   AccountResponse `json:"account"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AuthHandlers serves the /auth endpoints.
type AuthHandlers struct {
	Credentials Credentials
}

func (h *AuthHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(ctx, w, StatusResponse{Message: h.Credentials.VerifyLogin(ctx)}, http.StatusOK)
}

func (h *AuthHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accounts, err := h.Credentials.ListAccounts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list accounts", "error", err)
		writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	current, hasCurrent := h.Credentials.CurrentAccount(ctx)

	resp := AccountsResponse{Accounts: make([]AccountResponse, 0, len(accounts))}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, accountResponse(a, hasCurrent && a.HomeAccountID == current.HomeAccountID))
	}

	writeJSON(ctx, w, resp, http.StatusOK)
}

func (h *AuthHandlers) selectAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if !h.Credentials.SelectAccount(ctx, id) {
		writeJSONError(ctx, w, "account not found", http.StatusNotFound)
		return
	}

	account, _ := h.Credentials.CurrentAccount(ctx)
	writeJSON(ctx, w, accountResponse(account, true), http.StatusOK)
}

func (h *AuthHandlers) removeAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.Credentials.RemoveAccount(ctx, r.PathValue("id")) {
		writeJSONError(ctx, w, "account not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	h.Credentials.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type loginOutcome struct {
	result credential.LoginResult
	err    error
}

// loginStream opens the SSE response lazily, so failures before the first
// event can still be answered with a plain status code.
type loginStream struct {
	w   http.ResponseWriter
	sse *SSEWriter
}

func (s *loginStream) started() bool {
	return s.sse != nil
}

func (s *loginStream) send(ctx context.Context, event string, v any) {
	if s.sse == nil {
		sse, err := NewSSEWriter(s.w)
		if err != nil {
			slog.ErrorContext(ctx, "failed to start login stream", "error", err)
			writeJSONError(ctx, s.w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		s.w.WriteHeader(http.StatusOK)
		s.sse = sse
	}

	if err := s.sse.WriteEvent(event, v); err != nil {
		slog.WarnContext(ctx, "failed to write login event", "event", event, "error", err)
	}
}

func (s *loginStream) heartbeat() {
	if s.sse != nil {
		_ = s.sse.WriteComment("waiting for sign-in")
	}
}

// login runs a device code sign-in and streams its progress as SSE:
// "pending" with the instructions, then one of "authenticated",
// "already_authenticated" or "error". Disconnecting abandons the sign-in.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(ctx, w, "invalid force parameter", http.StatusBadRequest)
			return
		}
		force = parsed
	}

	pending := make(chan string, 1)
	done := make(chan loginOutcome, 1)
	go func() {
		result, err := h.Credentials.Login(ctx, force, func(message string) {
			pending <- message
		})
		done <- loginOutcome{result: result, err: err}
	}()

	stream := &loginStream{w: w}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case message := <-pending:
			stream.send(ctx, "pending", LoginPendingEvent{Message: message})
		case <-heartbeat.C:
			stream.heartbeat()
		case outcome := <-done:
			// Instructions always precede the result
			select {
			case message := <-pending:
				stream.send(ctx, "pending", LoginPendingEvent{Message: message})
			default:
			}
			h.finishLogin(ctx, stream, outcome)
			return
		}
	}
}

func (h *AuthHandlers) finishLogin(ctx context.Context, stream *loginStream, outcome loginOutcome) {
	if outcome.err == nil {
		current, ok := h.Credentials.CurrentAccount(ctx)
		selected := ok && current.HomeAccountID == outcome.result.Account.HomeAccountID
		stream.send(ctx, outcome.result.Status.String(), LoginResultEvent{
			Account:   accountResponse(outcome.result.Account, selected),
			ExpiresAt: outcome.result.ExpiresAt,
		})
		return
	}

	switch {
	case ctx.Err() != nil:
		// Client went away; nobody is listening
		slog.InfoContext(ctx, "login abandoned by client")
	case stream.started():
		stream.send(ctx, "error", ErrorResponse{Error: outcome.err.Error()})
	case errors.Is(outcome.err, credential.ErrLoginInProgress):
		writeJSONError(ctx, stream.w, outcome.err.Error(), http.StatusConflict)
	default:
		slog.ErrorContext(ctx, "login failed", "error", outcome.err)
		writeJSONError(ctx, stream.w, outcome.err.Error(), http.StatusBadGateway)
	}
}

func accountResponse(a identity.Account, selected bool) AccountResponse {
	return AccountResponse{
		HomeAccountID: a.HomeAccountID,
		Username:      a.Username,
		DisplayName:   a.DisplayName,
		Selected:      selected,
	}
}
