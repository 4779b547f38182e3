package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/observability/middleware"
)

// DefaultBaseURL is the Microsoft Graph endpoint requests are forwarded to.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// graphPrefix is the local path prefix of proxied Graph requests.
const graphPrefix = "/graph"

type config struct {
	baseURL   string
	transport http.RoundTripper
}

// Option configures a Proxy.
type Option func(*config)

// WithBaseURL sets the Graph base URL requests are forwarded to.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithTransport sets the transport used to reach Graph. Defaults to http.DefaultTransport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *config) {
		c.transport = transport
	}
}

// Proxy serves the local credential endpoints and forwards /graph requests
// to Microsoft Graph with the signed-in account's token.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a Proxy. ts supplies bearer tokens for Graph requests.
func New(credentials Credentials, ts oauth2.TokenSource, opts ...Option) (*Proxy, error) {
	if credentials == nil {
		return nil, fmt.Errorf("missing credentials")
	}
	if ts == nil {
		return nil, fmt.Errorf("missing token source")
	}

	cfg := config{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}

	upstream, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL: %q must be absolute", cfg.baseURL)
	}

	transport := &oauth2.Transport{
		Source: ts,
		Base:   &HeaderFilterTransport{Base: cfg.transport},
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
		},
		// Flush only when Graph flushes; large downloads stream through
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  upstreamError,
	}

	logger := slog.Default()
	auth := &AuthHandlers{Credentials: credentials}

	mux := http.NewServeMux()

	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, applyMiddlewares(h,
			middleware.Logging(logger),
			Recovery,
		))
	}

	handle("GET /auth/status", http.HandlerFunc(auth.status))
	handle("GET /auth/accounts", http.HandlerFunc(auth.listAccounts))
	handle("POST /auth/accounts/{id}/select", http.HandlerFunc(auth.selectAccount))
	handle("DELETE /auth/accounts/{id}", http.HandlerFunc(auth.removeAccount))
	handle("POST /auth/login", http.HandlerFunc(auth.login))
	handle("POST /auth/logout", http.HandlerFunc(auth.logout))

	// Forward proxy to Microsoft Graph
	handle(graphPrefix+"/", http.StripPrefix(graphPrefix, reverseProxyHandler))

	return &Proxy{mux: mux}, nil
}

// upstreamError answers requests Graph could not be reached for.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, credential.ErrAuthenticationRequired) {
		writeJSONError(ctx, w, err.Error(), http.StatusUnauthorized)
		return
	}
	if errors.Is(err, context.Canceled) {
		// Client disconnected
		return
	}

	slog.ErrorContext(ctx, "graph request failed", "error", err)
	writeJSONError(ctx, w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		WriteTimeout: 20 * time.Minute, // Inbound: Outlasts a device code (15 minutes) on the login stream
		IdleTimeout:  90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
