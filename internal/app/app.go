package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/proxy"
)

// App orchestrates the lifecycle of the local server and the credential manager.
type App struct {
	cfg         *Config
	credentials *credential.Manager
	proxy       *proxy.Proxy
}

// New creates a new App instance. The persisted credentials are loaded here.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	manager, err := NewCredentialManager(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}

	proxyServer, err := proxy.New(manager, credential.NewAdapter(manager), proxy.WithBaseURL(cfg.Graph.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:         cfg,
		credentials: manager,
		proxy:       proxyServer,
	}, nil
}

// NewCredentialManager builds the process-wide credential manager from
// configuration and restores the persisted state.
func NewCredentialManager(ctx context.Context, cfg AuthConfig) (*credential.Manager, error) {
	secrets, err := cfg.NewSecretStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}

	client, err := cfg.NewIdentityClient()
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	manager, err := credential.NewManager(ctx, credential.Options{
		Provider: client,
		Secrets:  secrets,
		Scopes:   cfg.Scopes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential manager: %w", err)
	}

	return manager, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)

	// The credential manager is registered first so it shuts down last,
	// after the server stopped issuing token requests
	shutdownFuncs := []func(context.Context) error{a.credentials.Shutdown}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		if shutdownErr := a.credentials.Shutdown(context.Background()); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "status", a.credentials.VerifyLogin(gCtx))

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
