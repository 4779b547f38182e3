package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/graphbridge/internal/app"
	"github.com/florianilch/graphbridge/internal/credential"
	"github.com/florianilch/graphbridge/internal/observability"
)

const (
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// credentialAction wraps commands that operate on the persisted credentials.
// The manager is shut down afterwards so pending cache changes are saved.
func credentialAction(run func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		shutdownTelemetry, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat))
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			if shutdownErr := shutdownTelemetry(context.Background()); shutdownErr != nil {
				err = errors.Join(err, fmt.Errorf("observability shutdown: %w", shutdownErr))
			}
		}()

		manager, err := app.NewCredentialManager(ctx, cfg.Auth)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
			defer cancel()
			if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
				err = errors.Join(err, shutdownErr)
			}
		}()

		return run(ctx, cmd, manager)
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in with a device code",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "sign in even if a valid token is cached",
			},
		},
		Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
			out := cmd.Root().Writer
			highlight := isTerminal(out)

			result, err := manager.Login(ctx, cmd.Bool("force"), func(message string) {
				if highlight {
					message = ansiBold + message + ansiReset
				}
				_, _ = fmt.Fprintln(out, message)
			})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			switch result.Status {
			case credential.LoginAlreadyAuthenticated:
				_, _ = fmt.Fprintf(out, "Already signed in as %s. Use --force to sign in again.\n", result.Account.Label())
			default:
				_, _ = fmt.Fprintf(out, "Signed in as %s.\n", result.Account.Label())
			}
			if !result.ExpiresAt.IsZero() {
				_, _ = fmt.Fprintf(out, "Token valid until %s.\n", result.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		}),
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "remove all cached accounts and tokens",
		Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
			manager.Logout(ctx)
			_, _ = fmt.Fprintln(cmd.Root().Writer, "Signed out.")
			return nil
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the sign-in state of the selected account",
		Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
			_, _ = fmt.Fprintln(cmd.Root().Writer, manager.VerifyLogin(ctx))
			return nil
		}),
	}
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "manage cached accounts",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list cached accounts",
				Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
					accounts, err := manager.ListAccounts(ctx)
					if err != nil {
						return fmt.Errorf("listing accounts: %w", err)
					}

					out := cmd.Root().Writer
					if len(accounts) == 0 {
						_, _ = fmt.Fprintln(out, "No cached accounts.")
						return nil
					}

					current, _ := manager.CurrentAccount(ctx)
					for _, account := range accounts {
						marker := " "
						if account.HomeAccountID == current.HomeAccountID {
							marker = "*"
						}
						_, _ = fmt.Fprintf(out, "%s %s\t%s\n", marker, account.HomeAccountID, account.Label())
					}
					return nil
				}),
			},
			{
				Name:      "select",
				Usage:     "make an account the active one",
				ArgsUsage: "<home-account-id>",
				Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("missing account id")
					}
					if !manager.SelectAccount(ctx, id) {
						return fmt.Errorf("account %q not found", id)
					}
					_, _ = fmt.Fprintf(cmd.Root().Writer, "Selected %s.\n", id)
					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "remove a cached account and its tokens",
				ArgsUsage: "<home-account-id>",
				Action: credentialAction(func(ctx context.Context, cmd *cli.Command, manager *credential.Manager) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("missing account id")
					}
					if !manager.RemoveAccount(ctx, id) {
						return fmt.Errorf("account %q not found", id)
					}
					_, _ = fmt.Fprintf(cmd.Root().Writer, "Removed %s.\n", id)
					return nil
				}),
			},
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
