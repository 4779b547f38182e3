package secretstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvBackend provides read-only access to secrets stored in environment variables.
// The variable for a secret is prefix + the upper-cased name with dashes turned
// into underscores ("token-cache" with prefix "GRAPHBRIDGE_" reads
// GRAPHBRIDGE_TOKEN_CACHE). Writes always fail, so a Store using it as primary
// persists into its fallback.
type EnvBackend struct {
	prefix string
	lookup func(string) (string, bool)
}

// Compile-time check to ensure EnvBackend implements Backend
var _ Backend = (*EnvBackend)(nil)

// NewEnvBackend creates an EnvBackend for variables starting with prefix.
func NewEnvBackend(prefix string) (*EnvBackend, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvBackend{
		prefix: prefix,
		lookup: os.LookupEnv,
	}, nil
}

// Key returns the environment variable consulted for name.
func (e *EnvBackend) Key(name string) string {
	return e.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Get returns the secret from the environment. Unset or empty variables are ErrNotFound.
func (e *EnvBackend) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, ok := e.lookup(e.Key(name))
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvBackend) Set(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("set %s: %w", e.Key(name), ErrReadOnly)
}

// Delete is not supported for environment variables (they are read-only).
func (e *EnvBackend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("delete %s: %w", e.Key(name), ErrReadOnly)
}
