package secretstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when no secret is stored under the name.
var ErrNotFound = errors.New("secret not found")

// ErrReadOnly is returned by backends that cannot be written to.
var ErrReadOnly = errors.New("secret backend is read-only")

// Backend reads and writes named secrets in a single storage medium.
type Backend interface {
	// Get returns the secret stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Set stores value under name, overwriting any existing value.
	Set(ctx context.Context, name, value string) error

	// Delete removes the secret. Deleting a missing secret is not an error.
	Delete(ctx context.Context, name string) error
}
