package secretstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// fileExtension is appended to secret names to form file names.
const fileExtension = ".json"

// FileBackend provides atomic file-based secret storage with secure permissions.
// Each secret lives in its own file inside dir. The directory is created on the
// first write, not at construction.
type FileBackend struct {
	dir string
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	return &FileBackend{
		dir: dir,
	}, nil
}

// Path returns the file that holds the named secret.
func (f *FileBackend) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(f.dir, name+fileExtension), nil
}

// Get returns the stored secret after trimming whitespace. Returns ErrNotFound if
// the file doesn't exist or is empty, and an error if it has insecure permissions.
func (f *FileBackend) Get(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := f.Path(name)
	if err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set atomically saves the secret using temp file + rename for crash safety.
// Creates the directory with 0700 and sets file permissions to 0600.
func (f *FileBackend) Set(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := f.Path(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(strings.TrimSpace(value) + "\n"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return os.Chmod(path, 0600)
}

// Delete removes the secret file. A missing file is not an error.
func (f *FileBackend) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := f.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
