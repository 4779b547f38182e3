package secretstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "graphbridge")

	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	// Directory is created lazily
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("directory exists before first write: %v", err)
	}

	if _, err := backend.Get(ctx, "token-cache"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty dir error = %v, want ErrNotFound", err)
	}

	if err := backend.Set(ctx, "token-cache", `{"version":1}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat(dir) error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("dir permissions = %04o, want 0700", perm)
	}

	path, err := backend.Path("token-cache")
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(file) error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %04o, want 0600", perm)
	}

	got, err := backend.Get(ctx, "token-cache")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != `{"version":1}` {
		t.Errorf("Get() = %q", got)
	}

	if err := backend.Delete(ctx, "token-cache"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := backend.Delete(ctx, "token-cache"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := backend.Get(ctx, "token-cache"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestFileBackendRejectsInsecurePermissions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	path, _ := backend.Path("token-cache")
	if err := os.WriteFile(path, []byte("blob"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := backend.Get(ctx, "token-cache"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want permission error", err)
	}
}

func TestFileBackendRejectsPathNames(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := backend.Path(name); err == nil {
			t.Errorf("Path(%q) succeeded", name)
		}
	}
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	backend, err := NewKeyringBackend("graphbridge-test")
	if err != nil {
		t.Fatalf("NewKeyringBackend() error = %v", err)
	}

	if _, err := backend.Get(ctx, "token-cache"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := backend.Set(ctx, "token-cache", "blob"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := backend.Get(ctx, "token-cache"); err != nil || got != "blob" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if err := backend.Delete(ctx, "token-cache"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := backend.Delete(ctx, "token-cache"); err != nil {
		t.Fatalf("Delete() of missing secret error = %v", err)
	}
}

func TestStoreWithFailingKeyringUsesFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service not running"))
	ctx := context.Background()

	primary, err := NewKeyringBackend("graphbridge-test")
	if err != nil {
		t.Fatalf("NewKeyringBackend() error = %v", err)
	}
	fallback, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	store, err := New(primary, fallback)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := store.Set(ctx, "selected-account", `{"account_id":"H1"}`); got != OutcomeFallback {
		t.Fatalf("Set() = %v, want fallback", got)
	}
	if value, ok := store.Get(ctx, "selected-account"); !ok || value != `{"account_id":"H1"}` {
		t.Fatalf("Get() = %q, %v", value, ok)
	}
	store.Delete(ctx, "selected-account")
	if _, ok := store.Get(ctx, "selected-account"); ok {
		t.Fatal("secret survived Delete")
	}
}

func TestEnvBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := NewEnvBackend("GRAPHBRIDGE_")
	if err != nil {
		t.Fatalf("NewEnvBackend() error = %v", err)
	}
	backend.lookup = func(key string) (string, bool) {
		if key == "GRAPHBRIDGE_TOKEN_CACHE" {
			return "blob", true
		}
		return "", false
	}

	if got, err := backend.Get(ctx, "token-cache"); err != nil || got != "blob" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
	if _, err := backend.Get(ctx, "selected-account"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
	if err := backend.Set(ctx, "token-cache", "x"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Set() error = %v, want ErrReadOnly", err)
	}
}
