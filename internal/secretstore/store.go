package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Outcome reports where a Set call left the secret.
type Outcome int

const (
	// OutcomePrimary means the secret was written to the primary backend.
	OutcomePrimary Outcome = iota
	// OutcomeFallback means the primary failed and the fallback file holds the secret.
	OutcomeFallback
	// OutcomeMemoryOnly means both backends failed; the secret survives only in this process.
	OutcomeMemoryOnly
)

// String returns the outcome name used in log events.
func (o Outcome) String() string {
	switch o {
	case OutcomePrimary:
		return "primary"
	case OutcomeFallback:
		return "fallback"
	case OutcomeMemoryOnly:
		return "memory"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Durable reports whether the secret will survive a process restart.
func (o Outcome) Durable() bool {
	return o == OutcomePrimary || o == OutcomeFallback
}

// PersistenceError describes a failed backend operation. Store logs these and
// never returns them to callers.
type PersistenceError struct {
	Backend string
	Op      string
	Name    string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Backend, e.Op, e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store persists named secrets in a primary backend with a file fallback.
// Safe for concurrent use.
type Store struct {
	primary  Backend // nil means fallback-only
	fallback Backend

	mu     sync.Mutex
	memory map[string]string // secrets neither backend accepted
}

// New creates a Store. primary may be nil to use the fallback only.
func New(primary, fallback Backend) (*Store, error) {
	if fallback == nil {
		return nil, fmt.Errorf("missing fallback backend")
	}

	return &Store{
		primary:  primary,
		fallback: fallback,
		memory:   make(map[string]string),
	}, nil
}

// Get returns the secret stored under name. A value only held in memory wins,
// then the primary, then the fallback. Absence everywhere is reported as false.
func (s *Store) Get(ctx context.Context, name string) (string, bool) {
	s.mu.Lock()
	value, ok := s.memory[name]
	s.mu.Unlock()
	if ok {
		return value, true
	}

	if s.primary != nil {
		value, err := s.primary.Get(ctx, name)
		switch {
		case err == nil:
			return value, true
		case errors.Is(err, ErrNotFound):
			// An earlier run may have written the fallback while the primary was down
		default:
			logFailure(ctx, slog.LevelWarn, &PersistenceError{Backend: backendName(s.primary), Op: "get", Name: name, Err: err})
		}
	}

	value, err := s.fallback.Get(ctx, name)
	switch {
	case err == nil:
		return value, true
	case errors.Is(err, ErrNotFound):
		return "", false
	default:
		logFailure(ctx, slog.LevelWarn, &PersistenceError{Backend: backendName(s.fallback), Op: "get", Name: name, Err: err})
		return "", false
	}
}

// Set stores the secret and reports where it ended up. It never fails: when
// neither backend accepts the value it is kept in memory for this process.
func (s *Store) Set(ctx context.Context, name, value string) Outcome {
	if s.primary != nil {
		err := s.primary.Set(ctx, name, value)
		if err == nil {
			s.forget(name)
			// A stale fallback copy would be served whenever the primary is unavailable
			if err := s.fallback.Delete(ctx, name); err != nil {
				logFailure(ctx, slog.LevelDebug, &PersistenceError{Backend: backendName(s.fallback), Op: "delete", Name: name, Err: err})
			}
			return OutcomePrimary
		}
		logFailure(ctx, slog.LevelWarn, &PersistenceError{Backend: backendName(s.primary), Op: "set", Name: name, Err: err})
	}

	if err := s.fallback.Set(ctx, name, value); err != nil {
		logFailure(ctx, slog.LevelError, &PersistenceError{Backend: backendName(s.fallback), Op: "set", Name: name, Err: err})
		s.mu.Lock()
		s.memory[name] = value
		s.mu.Unlock()
		slog.WarnContext(ctx, "secret kept in memory only, it will be lost on exit", "secret", name)
		return OutcomeMemoryOnly
	}

	s.forget(name)
	return OutcomeFallback
}

// Delete removes the secret from memory and both backends. Failures are logged
// and otherwise ignored, so Delete is safe to call when nothing is stored.
func (s *Store) Delete(ctx context.Context, name string) {
	s.forget(name)

	if s.primary != nil {
		if err := s.primary.Delete(ctx, name); err != nil {
			logFailure(ctx, slog.LevelDebug, &PersistenceError{Backend: backendName(s.primary), Op: "delete", Name: name, Err: err})
		}
	}
	if err := s.fallback.Delete(ctx, name); err != nil {
		logFailure(ctx, slog.LevelDebug, &PersistenceError{Backend: backendName(s.fallback), Op: "delete", Name: name, Err: err})
	}
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	delete(s.memory, name)
	s.mu.Unlock()
}

func logFailure(ctx context.Context, level slog.Level, err *PersistenceError) {
	slog.Log(ctx, level, "secret store operation failed",
		"backend", err.Backend,
		"op", err.Op,
		"secret", err.Name,
		"error", err.Err,
	)
}

func backendName(b Backend) string {
	switch b.(type) {
	case *KeyringBackend:
		return "keyring"
	case *FileBackend:
		return "file"
	case *EnvBackend:
		return "env"
	default:
		return fmt.Sprintf("%T", b)
	}
}
