package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/florianilch/graphbridge/internal/identity"
)

// FlowState is a DeviceCodeFlow lifecycle stage.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowInitiated
	FlowPolling
	FlowSucceeded
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowInitiated:
		return "initiated"
	case FlowPolling:
		return "polling"
	case FlowSucceeded:
		return "succeeded"
	case FlowFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Notifier receives the sign-in instructions. It is called synchronously and
// exactly once per flow, before the wait for the user begins.
type Notifier func(message string)

// DeviceCodeFlow drives one interactive sign-in:
//
//	Idle -> Initiated -> Polling -> Succeeded | Failed
//
// A flow is single-use. Start a new one to retry.
type DeviceCodeFlow struct {
	provider   DeviceFlowProvider
	cacheStore *CacheStore
	notify     Notifier

	once sync.Once

	mu    sync.Mutex
	state FlowState
	code  *identity.DeviceCode
}

// NewDeviceCodeFlow creates an idle flow. notify may be nil.
func NewDeviceCodeFlow(provider DeviceFlowProvider, cacheStore *CacheStore, notify Notifier) *DeviceCodeFlow {
	if notify == nil {
		notify = func(string) {}
	}
	return &DeviceCodeFlow{
		provider:   provider,
		cacheStore: cacheStore,
		notify:     notify,
	}
}

// State returns the current lifecycle stage.
func (f *DeviceCodeFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Initiate requests a device code for scopes.
func (f *DeviceCodeFlow) Initiate(ctx context.Context, scopes []string) (*identity.DeviceCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != FlowIdle {
		return nil, fmt.Errorf("%w: initiate called in state %s", ErrInvalidFlowState, f.state)
	}

	code, err := f.provider.InitiateDeviceFlow(ctx, slices.Clone(scopes))
	if err != nil {
		f.state = FlowFailed
		return nil, &FlowInitiationError{Err: err}
	}
	if code == nil || code.UserCode == "" {
		f.state = FlowFailed
		return nil, &FlowInitiationError{Reason: "identity provider did not return a user code"}
	}

	f.code = code
	f.state = FlowInitiated
	slog.DebugContext(ctx, "device code issued", "verification_uri", code.VerificationURI, "expires_at", code.ExpiresAt)
	return code, nil
}

// Complete delivers the instructions to the notifier and blocks until the
// provider reports success, denial, or expiry. Cancelling ctx abandons the
// wait; the device code then expires on the provider side.
//
// On success the token cache is persisted before Complete returns.
func (f *DeviceCodeFlow) Complete(ctx context.Context) (identity.Success, error) {
	f.mu.Lock()
	if f.state != FlowInitiated {
		state := f.state
		f.mu.Unlock()
		return identity.Success{}, fmt.Errorf("%w: complete called in state %s", ErrInvalidFlowState, state)
	}
	f.state = FlowPolling
	code := f.code
	f.mu.Unlock()

	f.once.Do(func() {
		f.notify(code.Message)
	})

	result, err := f.provider.PollForToken(ctx, code)
	if err != nil {
		f.setState(FlowFailed)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.InfoContext(ctx, "device code sign-in abandoned")
			return identity.Success{}, fmt.Errorf("device code sign-in abandoned: %w", err)
		}
		return identity.Success{}, fmt.Errorf("polling for device code token: %w", err)
	}

	switch r := result.(type) {
	case identity.Success:
		f.cacheStore.Save(ctx)
		f.setState(FlowSucceeded)
		slog.InfoContext(ctx, "device code sign-in succeeded", "account", r.Account.HomeAccountID)
		return r, nil
	case identity.Failure:
		f.setState(FlowFailed)
		slog.WarnContext(ctx, "device code sign-in failed", "error_code", r.ErrorCode, "description", r.Description)
		return identity.Success{}, &AuthenticationError{Code: r.ErrorCode, Description: r.Description}
	default:
		f.setState(FlowFailed)
		return identity.Success{}, fmt.Errorf("unexpected token result %T", result)
	}
}

func (f *DeviceCodeFlow) setState(state FlowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}
