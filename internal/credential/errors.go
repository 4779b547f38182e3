package credential

import (
	"errors"
	"fmt"
)

// ErrAuthenticationRequired is returned when no usable token exists and the
// caller has to trigger an interactive login.
var ErrAuthenticationRequired = errors.New("authentication required: run login to sign in")

// ErrInvalidFlowState is returned when a DeviceCodeFlow method is called out of order.
var ErrInvalidFlowState = errors.New("invalid device code flow state")

// ErrLoginInProgress is returned when Login is called while another sign-in is waiting for the user.
var ErrLoginInProgress = errors.New("a sign-in is already in progress")

// FlowInitiationError reports that the identity provider did not issue a usable device code.
type FlowInitiationError struct {
	Reason string
	Err    error
}

func (e *FlowInitiationError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("device code sign-in could not start: %s: %v", e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("device code sign-in could not start: %v", e.Err)
	default:
		return "device code sign-in could not start: " + e.Reason
	}
}

func (e *FlowInitiationError) Unwrap() error {
	return e.Err
}

// AuthenticationError reports that the provider ended the sign-in with an error
// such as access_denied or expired_token.
type AuthenticationError struct {
	Code        string
	Description string
}

func (e *AuthenticationError) Error() string {
	if e.Code == "" {
		return "authentication failed: " + e.Description
	}
	return fmt.Sprintf("authentication failed (%s): %s", e.Code, e.Description)
}
