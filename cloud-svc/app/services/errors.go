package services

import (
	"errors"
	"fmt"

	"github.com/fernandofuc/tistis-platform-sub007/cloud-svc/app/domains"
)

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrInvalidSecret = errors.New("invalid secret")
	ErrTokenExpired  = errors.New("token expired")

	// ErrForbidden is returned when an agent presents a tenant or
	// integration that is not its own
	ErrForbidden = errors.New("tenant or integration mismatch")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")

	ErrInvalidTransition = domains.ErrInvalidTransition
)

// AuthReason classifies an authentication failure
type AuthReason string

const (
	ReasonUnknownAgent  AuthReason = "unknown_agent"
	ReasonInvalidSecret AuthReason = "invalid_secret"
	ReasonTokenExpired  AuthReason = "token_expired"
)

// AuthError is returned by the validator for any rejected credential
type AuthError struct {
	Reason  AuthReason
	AgentID string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("agent %s: authentication failed: %s", e.AgentID, e.Reason)
}

// Unwrap exposes the sentinel for the reason so errors.Is works
func (e *AuthError) Unwrap() error {
	switch e.Reason {
	case ReasonUnknownAgent:
		return ErrUnknownAgent
	case ReasonTokenExpired:
		return ErrTokenExpired
	default:
		return ErrInvalidSecret
	}
}

// ProcessingError is returned when a sync batch could not be applied
type ProcessingError struct {
	BatchID    string
	BatchIndex int
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("batch %s/%d: processing failed: %v", e.BatchID, e.BatchIndex, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ValidationError is returned for a request whose fields are well formed
// JSON but semantically unusable
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AsAuthError returns the AuthError in err's chain, if any
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	ok := errors.As(err, &authErr)
	return authErr, ok
}
