package services

import (
	"errors"
	"fmt"
)

// ErrAgentUnknown is returned when the cloud does not know this agent (404).
// The engine answers it by registering again.
var ErrAgentUnknown = errors.New("agent is not registered with the cloud")

// AuthError means the cloud rejected the agent credential
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (%d): %s", e.StatusCode, e.Message)
}

// BatchError means the cloud failed to process a sync batch
type BatchError struct {
	BatchIndex int
	StatusCode int
	Message    string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d rejected (%d): %s", e.BatchIndex, e.StatusCode, e.Message)
}

// NetworkError means the cloud could not be reached after retries
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is, or wraps, an *AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
