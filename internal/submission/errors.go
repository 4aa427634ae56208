package submission

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNetworkFailure  = errors.New("network failure")
	ErrServerError     = errors.New("server error")
	ErrAlreadyInFlight = errors.New("a submission is already in progress")
	ErrNotFound        = errors.New("submission not found")
)

// User facing messages for outcomes without a server supplied detail.
const (
	MessageLoginRequired  = "Please log in to analyze images."
	MessageSessionExpired = "Your session has expired. Please log in again."
	MessageNetwork        = "Unable to reach the server. Please check your connection and try again."
	MessageGeneric        = "Error processing image. Please try again."
	MessageInFlight       = "An image is already being analyzed."
)

// Error is a submission failure of a given kind. StatusCode is zero when no
// HTTP response was received.
type Error struct {
	Kind       error
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("submission: %v (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("submission: %v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
