package domain

import (
	"errors"
	"fmt"
)

// Error kinds for the whole service. Handlers map these to HTTP statuses;
// services wrap them with the user-facing reason so callers can both branch
// with errors.Is and surface the message unchanged.
var (
	// ErrInvalidInput marks a request rejected before any state mutation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPermissionDenied marks an expected business rejection: rate limit,
	// missing/expired permission, outside the conversation window.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound marks a reference to a record this system does not hold.
	// Webhook paths log and drop it instead of propagating.
	ErrNotFound = errors.New("not found")

	// ErrTransportFailure marks a failed or timed-out provider call. Local
	// state is committed to a terminal failed status before it is returned.
	ErrTransportFailure = errors.New("transport failure")

	// ErrAuthenticationFailure marks a bad webhook signature.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrDuplicate is returned by repositories when a unique constraint
	// (provider message id) rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// Reject wraps kind with a user-facing reason.
func Reject(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Rejectf wraps kind with a formatted reason.
func Rejectf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
