package remote

import "errors"

var (
	// ErrIndexNotReady means the backing query for a subscription is not
	// available yet. Callers show "preparing", not an error.
	ErrIndexNotReady = errors.New("remote: index not ready")

	// ErrPermissionDenied means the remote authorization layer rejected the
	// operation. Never retried silently.
	ErrPermissionDenied = errors.New("remote: permission denied")
)
