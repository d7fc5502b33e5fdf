package synchronizer

import "errors"

// Every local operation returns nil on success. Precondition failures are
// reported with one of these and never publish anything.
var (
	ErrNotInitialized    = errors.New("transport not initialized")
	ErrNotInSession      = errors.New("not in a session")
	ErrAlreadyInSession  = errors.New("already in a session")
	ErrNoClientID        = errors.New("no client id")
	ErrNilEntity         = errors.New("nil entity")
	ErrMissingResource   = errors.New("resource path required")
	ErrInvalidParent     = errors.New("invalid parent")
	ErrUnsupportedEntity = errors.New("unsupported entity")
	ErrInvalidValue      = errors.New("invalid value")
)
