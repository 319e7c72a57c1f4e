package core

import "errors"

// Engine error taxonomy. Handlers map these to error events on the
// offending session; they never terminate other sessions.
var (
	// ErrUnauthenticated rejects a connection before registration.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotAuthorized marks an action attempted by a non-participant.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound marks an operation on an unknown session, room or call.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSession marks a session id registered twice without a
	// deregister. The stale entry is replaced; the caller logs it.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrReceiverBusy means the callee is already party to a live call.
	ErrReceiverBusy = errors.New("receiver busy")

	// ErrStoreUnavailable wraps failed calls into the external store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBackpressure is returned by TrySend when a send buffer is full.
	ErrBackpressure = errors.New("backpressure")
)
