package coordinator

import "errors"

// Domain errors for the polling coordinator.
var (
	// ErrStartup is returned by Start when the initial poll fails.
	// The coordinator never becomes ready after this error.
	ErrStartup = errors.New("coordinator: initial poll failed")

	// ErrNotReady is returned when an operation needs a started
	// coordinator with a confirmed snapshot.
	ErrNotReady = errors.New("coordinator: not ready")

	// ErrStopped is returned after Stop has been called.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("coordinator: already started")

	// ErrUnknownActor is returned by Toggle when the actor is not part of
	// the cached snapshot.
	ErrUnknownActor = errors.New("coordinator: unknown actor")

	// ErrCommandFailed is returned when the device rejects an actor write.
	ErrCommandFailed = errors.New("coordinator: actor command failed")

	// ErrInvalidOptions is returned by New when a required dependency is missing.
	ErrInvalidOptions = errors.New("coordinator: invalid options")
)
