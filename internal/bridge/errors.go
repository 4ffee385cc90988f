package bridge

import "errors"

// Domain errors for the MQTT bridge package.
var (
	// ErrInvalidOptions is returned by New when a required dependency is missing.
	ErrInvalidOptions = errors.New("bridge: invalid options")

	// ErrInvalidMessage is returned when a command or request payload
	// cannot be decoded.
	ErrInvalidMessage = errors.New("bridge: invalid message")

	// ErrInvalidTopic is returned when a message arrives on a topic outside
	// the bridge's command and request namespaces.
	ErrInvalidTopic = errors.New("bridge: invalid topic")

	// ErrStopped is returned for messages that arrive after Stop.
	ErrStopped = errors.New("bridge: stopped")
)
