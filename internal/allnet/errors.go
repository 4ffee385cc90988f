package allnet

import "errors"

// Domain errors for the Allnet protocol package.
var (
	// ErrConnection is returned when the device cannot be reached or
	// rejects the request at transport level (DNS, connect, timeout,
	// authentication, non-2xx status).
	ErrConnection = errors.New("allnet: connection failed")

	// ErrProtocol is returned when the device answers with a document
	// that cannot be decoded.
	ErrProtocol = errors.New("allnet: malformed response")

	// ErrInvalidHost is returned when the client is created without a host.
	ErrInvalidHost = errors.New("allnet: host is required")
)
