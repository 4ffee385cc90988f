package valkey

import "errors"

var (
	// ErrDisabled indicates the mirror is disabled in config.
	ErrDisabled = errors.New("valkey: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("valkey: connection failed")

	// ErrWriteFailed indicates a mirror write failed.
	ErrWriteFailed = errors.New("valkey: write failed")
)
