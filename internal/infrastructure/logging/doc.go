// Package logging provides structured logging for the Allnet bridge.
//
// It wraps log/slog with a JSON or text handler, a level filter and the
// default fields service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	coordLog := logger.Component("coordinator")
//	coordLog.Warn("poll failed", "error", err)
//
// Never log device or broker passwords. Log config.DeviceConfig through its
// String method, which redacts the password.
package logging
