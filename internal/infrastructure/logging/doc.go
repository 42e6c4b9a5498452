// Package logging provides structured logging for the Tasmota bridge.
//
// It wraps log/slog with JSON output for production, text output for
// development, and service/version fields on every record.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
package logging
