// Package logging provides structured logging for tuyactl.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used by the device session and the CLI. Logging is silent
// by default so command output stays clean; it is enabled by setting
// TUYACTL_LOG_LEVEL (or the --log-level flag) to "debug", "info", "warn" or
// "error". Log output goes to stderr.
//
// # Exchange Logging
//
// Each device exchange emits events keyed by address and sequence id:
//
//	logging.LogExchange("192.168.1.20:6668", 42, "writing", zap.String("payload", p))
//	logging.LogExchange("192.168.1.20:6668", 42, "wrote", zap.Int("bytes", n))
//	logging.LogDecodedMessage(42, "DpQuery", `{"dps":{"1":true}}`)
//
// At debug level the raw bytes of every reply are dumped in hex and ASCII:
//
//	logging.LogRawBytes("Received response", buf[:n])
//
// # Configuration
//
//	if err := logging.Initialize(level); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// Logging functions are safe for concurrent use. Initialize and SetLogger
// replace the global logger and should be called before any goroutines log.
package logging
