// Package logging configures the process-wide structured logger.
//
// Logs are JSON lines on stderr carrying the module name and version. The
// level comes from the caller or, for SetDefaultStructuredLogger, from the
// LOG_LEVEL environment variable. Debug logs include the source location.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// LevelEnv names the environment variable read by SetDefaultStructuredLogger.
const LevelEnv = "LOG_LEVEL"

// ParseLogLevel maps a case-insensitive level name to a slog.Level. Unknown
// or empty names yield slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewStructuredLogger returns a JSON logger writing to stderr.
func NewStructuredLogger(name, version, level string) *slog.Logger {
	return newStructuredLogger(os.Stderr, name, version, level)
}

func newStructuredLogger(w io.Writer, name, version, level string) *slog.Logger {
	lvl := ParseLogLevel(level)
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	})
	return slog.New(h).With("module", name, "version", version)
}

// SetDefaultStructuredLogger installs a structured logger as the slog
// default, taking the level from LOG_LEVEL.
func SetDefaultStructuredLogger(name, version string) {
	SetDefaultStructuredLoggerWithLevel(name, version, os.Getenv(LevelEnv))
}

// SetDefaultStructuredLoggerWithLevel installs a structured logger at level
// as the slog default. The standard library log package is routed through it.
func SetDefaultStructuredLoggerWithLevel(name, version, level string) {
	slog.SetDefault(NewStructuredLogger(name, version, level))
}

// NewLogLogger returns a standard library logger that writes through the
// default slog logger at level. Useful for http.Server.ErrorLog.
func NewLogLogger(level slog.Level) *log.Logger {
	return slog.NewLogLogger(slog.Default().Handler(), level)
}
