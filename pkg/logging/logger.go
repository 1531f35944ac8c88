// Package logging configures the process-wide zerolog logger and derives
// component and run loggers from it.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel validates a user-supplied level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "disabled", "off", "none":
		return LevelDisabled, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn, error or disabled)", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level, defaulting to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun tags logger with the run ID and record category.
func WithRun(logger zerolog.Logger, runID, category string) zerolog.Logger {
	ctx := logger.With().Str("run_id", runID)
	if category != "" {
		ctx = ctx.Str("category", category)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: Per-attempt detail
//   - Fetch attempts and their error class
//   - Retry scheduling and delays
//   - Cache hit/miss, cooldown waits
//
// Info: Run lifecycle
//   - Run start and finish with summary counts
//   - Per-item lines when progress output is on
//   - Success after retry
//   - Server startup/shutdown
//
// Warn: Degraded but continuing
//   - Retry exhaustion for an identifier
//   - Source cooldowns (429/503)
//   - Export failures, cache errors
//   - Records emptied by field exclusion
//
// Error: Conditions that stop a run or the service
//   - Invalid configuration
//   - Listener failures
//
// Context Fields:
//   - run_id: Run identifier (uuid)
//   - category: Record category (book, author, user)
//   - identifier: Caller-supplied identifier
//   - attempt / attempts: Attempt number or count
//   - error_class: Fetch error class (network, server, not_found, ...)
//   - url / host: Source page and host
//   - batch: Batch index
