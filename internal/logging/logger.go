// Package logging builds the daemon's slog loggers. Every process
// component logs JSON lines to one writer, tagged with a component
// attribute so bridge, adapter, and federation output can be told
// apart in a single stream.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures a logger. The zero value logs info and above to
// stderr with no component attribute.
type Options struct {
	Level     string
	Writer    io.Writer
	Component string
}

// NewLogger returns a JSON slog logger for one daemon component.
func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}))
	if component := strings.TrimSpace(opts.Component); component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// parseLevel maps a config string to a slog level. Unknown or empty
// strings fall back to info.
func parseLevel(level string) slog.Level {
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
