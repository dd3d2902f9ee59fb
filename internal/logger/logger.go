// Package logger provides structured logging setup for HostKit.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hostkit-platform/hostkit/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stderr with a "service" attribute on every record;
// stdout stays reserved for command output and envelopes.
func New(cfg config.Logging) *slog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with an explicit sink, for tests.
func NewWithWriter(cfg config.Logging, w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
