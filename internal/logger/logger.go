// Package logger sets up structured JSON logging with log/slog.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init creates a JSON logger for service at the given level, installs it as
// the slog default and returns it.
func Init(service, level string) *slog.Logger {
	return New(os.Stdout, service, ParseLevel(level))
}

// New creates a JSON logger writing to w and installs it as the default.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
