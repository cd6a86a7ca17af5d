// Package logger provides a simple wrapper around slog for structured logging.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var level = new(slog.LevelVar)

// Logger is the global logger instance.
var Logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetVerbose toggles debug-level output.
func SetVerbose(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// SetOutput redirects log output, e.g. away from the terminal while the TUI owns it.
func SetOutput(w io.Writer) {
	Logger = newLogger(w)
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}
