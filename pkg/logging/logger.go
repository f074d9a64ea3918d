// Package logging wraps log/slog with Warden-specific construction helpers,
// following its pkg/logging/logger.go.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/wardendns/warden/pkg/config"
)

// Logger embeds *slog.Logger so callers get the full slog API plus the
// construction helpers below. A nil *Logger is valid everywhere it is
// accepted in this module: every call site guards with `if l != nil`
// before logging, matching its defensive style around optional
// loggers (e.g. pkg/dns/query_logger.go).
type Logger struct {
	*slog.Logger
}

// New builds a Logger from config.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		output = f
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// NewDefault returns an info-level text logger to stdout, for tests and
// zero-config callers.
func NewDefault() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

// With returns a child logger carrying the given key/value attributes,
// nil-safe so components can call logger.With(...) even if logger is nil.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	if l == nil {
		return
	}
	l.Logger.Error(msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
