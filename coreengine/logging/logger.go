// Package logging provides the structured logger shared by every pipeline component.
//
// Components depend on the Logger interface; the default implementation is
// backed by log/slog so output can be JSON (production) or text (local runs).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging contract used across the pipeline.
// Messages are snake_case event names; fields are key/value pairs.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// SlogLogger implements Logger on top of slog.
type SlogLogger struct {
	l *slog.Logger
}

// New creates a logger writing to stdout.
// format can be "json" or "text" (default is json).
func New(level slog.Level, format string) *SlogLogger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *SlogLogger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{l: slog.New(handler)}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *SlogLogger {
	return NewWithWriter(io.Discard, slog.LevelError+4, "text")
}

func (s *SlogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...any)  { s.l.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...any)  { s.l.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...any) { s.l.Error(msg, fields...) }

// Bind returns a child logger that always carries fields.
func (s *SlogLogger) Bind(fields ...any) Logger {
	return &SlogLogger{l: s.l.With(fields...)}
}

// Slog exposes the underlying slog.Logger.
func (s *SlogLogger) Slog() *slog.Logger {
	return s.l
}

// ParseLevel converts a string log level to slog.Level.
// Valid values: "debug", "info", "warn", "error". Anything else is info.
func ParseLevel(level string) slog.Level {
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

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *SlogLogger) {
	slog.SetDefault(l.l)
}

var _ Logger = (*SlogLogger)(nil)
