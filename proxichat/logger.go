package proxichat

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a minimal logging interface accepted by the SDK.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// noopLogger discards all logs.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// slogLogger adapts log/slog to the SDK Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an slog.Logger for use with SetLogger.
func NewSlogLogger(l *slog.Logger) Logger {
	return slogLogger{l: l}
}

// NewJSONLogger builds a Logger that emits structured JSON to stdout at
// the given level ("debug", "info", "warn", "error").
func NewJSONLogger(level string) Logger {
	opts := &slog.HandlerOptions{Level: levelFromString(level)}
	return slogLogger{l: slog.New(slog.NewJSONHandler(os.Stdout, opts))}
}

func (s slogLogger) Debug(msg string, fields map[string]any) { s.l.Debug(msg, attrs(fields)...) }
func (s slogLogger) Info(msg string, fields map[string]any)  { s.l.Info(msg, attrs(fields)...) }
func (s slogLogger) Warn(msg string, fields map[string]any)  { s.l.Warn(msg, attrs(fields)...) }
func (s slogLogger) Error(msg string, fields map[string]any) { s.l.Error(msg, attrs(fields)...) }

func attrs(fields map[string]any) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func levelFromString(level string) slog.Leveler {
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
