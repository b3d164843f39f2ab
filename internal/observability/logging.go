// Package observability provides structured logging and Prometheus metrics
// for the orchestration engine.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string
	// Format is "json" (production) or "text" (development).
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file and line in records.
	AddSource bool
}

type contextKey string

const (
	turnIDKey    contextKey = "turn_id"
	sessionIDKey contextKey = "session_id"
)

// WithTurnID stores a turn correlation id on the context.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnIDKey, turnID)
}

// WithSessionID stores a session correlation id on the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

var secretPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)=\S+`)

// Logger wraps slog with turn/session correlation and secret redaction.
type Logger struct {
	base *slog.Logger
}

// NewLogger creates a Logger from the given config.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &Logger{base: slog.New(handler)}
}

// NopLogger returns a logger that discards everything. Useful in tests.
func NopLogger() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	args = redactArgs(args)
	if ctx != nil {
		if turnID, ok := ctx.Value(turnIDKey).(string); ok && turnID != "" {
			args = append(args, "turn_id", turnID)
		}
		if sessionID, ok := ctx.Value(sessionIDKey).(string); ok && sessionID != "" {
			args = append(args, "session_id", sessionID)
		}
	}
	l.base.Log(ctx, level, redact(msg), args...)
}

// Debug logs at debug level with context correlation.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level with context correlation.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with context correlation.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level with context correlation.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func redact(s string) string {
	return secretPattern.ReplaceAllString(s, "$1=[REDACTED]")
}

func redactArgs(args []any) []any {
	for i, a := range args {
		if s, ok := a.(string); ok {
			args[i] = redact(s)
		}
	}
	return args
}
