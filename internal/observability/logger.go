// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with a persistent component field so log lines from
// the scanner, the index store, and the facade can be told apart. Metrics
// collects rebuild and query statistics in memory.
package observability

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Logger wraps slog with a persistent component context.
type Logger struct {
	mu        sync.RWMutex
	inner     *slog.Logger
	component string
	fields    []slog.Attr
}

// NewLogger creates a structured logger for a given component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: component,
	}
}

// With returns a new Logger with additional persistent fields.
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
		fields:    append(l.fields, slog.Any(key, value)),
	}
}

// attrs prepends the component name to the arguments.
func (l *Logger) attrs(msg string, args []any) (string, []any) {
	return msg, append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Debug(msg, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Info(msg, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Warn(msg, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	msg, args = l.attrs(msg, args)
	l.inner.Error(msg, args...)
}

// RebuildEvent logs the completion of an index rebuild.
func (l *Logger) RebuildEvent(rebuildID string, items int, duration time.Duration, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("rebuild_id", rebuildID),
		slog.Int("items", items),
		slog.Duration("duration", duration),
	}, args...)
	l.inner.Info("rebuild", allArgs...)
}

// SearchEvent logs a served query with its latency.
func (l *Logger) SearchEvent(mode string, results int, latency time.Duration, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("mode", mode),
		slog.Int("results", results),
		slog.Duration("latency", latency),
	}, args...)
	l.inner.Info("search", allArgs...)
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}
