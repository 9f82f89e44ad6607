// Package logger provides structured logging on log/slog with trace ID
// propagation through context.Context. Each coordinator cycle and each
// broker action gets its own trace ID.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates a JSON logger for service, installs it as the slog default
// and returns it.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug/info/warn/error to a slog.Level, defaulting to info.
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

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID returns "{scope}-{uuid}". An empty scope yields the bare uuid.
func NewTraceID(scope string) string {
	id := uuid.NewString()
	if scope == "" {
		return id
	}
	return scope + "-" + id
}

// Child derives a trace ID for a sub-action, keeping the parent as prefix.
func Child(ctx context.Context, scope string) context.Context {
	parent := TraceID(ctx)
	if parent == "" {
		return WithTraceID(ctx, NewTraceID(scope))
	}
	return WithTraceID(ctx, parent+"/"+scope)
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
