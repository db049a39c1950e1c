// Package logger builds the JSON slog loggers used by every component and
// carries request-scoped log fields through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	fieldsKey ctxKey = iota
	loggerKey
)

// fields are the request attributes attached to every log line of a request.
type fields struct {
	correlationID string
	userID        string
	sessionID     string
}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey).(fields)
	return f
}

func withFields(ctx context.Context, update func(*fields)) context.Context {
	f := fieldsFrom(ctx)
	update(&f)
	return context.WithValue(ctx, fieldsKey, f)
}

// New creates a JSON logger on stdout tagged with serviceName.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter creates a JSON logger on w. Debug level also records the
// source location.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

// ParseLevel maps debug, info, warn and error to their slog levels. Anything
// else is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WithCorrelationID stores the request correlation id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withFields(ctx, func(f *fields) { f.correlationID = id })
}

// CorrelationIDFromContext returns the correlation id stored in ctx, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).correlationID
}

// WithUserID stores the authenticated user id in ctx for logging.
func WithUserID(ctx context.Context, id string) context.Context {
	return withFields(ctx, func(f *fields) { f.userID = id })
}

// WithSessionID stores the anonymous session id in ctx for logging.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withFields(ctx, func(f *fields) { f.sessionID = id })
}

// NewContext stores l as the request logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request logger, or slog.Default when none is set.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns l enriched with the request fields of ctx and the ids of
// its active span. A user id hides the session id.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	var attrs []any
	f := fieldsFrom(ctx)
	if f.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", f.correlationID))
	}
	switch {
	case f.userID != "":
		attrs = append(attrs, slog.String("user_id", f.userID))
	case f.sessionID != "":
		attrs = append(attrs, slog.String("session_id", f.sessionID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
