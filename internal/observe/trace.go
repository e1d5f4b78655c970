package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Aetheria tracer.
const tracerName = "github.com/MrWong99/aetheria"

// Tracer returns the package-level [trace.Tracer] for Aetheria. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SessionAttr returns the log attribute identifying a live session.
func SessionAttr(id string) slog.Attr {
	return slog.String("session_id", id)
}

// SessionLogger returns the default logger tagged with the session id and,
// when ctx carries a recording span, its trace_id and span_id. Log lines of
// one session can then be joined with the connect span.
func SessionLogger(ctx context.Context, id string) *slog.Logger {
	args := []any{SessionAttr(id)}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return slog.Default().With(args...)
}
