package obs

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceFields returns the span carried by ctx as log fields, or nil when ctx
// has none.
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.Bool("trace_sampled", sc.IsSampled()),
	}
}

// WithTrace tags log with the span carried by ctx so log lines can be joined
// with exported traces. A nil log yields a no-op logger.
func WithTrace(ctx context.Context, log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	if fields := TraceFields(ctx); fields != nil {
		return log.With(fields...)
	}
	return log
}
