package logging

import "context"

type traceKey int

const (
	traceIDKey traceKey = iota
	spanIDKey
)

// WithTraceContext stores trace and span ids on a context. Loggers bound
// via WithContext emit them as trace_id/span_id fields on every message.
func WithTraceContext(ctx context.Context, traceID, spanID string) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

// extractContextFields pulls the trace correlation fields off a context.
// Returns nil when ctx is nil or carries neither id.
func extractContextFields(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	var fields map[string]interface{}
	if v := ctx.Value(traceIDKey); v != nil {
		fields = map[string]interface{}{"trace_id": v}
	}
	if v := ctx.Value(spanIDKey); v != nil {
		if fields == nil {
			fields = make(map[string]interface{}, 1)
		}
		fields["span_id"] = v
	}
	return fields
}
