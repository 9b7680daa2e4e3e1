package tracing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/calderhq/tiergate/internal/contexts"
)

type Config struct {
	// TraceHeader is the request header carrying an externally-assigned
	// trace id. When empty, TG-Trace-Id is used.
	TraceHeader string `conf:"trace_header" yaml:"trace_header" json:"trace_header"`
}

// HeaderName returns the effective trace header name.
func (c Config) HeaderName() string {
	if c.TraceHeader != "" {
		return c.TraceHeader
	}

	return "TG-Trace-Id"
}

// GenerateTraceID generates a trace id, formatted as tg-{{uuid}}.
func GenerateTraceID() string {
	id := uuid.New()
	return fmt.Sprintf("tg-%s", id.String())
}

// WithTraceID stores the trace id in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return contexts.WithTraceID(ctx, traceID)
}

// GetTraceID gets the trace id from the context.
func GetTraceID(ctx context.Context) (string, bool) {
	return contexts.GetTraceID(ctx)
}

// WithOperationName stores the operation name in the context.
func WithOperationName(ctx context.Context, name string) context.Context {
	return contexts.WithOperationName(ctx, name)
}

// GetOperationName gets the operation name from the context.
func GetOperationName(ctx context.Context) (string, bool) {
	return contexts.GetOperationName(ctx)
}
