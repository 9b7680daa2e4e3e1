package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/tiergate/internal/tracing"
)

// WithTrace saves the trace ID and operation name to the request context so
// every log line downstream carries them. The trace ID comes from the
// configured header when the caller supplies one, otherwise it is generated.
func WithTrace(config tracing.Config) gin.HandlerFunc {
	traceHeader := config.HeaderName()

	return func(c *gin.Context) {
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = tracing.GenerateTraceID()
		}

		c.Header(traceHeader, traceID)

		ctx := tracing.WithTraceID(c.Request.Context(), traceID)

		if c.FullPath() != "" {
			ctx = tracing.WithOperationName(ctx, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
