package contexts

import (
	"context"
)

// WithTraceID stores the trace id in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	container := getContainer(ctx)
	container.TraceID = &traceID

	return withContainer(ctx, container)
}

// GetTraceID retrieves the trace id from the context.
func GetTraceID(ctx context.Context) (string, bool) {
	container := getContainer(ctx)
	if container.TraceID != nil {
		return *container.TraceID, true
	}

	return "", false
}

// WithOperationName stores the operation name in the context.
func WithOperationName(ctx context.Context, name string) context.Context {
	container := getContainer(ctx)
	container.OperationName = &name

	return withContainer(ctx, container)
}

// GetOperationName retrieves the operation name from the context.
func GetOperationName(ctx context.Context) (string, bool) {
	container := getContainer(ctx)
	if container.OperationName != nil {
		return *container.OperationName, true
	}

	return "", false
}

// WithTenantID stores the tenant id in the context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	container := getContainer(ctx)
	container.TenantID = &tenantID

	return withContainer(ctx, container)
}

// GetTenantID retrieves the tenant id from the context.
func GetTenantID(ctx context.Context) (string, bool) {
	container := getContainer(ctx)
	if container.TenantID != nil {
		return *container.TenantID, true
	}

	return "", false
}
