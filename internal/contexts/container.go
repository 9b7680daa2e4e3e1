package contexts

import (
	"context"
)

// Container holds all per-request values carried through the context.
// Keeping them in a single container avoids stacking context.WithValue
// wrappers on hot paths.
type Container struct {
	TraceID       *string
	OperationName *string
	TenantID      *string
}

// containerKey is an unexported key type to prevent external forgery.
type containerKey struct{}

func getContainer(ctx context.Context) *Container {
	if ctx == nil {
		return &Container{}
	}

	container, ok := ctx.Value(containerKey{}).(*Container)
	if !ok || container == nil {
		return &Container{}
	}

	cloned := *container

	return &cloned
}

func withContainer(ctx context.Context, container *Container) context.Context {
	return context.WithValue(ctx, containerKey{}, container)
}
