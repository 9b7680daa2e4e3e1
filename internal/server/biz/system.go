package biz

import (
	"context"

	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/build"
	"github.com/calderhq/tiergate/internal/store"
)

type SystemServiceParams struct {
	fx.In

	Store store.TenantStore
}

// SystemService answers liveness and build questions for the HTTP surface.
type SystemService struct {
	*AbstractService
}

func NewSystemService(params SystemServiceParams) *SystemService {
	return &SystemService{
		AbstractService: &AbstractService{store: params.Store},
	}
}

// SystemStatus is the health payload.
type SystemStatus struct {
	Healthy bool   `json:"healthy"`
	Store   bool   `json:"store"`
	Version string `json:"version"`
}

// Status probes the store with a cheap read. A tenant that does not exist is
// still a healthy store; only a transport or database failure is not.
func (s *SystemService) Status(ctx context.Context) SystemStatus {
	probe := s.store.FindOne(ctx, "system:health-probe")

	return SystemStatus{
		Healthy: probe.Success,
		Store:   probe.Success,
		Version: build.Version,
	}
}
