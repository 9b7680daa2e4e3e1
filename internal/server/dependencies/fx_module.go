// Package dependencies wires the process-level collaborators: the logger,
// the tenant store, and the feature catalog.
package dependencies

import (
	"context"

	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/server/biz"
	"github.com/calderhq/tiergate/internal/store"
)

func NewTenantStore(cfg store.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg)
}

func NewCatalog(cfg biz.Config) (*catalog.Catalog, error) {
	return catalog.FromConfig(cfg.Catalog)
}

var Module = fx.Module("dependencies",
	fx.Provide(log.New),
	fx.Provide(NewTenantStore),
	fx.Provide(func(s *store.SQLiteStore) store.TenantStore { return s }),
	fx.Provide(NewCatalog),
	fx.Invoke(func(lc fx.Lifecycle, s *store.SQLiteStore) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return s.Ping(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return s.Close()
			},
		})
	}),
)
