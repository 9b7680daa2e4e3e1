package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(NewEntitlementHandlers),
	fx.Provide(NewTenantHandlers),
	fx.Provide(NewSystemHandlers),
)
