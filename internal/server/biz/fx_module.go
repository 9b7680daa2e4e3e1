package biz

import (
	"go.uber.org/fx"
)

var Module = fx.Module("biz",
	fx.Provide(NewEntitlementService),
	fx.Provide(NewTenantService),
	fx.Provide(NewGuard),
	fx.Provide(NewSystemService),
)
