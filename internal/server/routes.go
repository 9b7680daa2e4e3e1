package server

import (
	"github.com/gin-contrib/cors"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/server/api"
	"github.com/calderhq/tiergate/internal/server/middleware"
)

type Handlers struct {
	fx.In

	Entitlement *api.EntitlementHandlers
	Tenant      *api.TenantHandlers
	System      *api.SystemHandlers
}

func SetupRoutes(server *Server, handlers Handlers) {
	server.Use(middleware.AccessLog())
	server.Use(middleware.WithTrace(server.Config.Trace))

	if server.Config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = server.Config.CORS.AllowedOrigins
		corsConfig.AllowMethods = server.Config.CORS.AllowedMethods
		corsConfig.AllowHeaders = server.Config.CORS.AllowedHeaders
		corsConfig.ExposeHeaders = server.Config.CORS.ExposedHeaders
		corsConfig.AllowCredentials = server.Config.CORS.AllowCredentials
		corsConfig.MaxAge = server.Config.CORS.MaxAge

		corsHandler := cors.New(corsConfig)
		server.Use(corsHandler)
		server.OPTIONS("*any", corsHandler)
	}

	server.GET("/health", handlers.System.Health)
	server.GET("/version", handlers.System.Version)

	v1 := server.Group("/v1")
	{
		v1.GET("/catalog", handlers.System.CatalogInfo)

		tenants := v1.Group("/tenants/:id", middleware.WithTenant())
		{
			tenants.GET("/entitlement", handlers.Entitlement.Resolve)
			tenants.GET("/features", handlers.Entitlement.Features)
			tenants.GET("/features/:feature", handlers.Entitlement.CheckFeature)

			tenants.POST("", handlers.Tenant.Ensure)
			tenants.PUT("/tier", handlers.Tenant.SetTier)
			tenants.POST("/overrides/:feature", handlers.Tenant.GrantOverride)
			tenants.DELETE("/overrides/:feature", handlers.Tenant.RevokeOverride)
		}
	}
}
