package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/build"
	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/server/biz"
)

type SystemHandlersParams struct {
	fx.In

	System  *biz.SystemService
	Catalog *catalog.Catalog
}

type SystemHandlers struct {
	System  *biz.SystemService
	Catalog *catalog.Catalog
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{
		System:  params.System,
		Catalog: params.Catalog,
	}
}

// Health reports process and store liveness.
func (h *SystemHandlers) Health(c *gin.Context) {
	status := h.System.Status(c.Request.Context())

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, status)
}

// Version reports build information.
func (h *SystemHandlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, build.GetBuildInfo())
}

// Catalog returns the static tier table.
func (h *SystemHandlers) CatalogInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiers": h.Catalog.Tiers(),
	})
}
