package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/server/biz"
)

type EntitlementHandlersParams struct {
	fx.In

	Entitlements *biz.EntitlementService
	Guard        *biz.Guard
}

type EntitlementHandlers struct {
	Entitlements *biz.EntitlementService
	Guard        *biz.Guard
}

func NewEntitlementHandlers(params EntitlementHandlersParams) *EntitlementHandlers {
	return &EntitlementHandlers{
		Entitlements: params.Entitlements,
		Guard:        params.Guard,
	}
}

// Resolve returns the effective entitlement for a tenant.
func (h *EntitlementHandlers) Resolve(c *gin.Context) {
	entitlement, err := h.Entitlements.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		JSONError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, entitlement)
}

// Features returns every cataloged feature with the tenant's access flag.
func (h *EntitlementHandlers) Features(c *gin.Context) {
	features, err := h.Entitlements.FeatureList(c.Request.Context(), c.Param("id"))
	if err != nil {
		JSONError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": c.Param("id"),
		"features":  features,
	})
}

// CheckFeature returns the guard decision for one feature.
func (h *EntitlementHandlers) CheckFeature(c *gin.Context) {
	feature := c.Param("feature")

	decision, err := h.Guard.RequireFeature(c.Request.Context(), c.Param("id"), feature)

	switch {
	case errors.Is(err, biz.ErrUnknownFeature):
		JSONError(c, http.StatusNotFound, fmt.Errorf("unknown feature %q", feature))
	case err != nil:
		JSONError(c, http.StatusServiceUnavailable, err)
	default:
		c.JSON(http.StatusOK, decision)
	}
}
