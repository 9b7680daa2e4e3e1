package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/server/biz"
)

type TenantHandlersParams struct {
	fx.In

	Tenants      *biz.TenantService
	Entitlements *biz.EntitlementService
}

type TenantHandlers struct {
	Tenants      *biz.TenantService
	Entitlements *biz.EntitlementService
}

func NewTenantHandlers(params TenantHandlersParams) *TenantHandlers {
	return &TenantHandlers{
		Tenants:      params.Tenants,
		Entitlements: params.Entitlements,
	}
}

type setTierRequest struct {
	Tier      int        `json:"tier" binding:"min=0"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason"`
}

// SetTier stores a new tier for the tenant and returns the fresh
// entitlement.
func (h *TenantHandlers) SetTier(c *gin.Context) {
	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	if req.Reason == "" {
		req.Reason = "manual"
	}

	tenantID := c.Param("id")

	err := h.Tenants.SetTier(c.Request.Context(), tenantID, req.Tier, req.ExpiresAt, req.Reason)

	switch {
	case errors.Is(err, biz.ErrInvalidTier):
		JSONError(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, biz.ErrMutationConflict):
		JSONError(c, http.StatusConflict, err)
		return
	case err != nil:
		JSONError(c, http.StatusServiceUnavailable, err)
		return
	}

	h.respondWithEntitlement(c, tenantID)
}

// Ensure creates an empty record for the tenant when none exists.
func (h *TenantHandlers) Ensure(c *gin.Context) {
	if err := h.Tenants.EnsureTenant(c.Request.Context(), c.Param("id")); err != nil {
		h.mutationError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GrantOverride adds one override feature.
func (h *TenantHandlers) GrantOverride(c *gin.Context) {
	err := h.Tenants.GrantOverride(c.Request.Context(), c.Param("id"), c.Param("feature"))
	if errors.Is(err, biz.ErrUnknownFeature) {
		JSONError(c, http.StatusNotFound, err)
		return
	}

	if err != nil {
		h.mutationError(c, err)
		return
	}

	h.respondWithEntitlement(c, c.Param("id"))
}

// RevokeOverride removes one override feature.
func (h *TenantHandlers) RevokeOverride(c *gin.Context) {
	if err := h.Tenants.RevokeOverride(c.Request.Context(), c.Param("id"), c.Param("feature")); err != nil {
		h.mutationError(c, err)
		return
	}

	h.respondWithEntitlement(c, c.Param("id"))
}

func (h *TenantHandlers) mutationError(c *gin.Context, err error) {
	if errors.Is(err, biz.ErrMutationConflict) {
		JSONError(c, http.StatusConflict, err)
		return
	}

	JSONError(c, http.StatusServiceUnavailable, err)
}

func (h *TenantHandlers) respondWithEntitlement(c *gin.Context, tenantID string) {
	entitlement, err := h.Entitlements.Resolve(c.Request.Context(), tenantID)
	if err != nil {
		JSONError(c, http.StatusServiceUnavailable, err)
		return
	}

	c.JSON(http.StatusOK, entitlement)
}
