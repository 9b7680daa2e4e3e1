package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/tiergate/internal/contexts"
	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/server/biz"
)

// TenantHeader identifies the calling tenant when the route carries no
// tenant parameter.
const TenantHeader = "TG-Tenant-Id"

// TenantID extracts the tenant the request acts on: the id route parameter
// when present, the tenant header otherwise.
func TenantID(c *gin.Context) string {
	if tenantID := c.Param("id"); tenantID != "" {
		return tenantID
	}

	return c.GetHeader(TenantHeader)
}

// WithTenant resolves the tenant identity and stores it on the request
// context for downstream handlers and log lines. Requests without a tenant
// are rejected before any handler runs.
func WithTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		if tenantID == "" {
			AbortWithError(c, http.StatusBadRequest, fmt.Errorf("missing tenant id"))
			return
		}

		ctx := contexts.WithTenantID(c.Request.Context(), tenantID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// denialResponse is the body of a guard rejection. Checked stays false for a
// clean tier denial; it is set when the decision could not be made and the
// deny is conservative, so the caller can choose retry over upsell.
type denialResponse struct {
	biz.Decision

	Checked bool   `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// RequireFeature gates the wrapped handlers behind a feature check. The
// handler never runs on a denial, so its side effects cannot leak to
// unentitled tenants.
func RequireFeature(guard *biz.Guard, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		if tenantID == "" {
			AbortWithError(c, http.StatusBadRequest, fmt.Errorf("missing tenant id"))
			return
		}

		ctx := c.Request.Context()

		decision, err := guard.RequireFeature(ctx, tenantID, feature)

		switch {
		case errors.Is(err, biz.ErrUnknownFeature):
			AbortWithError(c, http.StatusNotFound, err)
		case err != nil:
			// Fail closed but distinguishable from a tier denial.
			log.Error(ctx, "feature check unavailable",
				log.String("tenant_id", tenantID),
				log.String("feature", feature),
				log.Cause(err),
			)

			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, denialResponse{
				Decision: decision,
				Error:    "entitlement check unavailable",
			})
		case decision.Denied:
			c.AbortWithStatusJSON(http.StatusForbidden, denialResponse{
				Decision: decision,
				Checked:  true,
			})
		default:
			c.Next()
		}
	}
}

// RequireTier gates the wrapped handlers behind a minimum-tier check, for
// routes not tied to a cataloged feature.
func RequireTier(guard *biz.Guard, tier int) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		if tenantID == "" {
			AbortWithError(c, http.StatusBadRequest, fmt.Errorf("missing tenant id"))
			return
		}

		ctx := c.Request.Context()

		decision, err := guard.RequireTier(ctx, tenantID, tier)

		switch {
		case err != nil:
			log.Error(ctx, "tier check unavailable",
				log.String("tenant_id", tenantID),
				log.Cause(err),
			)

			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, denialResponse{
				Decision: decision,
				Error:    "entitlement check unavailable",
			})
		case decision.Denied:
			c.AbortWithStatusJSON(http.StatusForbidden, denialResponse{
				Decision: decision,
				Checked:  true,
			})
		default:
			c.Next()
		}
	}
}
