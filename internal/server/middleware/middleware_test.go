package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/pkg/xcache"
	"github.com/calderhq/tiergate/internal/server/biz"
	"github.com/calderhq/tiergate/internal/store"
	"github.com/calderhq/tiergate/internal/tracing"
)

func newGuardFixture(t *testing.T) (*biz.Guard, *biz.TenantService, *store.SQLiteStore) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := biz.Config{Cache: xcache.Config{Mode: xcache.ModeMemory}}

	entitlements, err := biz.NewEntitlementService(biz.EntitlementServiceParams{
		Store:   st,
		Catalog: catalog.Default(),
		Config:  cfg,
	})
	require.NoError(t, err)

	tenants := biz.NewTenantService(biz.TenantServiceParams{
		Store:        st,
		Catalog:      entitlements.Catalog,
		Entitlements: entitlements,
		Config:       cfg,
	})

	return biz.NewGuard(biz.GuardParams{Entitlements: entitlements}), tenants, st
}

func TestWithTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("uses the caller trace id", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTrace(tracing.Config{}))

		var got string

		router.GET("/ping", func(c *gin.Context) {
			got, _ = tracing.GetTraceID(c.Request.Context())
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("TG-Trace-Id", "tg-caller")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, "tg-caller", got)
		require.Equal(t, "tg-caller", w.Header().Get("TG-Trace-Id"))
	})

	t.Run("generates a trace id when absent", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTrace(tracing.Config{}))

		router.GET("/ping", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		require.NotEmpty(t, w.Header().Get("TG-Trace-Id"))
	})

	t.Run("honors a custom header", func(t *testing.T) {
		router := gin.New()
		router.Use(WithTrace(tracing.Config{TraceHeader: "X-Custom-Trace"}))

		router.GET("/ping", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Custom-Trace", "tg-custom")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, "tg-custom", w.Header().Get("X-Custom-Trace"))
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("panic becomes a 500", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())

		router.GET("/panic", func(c *gin.Context) {
			panic("boom")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		require.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("normal requests pass through", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())

		router.GET("/ok", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "OK", w.Body.String())
	})
}

func TestRequireFeature(t *testing.T) {
	ctx := context.Background()

	newRouter := func(guard *biz.Guard, feature string) *gin.Engine {
		router := gin.New()
		router.GET("/tenants/:id/gated",
			RequireFeature(guard, feature),
			func(c *gin.Context) {
				c.String(http.StatusOK, "granted")
			},
		)

		return router
	}

	t.Run("entitled tenant reaches the handler", func(t *testing.T) {
		guard, tenants, _ := newGuardFixture(t)
		require.NoError(t, tenants.SetTier(ctx, "guild-1", 2, nil, "purchase"))

		router := newRouter(guard, catalog.FeatureRivalries)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-1/gated", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "granted", w.Body.String())
	})

	t.Run("denial short-circuits with structured data", func(t *testing.T) {
		guard, tenants, _ := newGuardFixture(t)
		require.NoError(t, tenants.SetTier(ctx, "guild-2", 1, nil, "purchase"))

		router := newRouter(guard, catalog.FeatureFactions)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-2/gated", nil))

		require.Equal(t, http.StatusForbidden, w.Code)

		var denial denialResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &denial))
		require.True(t, denial.Denied)
		require.True(t, denial.Checked)
		require.Equal(t, catalog.FeatureFactions, denial.Feature)
		require.Equal(t, 1, denial.CurrentTier)
		require.Equal(t, 3, denial.RequiredTier)
	})

	t.Run("store outage denies with an error flag", func(t *testing.T) {
		guard, _, st := newGuardFixture(t)
		require.NoError(t, st.Close())

		router := newRouter(guard, catalog.FeatureKillfeed)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-3/gated", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var denial denialResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &denial))
		require.False(t, denial.Checked)
		require.NotEmpty(t, denial.Error)
	})

	t.Run("unknown feature is a 404", func(t *testing.T) {
		guard, _, _ := newGuardFixture(t)

		router := newRouter(guard, "time_travel")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-4/gated", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing tenant id is a 400", func(t *testing.T) {
		guard, _, _ := newGuardFixture(t)

		router := gin.New()
		router.GET("/gated",
			RequireFeature(guard, catalog.FeatureKillfeed),
			func(c *gin.Context) {
				c.Status(http.StatusOK)
			},
		)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gated", nil))

		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tenant header works without a route param", func(t *testing.T) {
		guard, tenants, _ := newGuardFixture(t)
		require.NoError(t, tenants.SetTier(ctx, "guild-5", 4, nil, "purchase"))

		router := gin.New()
		router.GET("/gated",
			RequireFeature(guard, catalog.FeatureFullAutomation),
			func(c *gin.Context) {
				c.Status(http.StatusOK)
			},
		)

		req := httptest.NewRequest(http.MethodGet, "/gated", nil)
		req.Header.Set(TenantHeader, "guild-5")

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireTier(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold check", func(t *testing.T) {
		guard, tenants, _ := newGuardFixture(t)
		require.NoError(t, tenants.SetTier(ctx, "guild-1", 3, nil, "purchase"))

		router := gin.New()
		router.GET("/tenants/:id/admin",
			RequireTier(guard, 3),
			func(c *gin.Context) {
				c.Status(http.StatusOK)
			},
		)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-1/admin", nil))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tenants/guild-2/admin", nil))
		require.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAccessLog(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// The middleware must not interfere with the request itself.
	router := gin.New()
	router.Use(AccessLog())

	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		c.Status(http.StatusOK)
	})
	router.GET("/fail", func(c *gin.Context) {
		AbortWithError(c, http.StatusBadGateway, context.DeadlineExceeded)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusBadGateway, w.Code)
}
