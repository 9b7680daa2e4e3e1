package biz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/pkg/xcache"
	"github.com/calderhq/tiergate/internal/store"
)

type testStack struct {
	Store        *store.SQLiteStore
	Entitlements *EntitlementService
	Tenants      *TenantService
	Guard        *Guard

	now time.Time
}

func (ts *testStack) setNow(t time.Time) {
	ts.now = t
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	st, err := store.NewSQLiteStore(store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	stack := &testStack{
		Store: st,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	cfg := Config{
		CacheTTL: 30 * time.Second,
		Cache:    xcache.Config{Mode: xcache.ModeMemory},
	}

	entitlements, err := NewEntitlementService(EntitlementServiceParams{
		Store:   st,
		Catalog: catalog.Default(),
		Config:  cfg,
	})
	require.NoError(t, err)

	entitlements.now = func() time.Time { return stack.now }

	tenants := NewTenantService(TenantServiceParams{
		Store:        st,
		Catalog:      entitlements.Catalog,
		Entitlements: entitlements,
		Config:       cfg,
	})
	tenants.now = func() time.Time { return stack.now }

	stack.Entitlements = entitlements
	stack.Tenants = tenants
	stack.Guard = NewGuard(GuardParams{Entitlements: entitlements})

	return stack
}

func TestEntitlementService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown tenant resolves to free tier", func(t *testing.T) {
		stack := newTestStack(t)

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Equal(t, "Free", entitlement.TierName)
		require.Equal(t, SourceDefault, entitlement.Source)
		require.Equal(t, []string{catalog.FeatureKillfeed}, entitlement.Features)
		require.Equal(t, 1, entitlement.MaxServers)
		require.Nil(t, entitlement.ExpiresAt)
	})

	t.Run("stored tier grants cumulative features", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-2", 2, nil, "purchase"))

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-2")
		require.NoError(t, err)
		require.Equal(t, 2, entitlement.Tier)
		require.Equal(t, "Mercenary", entitlement.TierName)
		require.Equal(t, SourceStored, entitlement.Source)
		require.Contains(t, entitlement.Features, catalog.FeatureKillfeed)
		require.Contains(t, entitlement.Features, catalog.FeatureLeaderboards)
		require.Contains(t, entitlement.Features, catalog.FeatureRivalries)
		require.NotContains(t, entitlement.Features, catalog.FeatureFactions)
	})

	t.Run("expired tier resolves to free without touching the record", func(t *testing.T) {
		stack := newTestStack(t)

		expiry := stack.now.Add(time.Hour)
		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-3", 3, &expiry, "purchase"))

		stack.setNow(stack.now.Add(2 * time.Hour))
		stack.Entitlements.Invalidate(ctx, "guild-3")

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-3")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Equal(t, SourceExpired, entitlement.Source)
		require.Equal(t, []string{catalog.FeatureKillfeed}, entitlement.Features)

		// The stored record keeps the original tier until a sweep runs.
		record := stack.Store.FindOne(ctx, "guild-3")
		require.NoError(t, record.Err())
		require.Equal(t, 3, record.Payload.GetInt("tier", -1))
	})

	t.Run("expiry in the future is not a downgrade", func(t *testing.T) {
		stack := newTestStack(t)

		expiry := stack.now.Add(time.Hour)
		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-4", 1, &expiry, "purchase"))

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-4")
		require.NoError(t, err)
		require.Equal(t, 1, entitlement.Tier)
		require.Equal(t, SourceStored, entitlement.Source)
		require.NotNil(t, entitlement.ExpiresAt)
		require.True(t, entitlement.ExpiresAt.Equal(expiry))
	})

	t.Run("malformed stored tier resolves to free tier", func(t *testing.T) {
		stack := newTestStack(t)

		result := stack.Store.Upsert(ctx, "guild-5", []byte(`{"tier":"gold"}`))
		require.NoError(t, result.Err())

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-5")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Equal(t, SourceDefault, entitlement.Source)
	})

	t.Run("out of range stored tier resolves to free tier", func(t *testing.T) {
		stack := newTestStack(t)

		result := stack.Store.Upsert(ctx, "guild-6", []byte(`{"tier":9}`))
		require.NoError(t, result.Err())

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-6")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Equal(t, SourceDefault, entitlement.Source)
	})

	t.Run("null tier field resolves to free tier as stored", func(t *testing.T) {
		stack := newTestStack(t)

		result := stack.Store.Upsert(ctx, "guild-7", []byte(`{"tier":null}`))
		require.NoError(t, result.Err())

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-7")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Equal(t, SourceStored, entitlement.Source)
	})

	t.Run("overrides grant features above the tier", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.GrantOverride(ctx, "guild-8", catalog.FeatureFactions))

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-8")
		require.NoError(t, err)
		require.Equal(t, 0, entitlement.Tier)
		require.Contains(t, entitlement.Features, catalog.FeatureFactions)
		require.Equal(t, []string{catalog.FeatureFactions}, entitlement.Overrides)
	})

	t.Run("overrides survive tier expiration", func(t *testing.T) {
		stack := newTestStack(t)

		expiry := stack.now.Add(time.Hour)
		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-9", 2, &expiry, "purchase"))
		require.NoError(t, stack.Tenants.GrantOverride(ctx, "guild-9", catalog.FeatureEvents))

		stack.setNow(stack.now.Add(2 * time.Hour))
		stack.Entitlements.Invalidate(ctx, "guild-9")

		entitlement, err := stack.Entitlements.Resolve(ctx, "guild-9")
		require.NoError(t, err)
		require.Equal(t, SourceExpired, entitlement.Source)
		require.Contains(t, entitlement.Features, catalog.FeatureEvents)
		require.NotContains(t, entitlement.Features, catalog.FeatureRivalries)
	})

	t.Run("store failure propagates", func(t *testing.T) {
		stack := newTestStack(t)
		require.NoError(t, stack.Store.Close())

		_, err := stack.Entitlements.Resolve(ctx, "guild-10")
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestEntitlementService_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("serves memoized snapshot within ttl", func(t *testing.T) {
		stack := newTestStack(t)

		first, err := stack.Entitlements.Resolve(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, 0, first.Tier)

		// Write behind the cache's back; the stale snapshot is still served.
		result := stack.Store.Upsert(ctx, "guild-1", []byte(`{"tier":3}`))
		require.NoError(t, result.Err())

		cached, err := stack.Entitlements.Resolve(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, 0, cached.Tier)

		stack.Entitlements.Invalidate(ctx, "guild-1")

		fresh, err := stack.Entitlements.Resolve(ctx, "guild-1")
		require.NoError(t, err)
		require.Equal(t, 3, fresh.Tier)
	})

	t.Run("mutations invalidate before returning", func(t *testing.T) {
		stack := newTestStack(t)

		before, err := stack.Entitlements.Resolve(ctx, "guild-2")
		require.NoError(t, err)
		require.Equal(t, 0, before.Tier)

		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-2", 4, nil, "purchase"))

		after, err := stack.Entitlements.Resolve(ctx, "guild-2")
		require.NoError(t, err)
		require.Equal(t, 4, after.Tier)
		require.Equal(t, "Overlord", after.TierName)
	})

	t.Run("resolution error is not cached", func(t *testing.T) {
		stack := newTestStack(t)
		require.NoError(t, stack.Store.Close())

		_, err := stack.Entitlements.Resolve(ctx, "guild-3")
		require.Error(t, err)

		// Reopen is not possible on a closed handle; a second call must
		// fail again rather than serve a cached error.
		_, err = stack.Entitlements.Resolve(ctx, "guild-3")
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestEntitlementService_HasAccess(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	require.NoError(t, stack.Tenants.SetTier(ctx, "guild-1", 1, nil, "purchase"))

	has, err := stack.Entitlements.HasAccess(ctx, "guild-1", catalog.FeatureBasicStats)
	require.NoError(t, err)
	require.True(t, has)

	has, err = stack.Entitlements.HasAccess(ctx, "guild-1", catalog.FeatureFactions)
	require.NoError(t, err)
	require.False(t, has)

	// Unknown features are simply not present.
	has, err = stack.Entitlements.HasAccess(ctx, "guild-1", "time_travel")
	require.NoError(t, err)
	require.False(t, has)
}

func TestEntitlementService_FeatureList(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	require.NoError(t, stack.Tenants.SetTier(ctx, "guild-1", 1, nil, "purchase"))

	features, err := stack.Entitlements.FeatureList(ctx, "guild-1")
	require.NoError(t, err)
	require.Len(t, features, len(stack.Entitlements.Catalog.AllFeatures()))
	require.True(t, features[catalog.FeatureKillfeed])
	require.True(t, features[catalog.FeatureLeaderboards])
	require.False(t, features[catalog.FeatureRivalries])
	require.False(t, features[catalog.FeatureFullAutomation])
}

func TestEntitlementService_RequiredTier(t *testing.T) {
	stack := newTestStack(t)

	require.Equal(t, 0, stack.Entitlements.RequiredTier(catalog.FeatureKillfeed))
	require.Equal(t, 2, stack.Entitlements.RequiredTier(catalog.FeatureRivalries))
	require.Equal(t, 3, stack.Entitlements.RequiredTier(catalog.FeatureFactions))
	require.Equal(t, -1, stack.Entitlements.RequiredTier("time_travel"))
}
