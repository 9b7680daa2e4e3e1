package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calderhq/tiergate/internal/catalog"
)

func TestGuard_RequireFeature(t *testing.T) {
	ctx := context.Background()

	t.Run("allows entitled features", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-1", 2, nil, "purchase"))

		decision, err := stack.Guard.RequireFeature(ctx, "guild-1", catalog.FeatureRivalries)
		require.NoError(t, err)
		require.True(t, decision.Allowed())
		require.Equal(t, catalog.FeatureRivalries, decision.Feature)
		require.Equal(t, 2, decision.CurrentTier)
		require.Equal(t, "Mercenary", decision.CurrentName)
	})

	t.Run("denies with upgrade context", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-2", 1, nil, "purchase"))

		decision, err := stack.Guard.RequireFeature(ctx, "guild-2", catalog.FeatureFactions)
		require.NoError(t, err)
		require.True(t, decision.Denied)
		require.Equal(t, catalog.FeatureFactions, decision.Feature)
		require.Equal(t, 1, decision.CurrentTier)
		require.Equal(t, "Survivor", decision.CurrentName)
		require.Equal(t, 3, decision.RequiredTier)
		require.Equal(t, "Warlord", decision.RequiredName)
	})

	t.Run("allows override granted features", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.GrantOverride(ctx, "guild-3", catalog.FeatureCustomEmbeds))

		decision, err := stack.Guard.RequireFeature(ctx, "guild-3", catalog.FeatureCustomEmbeds)
		require.NoError(t, err)
		require.True(t, decision.Allowed())
		require.Equal(t, 0, decision.CurrentTier)
	})

	t.Run("unknown feature is an error, not a tier problem", func(t *testing.T) {
		stack := newTestStack(t)

		decision, err := stack.Guard.RequireFeature(ctx, "guild-4", "time_travel")
		require.ErrorIs(t, err, ErrUnknownFeature)
		require.True(t, decision.Denied)
	})

	t.Run("store failure denies with a distinguishable error", func(t *testing.T) {
		stack := newTestStack(t)
		require.NoError(t, stack.Store.Close())

		decision, err := stack.Guard.RequireFeature(ctx, "guild-5", catalog.FeatureKillfeed)
		require.ErrorIs(t, err, ErrStoreUnavailable)
		require.True(t, decision.Denied)
		require.Equal(t, catalog.FeatureKillfeed, decision.Feature)
	})
}

func TestGuard_AgreesWithHasAccess(t *testing.T) {
	ctx := context.Background()

	for tier := 0; tier <= 4; tier++ {
		stack := newTestStack(t)
		tenantID := "guild-agree"

		if tier > 0 {
			require.NoError(t, stack.Tenants.SetTier(ctx, tenantID, tier, nil, "purchase"))
		}

		for _, feature := range stack.Entitlements.Catalog.AllFeatures() {
			has, err := stack.Entitlements.HasAccess(ctx, tenantID, feature)
			require.NoError(t, err)

			decision, err := stack.Guard.RequireFeature(ctx, tenantID, feature)
			require.NoError(t, err)
			require.Equal(t, has, decision.Allowed(),
				"tier %d feature %s: guard and HasAccess disagree", tier, feature)
		}
	}
}

func TestGuard_RequireTier(t *testing.T) {
	ctx := context.Background()

	t.Run("tier threshold", func(t *testing.T) {
		stack := newTestStack(t)

		require.NoError(t, stack.Tenants.SetTier(ctx, "guild-1", 3, nil, "purchase"))

		decision, err := stack.Guard.RequireTier(ctx, "guild-1", 2)
		require.NoError(t, err)
		require.True(t, decision.Allowed())

		decision, err = stack.Guard.RequireTier(ctx, "guild-1", 4)
		require.NoError(t, err)
		require.True(t, decision.Denied)
		require.Equal(t, 3, decision.CurrentTier)
		require.Equal(t, 4, decision.RequiredTier)
		require.Equal(t, "Overlord", decision.RequiredName)
	})

	t.Run("unknown tenant sits at the free tier", func(t *testing.T) {
		stack := newTestStack(t)

		decision, err := stack.Guard.RequireTier(ctx, "guild-2", 1)
		require.NoError(t, err)
		require.True(t, decision.Denied)
		require.Equal(t, 0, decision.CurrentTier)
		require.Equal(t, "Free", decision.CurrentName)
	})
}
