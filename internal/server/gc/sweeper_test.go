package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/pkg/xcache"
	"github.com/calderhq/tiergate/internal/server/biz"
	"github.com/calderhq/tiergate/internal/store"
)

func newSweeperFixture(t *testing.T, interval time.Duration) (*Sweeper, *biz.TenantService, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(store.Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := biz.Config{
		SweepInterval: interval,
		Cache:         xcache.Config{Mode: xcache.ModeMemory},
	}

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

	return NewSweeper(SweeperParams{Tenants: tenants, Config: cfg}), tenants, st
}

func TestSweeper_DowngradesExpiredTenants(t *testing.T) {
	ctx := context.Background()
	sweeper, tenants, st := newSweeperFixture(t, 10*time.Millisecond)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, tenants.SetTier(ctx, "guild-1", 2, &past, "purchase"))

	require.NoError(t, sweeper.Start(ctx))
	t.Cleanup(func() { _ = sweeper.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		record := st.FindOne(ctx, "guild-1")

		return record.Err() == nil && record.Payload.GetInt("tier", -1) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_StopWaitsForLoop(t *testing.T) {
	ctx := context.Background()
	sweeper, _, _ := newSweeperFixture(t, 10*time.Millisecond)

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Stop(ctx))

	// A second stop is a no-op.
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeper_DisabledWithoutInterval(t *testing.T) {
	ctx := context.Background()
	sweeper, _, _ := newSweeperFixture(t, 0)

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}
