package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tidwall/sjson"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/pkg/xtime"
	"github.com/calderhq/tiergate/internal/store"
)

type TenantServiceParams struct {
	fx.In

	Store        store.TenantStore
	Catalog      *catalog.Catalog
	Entitlements *EntitlementService
	Config       Config
}

// TenantService owns every mutation of tenant documents. All writes go
// through an optimistic read-modify-write loop; on success the entitlement
// cache entry for the tenant is dropped before the call returns.
type TenantService struct {
	*AbstractService

	Catalog      *catalog.Catalog
	Entitlements *EntitlementService

	retries int
	now     func() time.Time
}

func NewTenantService(params TenantServiceParams) *TenantService {
	return &TenantService{
		AbstractService: &AbstractService{store: params.Store},
		Catalog:         params.Catalog,
		Entitlements:    params.Entitlements,
		retries:         params.Config.mutationRetries(),
		now:             xtime.UTCNow,
	}
}

// mutateFunc builds the next document from the current record. Returning
// (nil, false, nil) means the mutation is a no-op and nothing is written.
type mutateFunc func(record store.Record) (doc []byte, write bool, err error)

// mutate runs the optimistic read-modify-write loop: read the record, build
// the successor document, and commit it conditioned on the version observed.
// A lost race re-reads and retries up to the configured bound.
func (s *TenantService) mutate(ctx context.Context, tenantID string, fn mutateFunc) error {
	attempts := s.retries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		result := s.store.FindOne(ctx, tenantID)
		if err := result.Err(); err != nil {
			return fmt.Errorf("read tenant %q: %w: %w", tenantID, ErrStoreUnavailable, err)
		}

		record := result.Payload

		doc, write, err := fn(record)
		if err != nil {
			return err
		}

		if !write {
			return nil
		}

		updated := s.store.ConditionalUpdate(ctx, tenantID, record.Version, doc)
		if err := updated.Err(); err != nil {
			return fmt.Errorf("write tenant %q: %w: %w", tenantID, ErrStoreUnavailable, err)
		}

		if updated.Payload.Exists() {
			s.Entitlements.Invalidate(ctx, tenantID)

			return nil
		}

		// Another writer got in between our read and write; retry
		// against the fresh state.
		log.Debug(ctx, "tenant mutation lost a write race, retrying",
			log.String("tenant_id", tenantID),
			log.Int("attempt", attempt+1),
		)
	}

	return fmt.Errorf("tenant %q: %w", tenantID, ErrMutationConflict)
}

// EnsureTenant creates an empty document for tenantID if none exists. It is
// a no-op when the tenant already has a record.
func (s *TenantService) EnsureTenant(ctx context.Context, tenantID string) error {
	return s.mutate(ctx, tenantID, func(record store.Record) ([]byte, bool, error) {
		if record.Exists() {
			return nil, false, nil
		}

		doc, err := sjson.SetBytes([]byte(`{}`), "created_at", s.now().Format(time.RFC3339Nano))
		if err != nil {
			return nil, false, fmt.Errorf("build tenant document: %w", err)
		}

		return doc, true, nil
	})
}

// SetTier stores a new tier for tenantID, creating the document when absent.
// A nil expiresAt clears any stored expiry. Every call appends a
// subscription audit entry recording the transition.
func (s *TenantService) SetTier(ctx context.Context, tenantID string, tier int, expiresAt *time.Time, reason string) error {
	if !catalog.ValidTier(tier) {
		return fmt.Errorf("tier %d: %w", tier, ErrInvalidTier)
	}

	return s.mutate(ctx, tenantID, func(record store.Record) ([]byte, bool, error) {
		doc := record.Raw()
		if !record.Exists() {
			doc = []byte(`{}`)
		}

		previousTier := record.GetInt("tier", catalog.MinTier)

		doc, err := sjson.SetBytes(doc, "tier", tier)
		if err == nil {
			if expiresAt == nil {
				doc, err = sjson.DeleteBytes(doc, "tier_expires_at")
			} else {
				doc, err = sjson.SetBytes(doc, "tier_expires_at", expiresAt.UTC().Format(time.RFC3339Nano))
			}
		}

		if err == nil {
			doc, err = sjson.SetBytes(doc, "updated_at", s.now().Format(time.RFC3339Nano))
		}

		if err == nil {
			doc, err = s.appendSubscription(doc, previousTier, tier, expiresAt, reason)
		}

		if err != nil {
			return nil, false, fmt.Errorf("build tier document: %w", err)
		}

		return doc, true, nil
	})
}

// appendSubscription records one tier transition in the document's audit
// trail.
func (s *TenantService) appendSubscription(doc []byte, fromTier, toTier int, expiresAt *time.Time, reason string) ([]byte, error) {
	entry := map[string]any{
		"id":        uuid.NewString(),
		"from_tier": fromTier,
		"to_tier":   toTier,
		"reason":    reason,
		"at":        s.now().Format(time.RFC3339Nano),
	}
	if expiresAt != nil {
		entry["expires_at"] = expiresAt.UTC().Format(time.RFC3339Nano)
	}

	return sjson.SetBytes(doc, "subscriptions.-1", entry)
}

// GrantOverride adds feature to the tenant's override set regardless of
// tier. Only cataloged features may be granted; granting an already-present
// override is a no-op.
func (s *TenantService) GrantOverride(ctx context.Context, tenantID, feature string) error {
	if _, ok := s.Catalog.FeatureTier(feature); !ok {
		return fmt.Errorf("feature %q: %w", feature, ErrUnknownFeature)
	}

	return s.mutate(ctx, tenantID, func(record store.Record) ([]byte, bool, error) {
		doc := record.Raw()
		if !record.Exists() {
			doc = []byte(`{}`)
		}

		overrides := record.GetStringSlice("override_features")
		if lo.Contains(overrides, feature) {
			return nil, false, nil
		}

		doc, err := sjson.SetBytes(doc, "override_features", append(overrides, feature))
		if err == nil {
			doc, err = sjson.SetBytes(doc, "updated_at", s.now().Format(time.RFC3339Nano))
		}

		if err != nil {
			return nil, false, fmt.Errorf("build override document: %w", err)
		}

		return doc, true, nil
	})
}

// RevokeOverride removes feature from the tenant's override set. Revoking a
// feature that is not overridden, or from an absent tenant, is a no-op.
func (s *TenantService) RevokeOverride(ctx context.Context, tenantID, feature string) error {
	return s.mutate(ctx, tenantID, func(record store.Record) ([]byte, bool, error) {
		if !record.Exists() {
			return nil, false, nil
		}

		overrides := record.GetStringSlice("override_features")
		if !lo.Contains(overrides, feature) {
			return nil, false, nil
		}

		remaining := lo.Without(overrides, feature)

		doc, err := sjson.SetBytes(record.Raw(), "override_features", remaining)
		if err == nil {
			doc, err = sjson.SetBytes(doc, "updated_at", s.now().Format(time.RFC3339Nano))
		}

		if err != nil {
			return nil, false, fmt.Errorf("build override document: %w", err)
		}

		return doc, true, nil
	})
}

// DowngradeExpired finds every tenant whose stored paid tier has an expiry
// in the past and persists the downgrade to the free tier. It returns the
// number of tenants downgraded and keeps going past per-tenant conflicts.
func (s *TenantService) DowngradeExpired(ctx context.Context) (int, error) {
	now := s.now()

	result := s.store.FindMany(ctx, store.Query{
		ExpiresBefore: &now,
		MinTier:       catalog.MinTier + 1,
	})
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("list expired tenants: %w: %w", ErrStoreUnavailable, err)
	}

	downgraded := 0

	for _, record := range result.Payload {
		written, err := s.downgradeIfExpired(ctx, record.TenantID, now)

		switch {
		case errors.Is(err, ErrMutationConflict):
			// Another writer touched the tenant mid-sweep; the next sweep
			// picks it up if it is still expired.
			log.Warn(ctx, "skipping expired tenant after write conflict",
				log.String("tenant_id", record.TenantID),
			)
		case err != nil:
			return downgraded, err
		case written:
			downgraded++

			log.Info(ctx, "downgraded expired tenant",
				log.String("tenant_id", record.TenantID),
				log.Int("previous_tier", record.GetInt("tier", catalog.MinTier)),
			)
		}
	}

	return downgraded, nil
}

// downgradeIfExpired persists a downgrade to the free tier only if the
// record still holds an expired paid tier at write time. A tenant renewed
// between the sweep's listing and this write is left alone.
func (s *TenantService) downgradeIfExpired(ctx context.Context, tenantID string, now time.Time) (bool, error) {
	written := false

	err := s.mutate(ctx, tenantID, func(record store.Record) ([]byte, bool, error) {
		written = false

		tier := record.GetInt("tier", catalog.MinTier)

		expiry, ok := record.GetTime("tier_expires_at")
		if !record.Exists() || tier <= catalog.MinTier || !ok || !expiry.Before(now) {
			return nil, false, nil
		}

		written = true

		doc, err := sjson.SetBytes(record.Raw(), "tier", catalog.MinTier)
		if err == nil {
			doc, err = sjson.DeleteBytes(doc, "tier_expires_at")
		}

		if err == nil {
			doc, err = sjson.SetBytes(doc, "updated_at", s.now().Format(time.RFC3339Nano))
		}

		if err == nil {
			doc, err = s.appendSubscription(doc, tier, catalog.MinTier, nil, "expired")
		}

		if err != nil {
			return nil, false, fmt.Errorf("build downgrade document: %w", err)
		}

		return doc, true, nil
	})

	return written && err == nil, err
}
