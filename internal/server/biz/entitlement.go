package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/pkg/xcache"
	"github.com/calderhq/tiergate/internal/pkg/xtime"
	"github.com/calderhq/tiergate/internal/store"
)

// Source tells where a resolved tier came from.
type Source string

const (
	// SourceStored means the stored tier was applied as-is.
	SourceStored Source = "stored"
	// SourceDefault means no usable record existed and the free tier was
	// synthesized.
	SourceDefault Source = "default"
	// SourceExpired means a stored tier was forced to 0 because its expiry
	// passed. The stored value stays untouched until a downgrade mutation.
	SourceExpired Source = "expired"
)

// Entitlement is the effective {tier, features} for a tenant after applying
// expiration and overrides. It is derived on every resolution and cached
// only as an opaque, time-bounded snapshot; it is never persisted.
type Entitlement struct {
	TenantID   string     `json:"tenant_id"`
	Tier       int        `json:"tier"`
	TierName   string     `json:"tier_name"`
	Source     Source     `json:"source"`
	Features   []string   `json:"features"`
	Overrides  []string   `json:"overrides,omitempty"`
	MaxServers int        `json:"max_servers"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// HasFeature reports whether the entitlement includes feature.
func (e *Entitlement) HasFeature(feature string) bool {
	return lo.Contains(e.Features, feature)
}

type EntitlementServiceParams struct {
	fx.In

	Store   store.TenantStore
	Catalog *catalog.Catalog
	Config  Config
}

// EntitlementService is the single authority for "does tenant X have
// feature Y". Every other access path delegates here; no component
// re-derives the answer independently.
type EntitlementService struct {
	*AbstractService

	Catalog *catalog.Catalog

	cache xcache.Cache[*Entitlement]
	ttl   time.Duration
	group singleflight.Group

	// generations tracks invalidations per tenant so a resolution that
	// raced a mutation never caches its pre-mutation snapshot.
	mu          sync.Mutex
	generations map[string]uint64

	now func() time.Time
}

func NewEntitlementService(params EntitlementServiceParams) (*EntitlementService, error) {
	cfg := params.Config.Cache
	if cfg.Mode == "" {
		cfg.Mode = xcache.ModeMemory
	}

	cache, err := xcache.NewFromConfig[*Entitlement](cfg)
	if err != nil {
		return nil, fmt.Errorf("build entitlement cache: %w", err)
	}

	return &EntitlementService{
		AbstractService: &AbstractService{store: params.Store},
		Catalog:         params.Catalog,
		cache:           cache,
		ttl:             params.Config.cacheTTL(),
		generations:     make(map[string]uint64),
		now:             xtime.UTCNow,
	}, nil
}

func entitlementCacheKey(tenantID string) string {
	return "tiergate:entitlement:" + tenantID
}

// Resolve computes the effective entitlement for tenantID, serving a
// memoized snapshot when one younger than the TTL exists. Concurrent misses
// for the same tenant collapse into a single store round-trip.
func (s *EntitlementService) Resolve(ctx context.Context, tenantID string) (*Entitlement, error) {
	key := entitlementCacheKey(tenantID)

	if cached, err := s.cache.Get(ctx, key); err == nil && cached != nil {
		return cached, nil
	}

	resolved, err, _ := s.group.Do(key, func() (any, error) {
		generation := s.generation(tenantID)

		entitlement, err := s.resolveUncached(ctx, tenantID)
		if err != nil {
			return nil, err
		}

		// Skip the cache write when a mutation committed between our read
		// and now; the snapshot may predate it.
		if s.generation(tenantID) == generation {
			if err := s.cache.Set(ctx, key, entitlement, xcache.WithExpiration(s.ttl)); err != nil {
				log.Warn(ctx, "failed to cache entitlement",
					log.String("tenant_id", tenantID),
					log.Cause(err),
				)
			}
		}

		return entitlement, nil
	})
	if err != nil {
		return nil, err
	}

	//nolint:forcetypeassert // The group only ever stores *Entitlement.
	return resolved.(*Entitlement), nil
}

// resolveUncached performs the full resolution against the store.
func (s *EntitlementService) resolveUncached(ctx context.Context, tenantID string) (*Entitlement, error) {
	result := s.store.FindOne(ctx, tenantID)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w: %w", tenantID, ErrStoreUnavailable, err)
	}

	record := result.Payload
	now := s.now()

	// Absence is not an error: unknown tenants resolve to the free tier.
	if !record.Exists() {
		return s.entitlementFor(tenantID, catalog.MinTier, SourceDefault, nil, nil, now), nil
	}

	tier := catalog.MinTier
	source := SourceStored

	if record.Has("tier") {
		parsed, err := record.GetIntE("tier")

		switch {
		case err != nil || !catalog.ValidTier(parsed):
			// Fail closed to the free tier; the stored value is a data
			// integrity problem, not a resolution failure.
			source = SourceDefault

			log.Warn(ctx, "stored tier is not a valid integer, resolving to free tier",
				log.String("tenant_id", tenantID),
				log.Any("stored_tier", record.Get("tier")),
			)
		default:
			tier = parsed
		}
	}

	var expiresAt *time.Time

	if expiry, ok := record.GetTime("tier_expires_at"); ok {
		expiresAt = &expiry

		if expiry.Before(now) && tier > catalog.MinTier {
			// The stored tier stays untouched for audit; only the
			// resolved view downgrades.
			tier = catalog.MinTier
			source = SourceExpired
		}
	}

	overrides := record.GetStringSlice("override_features")

	return s.entitlementFor(tenantID, tier, source, overrides, expiresAt, now), nil
}

func (s *EntitlementService) entitlementFor(tenantID string, tier int, source Source, overrides []string, expiresAt *time.Time, now time.Time) *Entitlement {
	features := lo.Uniq(append(s.Catalog.EffectiveFeatures(tier), overrides...))
	sort.Strings(features)

	return &Entitlement{
		TenantID:   tenantID,
		Tier:       tier,
		TierName:   s.Catalog.TierName(tier),
		Source:     source,
		Features:   features,
		Overrides:  overrides,
		MaxServers: s.Catalog.MaxServers(tier),
		ExpiresAt:  expiresAt,
		ResolvedAt: now,
	}
}

// HasAccess reports whether tenantID currently has feature. This is the only
// place the boolean is derived.
func (s *EntitlementService) HasAccess(ctx context.Context, tenantID, feature string) (bool, error) {
	entitlement, err := s.Resolve(ctx, tenantID)
	if err != nil {
		return false, err
	}

	return entitlement.HasFeature(feature), nil
}

// RequiredTier returns the minimum tier for feature, or -1 when the feature
// is not cataloged.
func (s *EntitlementService) RequiredTier(feature string) int {
	tier, ok := s.Catalog.FeatureTier(feature)
	if !ok {
		return -1
	}

	return tier
}

// FeatureList returns every cataloged feature mapped to the tenant's access,
// plus any override-granted features outside the catalog.
func (s *EntitlementService) FeatureList(ctx context.Context, tenantID string) (map[string]bool, error) {
	entitlement, err := s.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	features := make(map[string]bool, len(s.Catalog.AllFeatures()))

	for _, feature := range s.Catalog.AllFeatures() {
		features[feature] = entitlement.HasFeature(feature)
	}

	for _, feature := range entitlement.Overrides {
		features[feature] = true
	}

	return features, nil
}

// Invalidate drops the cached entitlement for tenantID. Mutations call this
// synchronously after commit, so a reader that observes a mutation's
// completion never reads the pre-mutation snapshot.
func (s *EntitlementService) Invalidate(ctx context.Context, tenantID string) {
	s.bumpGeneration(tenantID)

	if err := s.cache.Delete(ctx, entitlementCacheKey(tenantID)); err != nil {
		log.Warn(ctx, "failed to invalidate entitlement cache",
			log.String("tenant_id", tenantID),
			log.Cause(err),
		)
	}
}

func (s *EntitlementService) generation(tenantID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generations[tenantID]
}

func (s *EntitlementService) bumpGeneration(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generations[tenantID]++
}
