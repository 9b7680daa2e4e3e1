package biz

import (
	"context"
	"fmt"

	"go.uber.org/fx"
)

type GuardParams struct {
	fx.In

	Entitlements *EntitlementService
}

// Guard is the enforcement wrapper around the resolver. Callers ask it one
// question per protected operation and branch on the structured decision
// instead of re-deriving tier logic locally.
type Guard struct {
	Entitlements *EntitlementService
}

func NewGuard(params GuardParams) *Guard {
	return &Guard{Entitlements: params.Entitlements}
}

// Decision is the outcome of one guard check, surfaced as structured data
// only; rendering it into user-facing text belongs to callers. On denial it
// carries enough context for an upgrade prompt: the feature asked for, the
// tier the tenant resolved to, and the lowest tier that includes the
// feature.
type Decision struct {
	Denied       bool   `json:"denied"`
	Feature      string `json:"feature,omitempty"`
	CurrentTier  int    `json:"current_tier"`
	CurrentName  string `json:"current_tier_name"`
	RequiredTier int    `json:"required_tier,omitempty"`
	RequiredName string `json:"required_tier_name,omitempty"`
}

// Allowed reports whether the check passed.
func (d Decision) Allowed() bool {
	return !d.Denied
}

// RequireFeature checks whether tenantID may use feature. A nil error with
// Decision.Denied == true is a clean denial; a non-nil error means the
// decision could not be made and the caller must fail closed without
// presenting it as a tier problem.
func (g *Guard) RequireFeature(ctx context.Context, tenantID, feature string) (Decision, error) {
	entitlement, err := g.Entitlements.Resolve(ctx, tenantID)
	if err != nil {
		return Decision{Denied: true, Feature: feature}, err
	}

	decision := Decision{
		Feature:     feature,
		CurrentTier: entitlement.Tier,
		CurrentName: entitlement.TierName,
	}

	if entitlement.HasFeature(feature) {
		return decision, nil
	}

	decision.Denied = true

	required := g.Entitlements.RequiredTier(feature)
	if required < 0 {
		return decision, fmt.Errorf("feature %q: %w", feature, ErrUnknownFeature)
	}

	decision.RequiredTier = required
	decision.RequiredName = g.Entitlements.Catalog.TierName(required)

	return decision, nil
}

// RequireTier checks whether tenantID's resolved tier is at least tier.
func (g *Guard) RequireTier(ctx context.Context, tenantID string, tier int) (Decision, error) {
	entitlement, err := g.Entitlements.Resolve(ctx, tenantID)
	if err != nil {
		return Decision{Denied: true}, err
	}

	decision := Decision{
		CurrentTier: entitlement.Tier,
		CurrentName: entitlement.TierName,
	}

	if entitlement.Tier >= tier {
		return decision, nil
	}

	decision.Denied = true
	decision.RequiredTier = tier
	decision.RequiredName = g.Entitlements.Catalog.TierName(tier)

	return decision, nil
}
