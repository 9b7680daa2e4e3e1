// Package catalog defines the static tier → feature mapping. The catalog is
// built once at startup and read-only for the process lifetime; feature sets
// are cumulative, so every feature available at tier N is available at every
// tier above N.
package catalog

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Tier bounds. Tier 0 is the free tier, tier 4 the highest paid tier.
const (
	MinTier = 0
	MaxTier = 4
)

// Known feature names.
const (
	FeatureKillfeed          = "killfeed"
	FeatureBasicStats        = "basic_stats"
	FeatureLeaderboards      = "leaderboards"
	FeatureRivalries         = "rivalries"
	FeatureBounties          = "bounties"
	FeaturePlayerLinks       = "player_links"
	FeatureEconomy           = "economy"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeatureFactions          = "factions"
	FeatureEvents            = "events"
	FeatureCustomEmbeds      = "custom_embeds"
	FeatureFullAutomation    = "full_automation"
)

// Tier describes one premium level.
type Tier struct {
	Ordinal    int      `conf:"ordinal" yaml:"ordinal" json:"ordinal"`
	Name       string   `conf:"name" yaml:"name" json:"name"`
	MaxServers int      `conf:"max_servers" yaml:"max_servers" json:"max_servers"`
	PriceGBP   int      `conf:"price_gbp" yaml:"price_gbp" json:"price_gbp"`
	Features   []string `conf:"features" yaml:"features" json:"features"`
}

// Config overrides the built-in tier table. An empty Tiers list keeps the
// defaults.
type Config struct {
	Tiers []Tier `conf:"tiers" yaml:"tiers" json:"tiers"`
}

// Catalog is the immutable tier table.
type Catalog struct {
	tiers        [MaxTier + 1]Tier
	featureTier  map[string]int
	allFeatures  []string
	descriptions map[string]string
}

var defaultTiers = []Tier{
	{
		Ordinal:    0,
		Name:       "Free",
		MaxServers: 1,
		PriceGBP:   0,
		Features:   []string{FeatureKillfeed},
	},
	{
		Ordinal:    1,
		Name:       "Survivor",
		MaxServers: 2,
		PriceGBP:   5,
		Features:   []string{FeatureBasicStats, FeatureLeaderboards},
	},
	{
		Ordinal:    2,
		Name:       "Mercenary",
		MaxServers: 5,
		PriceGBP:   10,
		Features: []string{
			FeatureRivalries, FeatureBounties, FeaturePlayerLinks,
			FeatureEconomy, FeatureAdvancedAnalytics,
		},
	},
	{
		Ordinal:    3,
		Name:       "Warlord",
		MaxServers: 10,
		PriceGBP:   20,
		Features:   []string{FeatureFactions, FeatureEvents},
	},
	{
		Ordinal:    4,
		Name:       "Overlord",
		MaxServers: 25,
		PriceGBP:   50,
		Features:   []string{FeatureCustomEmbeds, FeatureFullAutomation},
	},
}

var featureDescriptions = map[string]string{
	FeatureKillfeed:          "Real-time player kill notifications",
	FeatureBasicStats:        "Player kill/death statistics",
	FeatureLeaderboards:      "Server-wide player rankings",
	FeatureRivalries:         "Track player vs player combat history",
	FeatureBounties:          "Place and collect bounties on other players",
	FeaturePlayerLinks:       "Link chat accounts to in-game players",
	FeatureEconomy:           "In-server currency and reward system",
	FeatureAdvancedAnalytics: "Detailed combat and playstyle analysis",
	FeatureFactions:          "Group-based gameplay and tracking",
	FeatureEvents:            "Scheduled and triggered server events",
	FeatureCustomEmbeds:      "Customized message appearance",
	FeatureFullAutomation:    "Scheduled tasks and automated reports",
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultTiers)
	if err != nil {
		// The built-in table is validated by tests.
		panic(err)
	}

	return c
}

// FromConfig builds the catalog from cfg, falling back to the defaults when
// no tiers are configured.
func FromConfig(cfg Config) (*Catalog, error) {
	if len(cfg.Tiers) == 0 {
		return Default(), nil
	}

	return New(cfg.Tiers)
}

// New builds a catalog from the given tier table. Every ordinal in
// [MinTier, MaxTier] must appear exactly once. A feature listed at several
// tiers takes its lowest ordinal as the minimum tier; cumulative semantics
// then follow by construction.
func New(tiers []Tier) (*Catalog, error) {
	c := &Catalog{
		featureTier:  make(map[string]int),
		descriptions: featureDescriptions,
	}

	seen := make(map[int]bool)

	for _, tier := range tiers {
		if tier.Ordinal < MinTier || tier.Ordinal > MaxTier {
			return nil, fmt.Errorf("catalog: tier ordinal %d out of range [%d, %d]", tier.Ordinal, MinTier, MaxTier)
		}

		if seen[tier.Ordinal] {
			return nil, fmt.Errorf("catalog: duplicate tier ordinal %d", tier.Ordinal)
		}

		seen[tier.Ordinal] = true
		c.tiers[tier.Ordinal] = tier

		for _, feature := range tier.Features {
			current, ok := c.featureTier[feature]
			if !ok || tier.Ordinal < current {
				c.featureTier[feature] = tier.Ordinal
			}
		}
	}

	for ordinal := MinTier; ordinal <= MaxTier; ordinal++ {
		if !seen[ordinal] {
			return nil, fmt.Errorf("catalog: missing tier ordinal %d", ordinal)
		}
	}

	c.allFeatures = lo.Keys(c.featureTier)
	sort.Strings(c.allFeatures)

	return c, nil
}

// EffectiveFeatures returns every feature whose minimum tier is at most
// tier, sorted. Monotonic: EffectiveFeatures(t1) is a subset of
// EffectiveFeatures(t2) for all t1 <= t2.
func (c *Catalog) EffectiveFeatures(tier int) []string {
	features := lo.Filter(c.allFeatures, func(feature string, _ int) bool {
		return c.featureTier[feature] <= tier
	})

	return features
}

// FeatureTier returns the minimum tier required for feature, and whether the
// feature is cataloged at all.
func (c *Catalog) FeatureTier(feature string) (int, bool) {
	tier, ok := c.featureTier[feature]
	return tier, ok
}

// Contains reports whether feature is cataloged.
func (c *Catalog) Contains(feature string) bool {
	_, ok := c.featureTier[feature]
	return ok
}

// AllFeatures returns every cataloged feature, sorted.
func (c *Catalog) AllFeatures() []string {
	return c.allFeatures
}

// ValidTier reports whether tier is within the catalog bounds.
func ValidTier(tier int) bool {
	return tier >= MinTier && tier <= MaxTier
}

// TierName returns the display name of tier, or "Unknown" when out of range.
func (c *Catalog) TierName(tier int) string {
	if !ValidTier(tier) {
		return "Unknown"
	}

	return c.tiers[tier].Name
}

// MaxServers returns the server allowance of tier, defaulting to the free
// allowance when out of range.
func (c *Catalog) MaxServers(tier int) int {
	if !ValidTier(tier) {
		return c.tiers[MinTier].MaxServers
	}

	return c.tiers[tier].MaxServers
}

// PriceGBP returns the monthly price of tier in GBP, or 0 when out of range.
func (c *Catalog) PriceGBP(tier int) int {
	if !ValidTier(tier) {
		return 0
	}

	return c.tiers[tier].PriceGBP
}

// Describe returns the human description of feature, or "" when unknown.
func (c *Catalog) Describe(feature string) string {
	return c.descriptions[feature]
}

// Tiers returns a copy of the tier table in ordinal order.
func (c *Catalog) Tiers() []Tier {
	tiers := make([]Tier, 0, len(c.tiers))
	for ordinal := MinTier; ordinal <= MaxTier; ordinal++ {
		tiers = append(tiers, c.tiers[ordinal])
	}

	return tiers
}
