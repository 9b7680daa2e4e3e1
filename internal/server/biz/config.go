package biz

import (
	"time"

	"github.com/calderhq/tiergate/internal/catalog"
	"github.com/calderhq/tiergate/internal/pkg/xcache"
)

// Config holds the premium-core settings.
type Config struct {
	// CacheTTL bounds staleness of memoized entitlements. Entries older
	// than this are never served.
	CacheTTL time.Duration `conf:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`

	// MutationRetries caps how often a losing writer retries against
	// fresh state before giving up.
	MutationRetries int `conf:"mutation_retries" yaml:"mutation_retries" json:"mutation_retries"`

	// SweepInterval is how often the expiry sweeper downgrades lapsed
	// tenants. 0 disables the sweeper.
	SweepInterval time.Duration `conf:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval"`

	Cache   xcache.Config  `conf:"cache" yaml:"cache" json:"cache"`
	Catalog catalog.Config `conf:"catalog" yaml:"catalog" json:"catalog"`
}

const (
	defaultCacheTTL        = 30 * time.Second
	defaultMutationRetries = 3
)

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return defaultCacheTTL
	}

	return c.CacheTTL
}

func (c Config) mutationRetries() int {
	if c.MutationRetries <= 0 {
		return defaultMutationRetries
	}

	return c.MutationRetries
}
