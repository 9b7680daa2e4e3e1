// Package conf loads the process configuration from file and environment.
// Files are searched as tiergate.yml in the working directory, ~/.tiergate,
// and /etc/tiergate; every key can be overridden with a TIERGATE_ prefixed
// environment variable, e.g. TIERGATE_SERVER_PORT=9090.
package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/calderhq/tiergate/internal/log"
	"github.com/calderhq/tiergate/internal/server"
	"github.com/calderhq/tiergate/internal/server/biz"
	"github.com/calderhq/tiergate/internal/store"
)

// Config is the process configuration tree.
type Config struct {
	APIServer server.Config `conf:"server" yaml:"server" json:"server"`
	Log       log.Config    `conf:"log" yaml:"log" json:"log"`
	DB        store.Config  `conf:"db" yaml:"db" json:"db"`
	Premium   biz.Config    `conf:"premium" yaml:"premium" json:"premium"`
}

// Load reads the configuration. A missing config file is not an error; the
// defaults plus environment variables make a runnable process.
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigName("tiergate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.tiergate")
	v.AddConfigPath("/etc/tiergate")

	v.SetEnvPrefix("TIERGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config

	err := v.Unmarshal(&config,
		func(dc *mapstructure.DecoderConfig) {
			dc.TagName = "conf"
		},
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)),
	)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.name", "tiergate")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("log.name", "tiergate")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("db.dialect", "sqlite")
	v.SetDefault("db.dsn", "file:tiergate.db")

	v.SetDefault("premium.cache_ttl", "30s")
	v.SetDefault("premium.mutation_retries", 3)
	v.SetDefault("premium.sweep_interval", "1m")
	v.SetDefault("premium.cache.mode", "memory")
}

// Module decomposes the loaded tree into the per-package configs the rest
// of the graph consumes.
var Module = fx.Options(
	fx.Provide(Load),
	fx.Provide(func(c Config) server.Config { return c.APIServer }),
	fx.Provide(func(c Config) log.Config { return c.Log }),
	fx.Provide(func(c Config) store.Config { return c.DB }),
	fx.Provide(func(c Config) biz.Config { return c.Premium }),
)
