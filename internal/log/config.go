package log

// Config controls the process logger.
type Config struct {
	// Name is attached to every entry as the "logger" field.
	Name string `conf:"name" yaml:"name" json:"name"`

	// Level is one of debug, info, warn, error.
	Level string `conf:"level" yaml:"level" json:"level"`

	// Format is one of json, console.
	Format string `conf:"format" yaml:"format" json:"format"`

	// File enables file output with rotation. Empty path logs to stderr only.
	File FileConfig `conf:"file" yaml:"file" json:"file"`
}

// FileConfig configures rotated file output via lumberjack.
type FileConfig struct {
	Path       string `conf:"path"        yaml:"path"        json:"path"`
	MaxSizeMB  int    `conf:"max_size"    yaml:"max_size"    json:"max_size"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `conf:"max_age"     yaml:"max_age"     json:"max_age"`
	Compress   bool   `conf:"compress"    yaml:"compress"    json:"compress"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "tiergate"
	}

	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "json"
	}

	return c
}
