// Package config loads server configuration for the collaboration core.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	// Addr is the listen address for the embedded localhost server.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// DataDir is the directory holding the SQLite database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// SweepIntervalSec is how often (in seconds) expired leases are swept.
	// Sweeping only reclaims rows; correctness never depends on it.
	SweepIntervalSec int `mapstructure:"sweep_interval_sec" yaml:"sweep_interval_sec"`

	// FeedBuffer is the per-subscriber change feed channel capacity.
	FeedBuffer int `mapstructure:"feed_buffer" yaml:"feed_buffer"`

	// InboxCapacity bounds the session-local notification inbox.
	InboxCapacity int `mapstructure:"inbox_capacity" yaml:"inbox_capacity"`

	// Actor identifies the local session for lease ownership and
	// notification attribution.
	Actor ActorConfig `mapstructure:"actor" yaml:"actor"`
}

// ActorConfig identifies the local actor.
type ActorConfig struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Email       string `mapstructure:"email" yaml:"email"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
}

// defaultConfig returns a sensible default configuration.
func defaultConfig() *Config {
	return &Config{
		Addr:             "localhost:8091",
		DataDir:          "./data",
		LogLevel:         "info",
		SweepIntervalSec: 300,
		FeedBuffer:       64,
		InboxCapacity:    50,
	}
}

// Load reads configuration from an optional YAML file plus SCHEMAFLOW_*
// environment variables. A missing file yields defaults, not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEMAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", "localhost:8091")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("sweep_interval_sec", 300)
	v.SetDefault("feed_buffer", 64)
	v.SetDefault("inbox_capacity", 50)
	v.SetDefault("actor.id", "")
	v.SetDefault("actor.email", "")
	v.SetDefault("actor.display_name", "")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); ok {
				return unmarshal(v)
			}
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				return unmarshal(v)
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects values that would break the coordination layer.
func (c *Config) validate() error {
	if c.SweepIntervalSec <= 0 {
		return fmt.Errorf("sweep_interval_sec must be positive, got %d", c.SweepIntervalSec)
	}
	if c.FeedBuffer <= 0 {
		return fmt.Errorf("feed_buffer must be positive, got %d", c.FeedBuffer)
	}
	if c.InboxCapacity <= 0 {
		return fmt.Errorf("inbox_capacity must be positive, got %d", c.InboxCapacity)
	}
	return nil
}
