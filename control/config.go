// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Bridge configuration with defaults, validation and file/env loading.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. LWM2MUX_BRIDGE_WAIT_TIMEOUT.
const EnvPrefix = "LWM2MUX"

// Config is the complete bridge configuration.
type Config struct {
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Capture CaptureConfig `mapstructure:"capture"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BridgeConfig controls notification delivery.
type BridgeConfig struct {
	// MailboxLimit caps pending notifications per instance (0 = unbounded).
	MailboxLimit int `mapstructure:"mailbox_limit"`
	// WaitTimeout bounds HandleCallback (0 = wait forever).
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// OrphanLogRate limits "unknown identity" error logs per second.
	OrphanLogRate float64 `mapstructure:"orphan_log_rate"`
}

// CaptureConfig controls the per-instance outbox.
type CaptureConfig struct {
	// OutboxLimit caps queued outbound packets per instance; the oldest is dropped on overflow.
	OutboxLimit int `mapstructure:"outbox_limit"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			MailboxLimit:  1024,
			WaitTimeout:   5 * time.Second,
			OrphanLogRate: 10,
		},
		Capture: CaptureConfig{
			OutboxLimit: 64,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Bridge.MailboxLimit < 0 {
		return fmt.Errorf("bridge.mailbox_limit must be >= 0, got %d", c.Bridge.MailboxLimit)
	}
	if c.Bridge.WaitTimeout < 0 {
		return fmt.Errorf("bridge.wait_timeout must be >= 0, got %s", c.Bridge.WaitTimeout)
	}
	if c.Bridge.OrphanLogRate <= 0 {
		return fmt.Errorf("bridge.orphan_log_rate must be > 0, got %v", c.Bridge.OrphanLogRate)
	}
	if c.Capture.OutboxLimit < 1 {
		return fmt.Errorf("capture.outbox_limit must be >= 1, got %d", c.Capture.OutboxLimit)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("logging.encoding must be json or console, got %q", c.Logging.Encoding)
	}
	return nil
}

// SetDefaults registers Default() values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("bridge.mailbox_limit", d.Bridge.MailboxLimit)
	v.SetDefault("bridge.wait_timeout", d.Bridge.WaitTimeout)
	v.SetDefault("bridge.orphan_log_rate", d.Bridge.OrphanLogRate)
	v.SetDefault("capture.outbox_limit", d.Capture.OutboxLimit)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
}

// NewViper returns a viper instance with defaults and LWM2MUX_* env overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path, applies env overrides and validates.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
