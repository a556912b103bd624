// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package config provides YAML-based configuration loading for hioload-mq nodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-mq/api"
)

// Config is the root node configuration.
type Config struct {
	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Bridge holds dispatch and buffer settings
	Bridge BridgeConfig `mapstructure:"bridge"`

	// Gateway selects and tunes the transport gateway
	Gateway GatewayConfig `mapstructure:"gateway"`

	// Endpoints registered at startup, in order
	Endpoints []EndpointConfig `mapstructure:"endpoints"`

	// MetricsAddr serves /metrics and /debug/state when non-empty
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// BridgeConfig mirrors facade.Config.
type BridgeConfig struct {
	BinaryBufferSize int           `mapstructure:"binary_buffer_size"`
	TextBufferSize   int           `mapstructure:"text_buffer_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	AutoPolling      bool          `mapstructure:"auto_polling"`
}

// GatewayConfig selects the gateway implementation.
type GatewayConfig struct {
	// Kind: zmq, mem or gossip
	Kind           string        `mapstructure:"kind"`
	MaxPending     int           `mapstructure:"max_pending"`
	DialRetry      time.Duration `mapstructure:"dial_retry"`
	DialMaxRetries int           `mapstructure:"dial_max_retries"`
	Gossip         GossipConfig  `mapstructure:"gossip"`
}

// GossipConfig configures the libp2p host of the gossip gateway.
type GossipConfig struct {
	Listen []string `mapstructure:"listen"`
	Peers  []string `mapstructure:"peers"`
}

// EndpointConfig declares one named endpoint.
type EndpointConfig struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
	Address string `mapstructure:"address"`
	Topic   string `mapstructure:"topic"`
	Mode    string `mapstructure:"mode"`
	// Echo makes a replier answer every request with the request payload.
	Echo bool `mapstructure:"echo"`
}

// Spec converts the declaration into an endpoint spec.
func (e EndpointConfig) Spec() (api.EndpointSpec, error) {
	p, err := api.ParsePattern(e.Pattern)
	if err != nil {
		return api.EndpointSpec{}, err
	}
	m, err := api.ParseMode(e.Mode)
	if err != nil {
		return api.EndpointSpec{}, err
	}
	return api.EndpointSpec{Pattern: p, Address: e.Address, Topic: e.Topic, Mode: m}, nil
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/hioload-mq.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Bridge: BridgeConfig{
			BinaryBufferSize: 1 << 20,
			TextBufferSize:   8 << 10,
			PollInterval:     10 * time.Millisecond,
			AutoPolling:      true,
		},
		Gateway: GatewayConfig{
			Kind:           "zmq",
			MaxPending:     1000,
			DialRetry:      250 * time.Millisecond,
			DialMaxRetries: 10,
		},
		MetricsAddr: "",
	}
}

func newViper(path string) *viper.Viper {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HIOLOAD_MQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("bridge.binary_buffer_size", cfg.Bridge.BinaryBufferSize)
	v.SetDefault("bridge.text_buffer_size", cfg.Bridge.TextBufferSize)
	v.SetDefault("bridge.poll_interval", cfg.Bridge.PollInterval)
	v.SetDefault("bridge.auto_polling", cfg.Bridge.AutoPolling)
	v.SetDefault("gateway.kind", cfg.Gateway.Kind)
	v.SetDefault("gateway.max_pending", cfg.Gateway.MaxPending)
	v.SetDefault("gateway.dial_retry", cfg.Gateway.DialRetry)
	v.SetDefault("gateway.dial_max_retries", cfg.Gateway.DialMaxRetries)
	v.SetDefault("gateway.gossip.listen", []string{})
	v.SetDefault("gateway.gossip.peers", []string{})
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	if path == "" {
		if envPath := os.Getenv("HIOLOAD_MQ_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hioload-mq")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hioload-mq"))
		}
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads configuration from path (if non-empty), otherwise from
// HIOLOAD_MQ_CONFIG or hioload-mq.yaml in common locations. Environment
// variables use the prefix HIOLOAD_MQ with `.` and `-` replaced by `_`.
// Example: HIOLOAD_MQ_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// Watch reloads the configuration file whenever it changes and passes the
// result to fn. Invalid revisions are passed as errors; the caller keeps
// the previous configuration. Watching requires an existing file.
func Watch(path string, fn func(*Config, error)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		fn(decode(v))
	})
	v.WatchConfig()
	return nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Gateway.Kind = strings.ToLower(strings.TrimSpace(c.Gateway.Kind))
	switch c.Gateway.Kind {
	case "zmq", "mem", "gossip":
	default:
		return fmt.Errorf("invalid gateway.kind: %q", c.Gateway.Kind)
	}
	if c.Bridge.PollInterval < 0 {
		return fmt.Errorf("invalid bridge.poll_interval: %s", c.Bridge.PollInterval)
	}

	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, e := range c.Endpoints {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("endpoints[%d]: name is required", i)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("endpoints[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}
		spec, err := e.Spec()
		if err != nil {
			return fmt.Errorf("endpoints[%d] %q: %w", i, e.Name, err)
		}
		if e.Address == "" {
			return fmt.Errorf("endpoints[%d] %q: address is required", i, e.Name)
		}
		if e.Echo && spec.Pattern != api.Replier {
			return fmt.Errorf("endpoints[%d] %q: echo requires the rep pattern", i, e.Name)
		}
	}
	return nil
}

// Runtime returns the settings that may change while a node runs.
func (c *Config) Runtime() map[string]any {
	return map[string]any{
		"log.level": strings.ToLower(c.Log.Level),
	}
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
