// Package config provides configuration loading for the dealer gamma
// engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config is the complete application configuration, matching the engine's
// configuration surface table.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Feed        FeedConfig        `yaml:"feed"`
	Engine      EngineConfig      `yaml:"engine"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
}

// EnvironmentConfig controls the logging verbosity and output mode of the
// status API's request logger.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// FeedConfig configures the upstream WebSocket connection.
type FeedConfig struct {
	URL              string        `yaml:"url"`
	AuthToken        string        `yaml:"auth_token"`
	Symbols          []string      `yaml:"symbols"`
	SubscribeBatch   int           `yaml:"subscribe_batch"`
	ChannelCapacity  int           `yaml:"channel_capacity"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectCap     time.Duration `yaml:"reconnect_cap"`
}

// EngineConfig configures the pricing/book runtime.
type EngineConfig struct {
	SnapshotInterval    time.Duration `yaml:"snapshot_interval"`
	QuoteStale          time.Duration `yaml:"quote_stale"`
	SurfaceTTL          time.Duration `yaml:"surface_ttl"`
	SurfaceFallbackTTL  time.Duration `yaml:"surface_fallback_ttl"`
	ContractMultiplier  float64       `yaml:"contract_multiplier"`
	RiskFreeRate        float64       `yaml:"risk_free_rate"`
	DividendYield       float64       `yaml:"dividend_yield"`
	MoneynessBucketWidth float64      `yaml:"moneyness_bucket_width"`
	BaseIV              float64       `yaml:"base_iv"`
	Slope               float64       `yaml:"slope"`
	SnapshotInputPath   string        `yaml:"snapshot_input_path"`
}

// StorageConfig configures the gamma-snapshot sink.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the read-only status/metrics HTTP surface.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

const (
	defaultSnapshotIntervalS   = 1
	defaultQuoteStaleS         = 5
	defaultSurfaceTTLS         = 30
	defaultSurfaceFallbackTTLS = 10
	defaultChannelCapacity     = 4096
	defaultReconnectInitialS   = 1
	defaultReconnectCapS       = 60
	defaultSubscribeBatch      = 50
	defaultContractMultiplier  = 100
	defaultMoneynessBucketWidth = 25
	defaultBaseIV              = 0.2
	defaultSlope               = 0.5
)

// Load reads configPath, expands environment variables, decodes strictly
// (unknown fields are a load error), fills defaults, and validates.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a deploy-time argument, not untrusted input
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Normalize fills unset fields with the engine's documented defaults.
func (c *Config) Normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}

	if c.Feed.SubscribeBatch <= 0 {
		c.Feed.SubscribeBatch = defaultSubscribeBatch
	}
	if c.Feed.ChannelCapacity <= 0 {
		c.Feed.ChannelCapacity = defaultChannelCapacity
	}
	if c.Feed.ReconnectInitial <= 0 {
		c.Feed.ReconnectInitial = defaultReconnectInitialS * time.Second
	}
	if c.Feed.ReconnectCap <= 0 {
		c.Feed.ReconnectCap = defaultReconnectCapS * time.Second
	}

	if c.Engine.SnapshotInterval <= 0 {
		c.Engine.SnapshotInterval = defaultSnapshotIntervalS * time.Second
	}
	if c.Engine.QuoteStale <= 0 {
		c.Engine.QuoteStale = defaultQuoteStaleS * time.Second
	}
	if c.Engine.SurfaceTTL <= 0 {
		c.Engine.SurfaceTTL = defaultSurfaceTTLS * time.Second
	}
	if c.Engine.SurfaceFallbackTTL <= 0 {
		c.Engine.SurfaceFallbackTTL = defaultSurfaceFallbackTTLS * time.Second
	}
	if c.Engine.ContractMultiplier <= 0 {
		c.Engine.ContractMultiplier = defaultContractMultiplier
	}
	if c.Engine.MoneynessBucketWidth <= 0 {
		c.Engine.MoneynessBucketWidth = defaultMoneynessBucketWidth
	}
	if c.Engine.BaseIV <= 0 {
		c.Engine.BaseIV = defaultBaseIV
	}
	if c.Engine.Slope <= 0 {
		c.Engine.Slope = defaultSlope
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}
}

// Validate checks that every field is individually sane and cross-field
// invariants hold (fallback TTL must be shorter than the primary TTL,
// reconnect floor must not exceed its ceiling).
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}
	switch c.Environment.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	if strings.TrimSpace(c.Feed.URL) == "" {
		return fmt.Errorf("feed.url must be set")
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must contain at least one symbol")
	}
	if c.Feed.SubscribeBatch <= 0 {
		return fmt.Errorf("feed.subscribe_batch must be positive")
	}
	if c.Feed.ChannelCapacity <= 0 {
		return fmt.Errorf("feed.channel_capacity must be positive")
	}
	if c.Feed.ReconnectInitial <= 0 {
		return fmt.Errorf("feed.reconnect_initial must be positive")
	}
	if c.Feed.ReconnectCap < c.Feed.ReconnectInitial {
		return fmt.Errorf("feed.reconnect_cap must be >= feed.reconnect_initial")
	}

	if c.Engine.SnapshotInterval <= 0 {
		return fmt.Errorf("engine.snapshot_interval must be positive")
	}
	if c.Engine.QuoteStale <= 0 {
		return fmt.Errorf("engine.quote_stale must be positive")
	}
	if c.Engine.SurfaceTTL <= 0 {
		return fmt.Errorf("engine.surface_ttl must be positive")
	}
	if c.Engine.SurfaceFallbackTTL <= 0 || c.Engine.SurfaceFallbackTTL >= c.Engine.SurfaceTTL {
		return fmt.Errorf("engine.surface_fallback_ttl must be positive and < engine.surface_ttl")
	}
	if c.Engine.ContractMultiplier <= 0 {
		return fmt.Errorf("engine.contract_multiplier must be positive")
	}
	if c.Engine.MoneynessBucketWidth <= 0 {
		return fmt.Errorf("engine.moneyness_bucket_width must be positive")
	}
	if c.Engine.BaseIV <= 0 {
		return fmt.Errorf("engine.base_iv must be positive")
	}
	if c.Engine.Slope <= 0 {
		return fmt.Errorf("engine.slope must be positive")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path must be set")
	}

	if c.API.Enabled && strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr must be set when api.enabled is true")
	}

	return nil
}
