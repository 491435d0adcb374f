package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"stakeledger/native/accrual"
	"stakeledger/native/essence"
)

// Config captures runtime configuration for accruald.
type Config struct {
	ListenAddress  string          `toml:"ListenAddress" yaml:"listen"`
	MetricsAddress string          `toml:"MetricsAddress" yaml:"metrics_listen"`
	DataDir        string          `toml:"DataDir" yaml:"data_dir"`
	OutboxPath     string          `toml:"OutboxPath" yaml:"outbox"`
	OracleFeed     string          `toml:"OracleFeed" yaml:"oracle_feed"`
	Environment    string          `toml:"Environment" yaml:"environment"`
	PausedModules  []string        `toml:"PausedModules" yaml:"paused_modules"`
	Accrual        AccrualConfig   `toml:"Accrual" yaml:"accrual"`
	Auth           AuthConfig      `toml:"Auth" yaml:"auth"`
	Quota          QuotaConfig     `toml:"Quota" yaml:"quota"`
	RateLimit      RateLimitConfig `toml:"RateLimit" yaml:"rate_limit"`
	Telemetry      TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
}

// AccrualConfig mirrors the engine parameters.
type AccrualConfig struct {
	StakeAsset         string        `toml:"StakeAsset" yaml:"stake_asset"`
	DistributionPeriod Duration      `toml:"DistributionPeriod" yaml:"distribution_period"`
	PenaltyMode        string        `toml:"PenaltyMode" yaml:"penalty_mode"`
	PenaltyRecipient   string        `toml:"PenaltyRecipient" yaml:"penalty_recipient"`
	Assets             []AssetConfig `toml:"Assets" yaml:"assets"`
	Tiers              []TierConfig  `toml:"Tiers" yaml:"tiers"`
	Essence            EssenceConfig `toml:"Essence" yaml:"essence"`
}

// AssetConfig registers a reward asset.
type AssetConfig struct {
	Denom    string `toml:"Denom" yaml:"denom"`
	Weighted bool   `toml:"Weighted" yaml:"weighted"`
}

// TierConfig seeds a tier on first start.
type TierConfig struct {
	Duration      Duration `toml:"Duration" yaml:"duration"`
	MultiplierBps uint64   `toml:"MultiplierBps" yaml:"multiplier_bps"`
	PenaltyBps    uint64   `toml:"PenaltyBps" yaml:"penalty_bps"`
}

// EssenceConfig shapes the essence curve.
type EssenceConfig struct {
	Horizon        Duration `toml:"Horizon" yaml:"horizon"`
	SecondsPerUnit uint64   `toml:"SecondsPerUnit" yaml:"seconds_per_unit"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	HMACSecret string   `toml:"HMACSecret" yaml:"hmac_secret"`
	Issuer     string   `toml:"Issuer" yaml:"issuer"`
	Audience   []string `toml:"Audience" yaml:"audience"`
	AdminScope string   `toml:"AdminScope" yaml:"admin_scope"`
	// Admins lists the token subjects allowed to manage tiers.
	Admins    []string `toml:"Admins" yaml:"admins"`
	ClockSkew Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// QuotaConfig limits how much work a single owner may submit per window.
type QuotaConfig struct {
	MaxRequestsPerWindow uint32   `toml:"MaxRequestsPerWindow" yaml:"max_requests"`
	MaxAmountPerWindow   uint64   `toml:"MaxAmountPerWindow" yaml:"max_amount"`
	Window               Duration `toml:"Window" yaml:"window"`
}

// RateLimitConfig bounds the global request rate.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"rps"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool    `toml:"Insecure" yaml:"insecure"`
	Headers  string  `toml:"Headers" yaml:"headers"`
	Metrics  bool    `toml:"Metrics" yaml:"metrics"`
	Traces   bool    `toml:"Traces" yaml:"traces"`
	Sampling float64 `toml:"Sampling" yaml:"sampling"`
}

// Load reads configuration from a TOML or YAML file chosen by extension,
// applies defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml", ".tml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode config toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("unknown config fields %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config yaml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", ext)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8087"
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9187"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/accrual"
	}
	if cfg.OutboxPath == "" {
		cfg.OutboxPath = filepath.Join(cfg.DataDir, "outbox.sqlite")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.Accrual.DistributionPeriod.Duration == 0 {
		cfg.Accrual.DistributionPeriod.Duration = time.Duration(accrual.DefaultDistributionPeriod) * time.Second
	}
	if cfg.Accrual.PenaltyMode == "" {
		cfg.Accrual.PenaltyMode = string(accrual.PenaltyFlat)
	}
	if len(cfg.Accrual.Tiers) == 0 {
		cfg.Accrual.Tiers = []TierConfig{{MultiplierBps: 10_000}}
	}
	if cfg.Accrual.Essence.SecondsPerUnit == 0 {
		cfg.Accrual.Essence.SecondsPerUnit = 1
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "accrual:admin"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.Quota.Window.Duration == 0 {
		cfg.Quota.Window.Duration = time.Minute
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.Telemetry.Sampling == 0 {
		cfg.Telemetry.Sampling = 1
	}
}

// Validate checks the configuration for inconsistencies.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: hmac secret must be configured")
	}
	if cfg.Quota.Window.Seconds() == 0 {
		return fmt.Errorf("quota: window must be at least one second")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.Sampling < 0 || cfg.Telemetry.Sampling > 1 {
		return fmt.Errorf("telemetry: sampling must be within [0,1]")
	}
	if _, err := cfg.Accrual.EngineParams().Validate(); err != nil {
		return err
	}
	seen := make(map[uint64]struct{}, len(cfg.Accrual.Tiers))
	for _, tier := range cfg.Accrual.EngineTiers() {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("tier %ds: %w", tier.Duration, err)
		}
		if _, dup := seen[tier.Duration]; dup {
			return fmt.Errorf("tier %ds configured twice", tier.Duration)
		}
		seen[tier.Duration] = struct{}{}
	}
	return nil
}

// EngineParams converts the accrual section into engine parameters.
func (c AccrualConfig) EngineParams() accrual.Params {
	assets := make([]accrual.AssetConfig, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, accrual.AssetConfig{Denom: a.Denom, Weighted: a.Weighted})
	}
	return accrual.Params{
		StakeAsset:         c.StakeAsset,
		DistributionPeriod: c.DistributionPeriod.Seconds(),
		Assets:             assets,
		PenaltyMode:        accrual.PenaltyMode(c.PenaltyMode),
		PenaltyRecipient:   c.PenaltyRecipient,
		Essence: essence.Params{
			Horizon:        c.Essence.Horizon.Seconds(),
			SecondsPerUnit: c.Essence.SecondsPerUnit,
		},
	}
}

// EngineTiers converts the configured tiers into engine tiers.
func (c AccrualConfig) EngineTiers() []accrual.Tier {
	out := make([]accrual.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		out = append(out, accrual.Tier{Duration: t.Duration.Seconds(), MultiplierBps: t.MultiplierBps, PenaltyBps: t.PenaltyBps})
	}
	return out
}
