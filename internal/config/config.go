// Package config provides configuration loading, validation, and hot-reload
// for better-ccflare. The recognized options cover the relay core: the OAuth
// client id, streaming usage-extraction budgets, Bedrock cache TTLs, and the
// usage polling interval, plus the ambient logging and cache settings.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/samber/mo"

	"github.com/tombii/better-ccflare/internal/cache"
	"github.com/tombii/better-ccflare/internal/logging"
)

// DefaultAnthropicClientID is the public OAuth client id used by Claude
// subscription accounts when the config does not supply one.
const DefaultAnthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

// Defaults applied by ApplyDefaults.
const (
	DefaultStreamUsageCapBytes      = 100 * 1024
	DefaultStreamReadTimeoutMs      = 5_000
	DefaultStreamOperationTimeoutMs = 10_000
	DefaultBedrockCacheTTLHours     = 6
	DefaultUsagePollingIntervalMs   = 90_000
	DefaultRefreshSkewSeconds       = 60
)

// Environment overrides for the Bedrock cache TTLs.
const (
	EnvBedrockModelCacheTTLHours            = "BEDROCK_MODEL_CACHE_TTL_HOURS"
	EnvBedrockInferenceProfileCacheTTLHours = "BEDROCK_INFERENCE_PROFILE_CACHE_TTL_HOURS"
)

// RuntimeConfig is the read seam components use instead of holding a *Config,
// which would go stale after a hot reload.
type RuntimeConfig interface {
	Get() *Config
}

// Config is the complete better-ccflare configuration.
type Config struct {
	// AnthropicClientID is sent in token refresh and OAuth exchanges.
	AnthropicClientID string `yaml:"anthropic_client_id" toml:"anthropic_client_id"`

	// StreamUsageCapBytes bounds how many bytes the SSE usage extractor
	// reads before giving up.
	StreamUsageCapBytes int `yaml:"stream_usage_cap_bytes" toml:"stream_usage_cap_bytes"`

	// StreamReadTimeoutMs bounds a single read during usage extraction;
	// StreamOperationTimeoutMs bounds the whole extraction.
	StreamReadTimeoutMs      int `yaml:"stream_read_timeout_ms" toml:"stream_read_timeout_ms"`
	StreamOperationTimeoutMs int `yaml:"stream_operation_timeout_ms" toml:"stream_operation_timeout_ms"`

	// Bedrock catalog cache TTLs. The BEDROCK_*_TTL_HOURS environment
	// variables override these at cache construction.
	BedrockModelCacheTTLHours            int `yaml:"bedrock_model_cache_ttl_hours" toml:"bedrock_model_cache_ttl_hours"`
	BedrockInferenceProfileCacheTTLHours int `yaml:"bedrock_inference_profile_cache_ttl_hours" toml:"bedrock_inference_profile_cache_ttl_hours"`

	// UsagePollingIntervalMs is the base interval between usage endpoint
	// polls per account; each tick is jittered.
	UsagePollingIntervalMs int `yaml:"usage_polling_interval_ms" toml:"usage_polling_interval_ms"`

	// RefreshSkewSeconds is how long before expiry a token counts as
	// expiring and gets refreshed.
	RefreshSkewSeconds int `yaml:"refresh_skew_seconds" toml:"refresh_skew_seconds"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Cache   cache.Config  `yaml:"cache" toml:"cache"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, pretty, console
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"`
}

// Options converts the logging section into logging.Options.
func (l LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:  l.Level,
		Format: l.Format,
		Output: l.Output,
		Pretty: l.Pretty,
	}
}

// ApplyDefaults fills unset options with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.AnthropicClientID == "" {
		c.AnthropicClientID = DefaultAnthropicClientID
	}
	if c.StreamUsageCapBytes <= 0 {
		c.StreamUsageCapBytes = DefaultStreamUsageCapBytes
	}
	if c.StreamReadTimeoutMs <= 0 {
		c.StreamReadTimeoutMs = DefaultStreamReadTimeoutMs
	}
	if c.StreamOperationTimeoutMs <= 0 {
		c.StreamOperationTimeoutMs = DefaultStreamOperationTimeoutMs
	}
	if c.BedrockModelCacheTTLHours <= 0 {
		c.BedrockModelCacheTTLHours = DefaultBedrockCacheTTLHours
	}
	if c.BedrockInferenceProfileCacheTTLHours <= 0 {
		c.BedrockInferenceProfileCacheTTLHours = DefaultBedrockCacheTTLHours
	}
	if c.UsagePollingIntervalMs <= 0 {
		c.UsagePollingIntervalMs = DefaultUsagePollingIntervalMs
	}
	if c.RefreshSkewSeconds <= 0 {
		c.RefreshSkewSeconds = DefaultRefreshSkewSeconds
	}
	if c.Cache.Mode == "" {
		c.Cache.Mode = cache.ModeSingle
		c.Cache.Ristretto = cache.DefaultRistrettoConfig()
	}
}

// StreamReadTimeout returns the per-read budget for usage extraction.
func (c *Config) StreamReadTimeout() time.Duration {
	return time.Duration(c.StreamReadTimeoutMs) * time.Millisecond
}

// StreamOperationTimeout returns the total budget for usage extraction.
func (c *Config) StreamOperationTimeout() time.Duration {
	return time.Duration(c.StreamOperationTimeoutMs) * time.Millisecond
}

// UsagePollingInterval returns the base polling interval.
func (c *Config) UsagePollingInterval() time.Duration {
	return time.Duration(c.UsagePollingIntervalMs) * time.Millisecond
}

// RefreshSkew returns the expiring-token window.
func (c *Config) RefreshSkew() time.Duration {
	return time.Duration(c.RefreshSkewSeconds) * time.Second
}

// BedrockModelCacheTTL resolves the model cache TTL, preferring the
// environment override.
func (c *Config) BedrockModelCacheTTL() time.Duration {
	return resolveTTLHours(EnvBedrockModelCacheTTLHours, c.BedrockModelCacheTTLHours)
}

// BedrockInferenceProfileCacheTTL resolves the inference-profile cache TTL,
// preferring the environment override.
func (c *Config) BedrockInferenceProfileCacheTTL() time.Duration {
	return resolveTTLHours(EnvBedrockInferenceProfileCacheTTLHours, c.BedrockInferenceProfileCacheTTLHours)
}

func resolveTTLHours(envVar string, configured int) time.Duration {
	hours := envTTLHours(envVar).OrElse(configured)
	if hours <= 0 {
		hours = DefaultBedrockCacheTTLHours
	}
	return time.Duration(hours) * time.Hour
}

// envTTLHours parses a positive integer hour count from the environment.
func envTTLHours(envVar string) mo.Option[int] {
	raw := os.Getenv(envVar)
	if raw == "" {
		return mo.None[int]()
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return mo.None[int]()
	}
	return mo.Some(hours)
}
