package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/cache"
	"github.com/tombii/better-ccflare/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.DefaultAnthropicClientID, cfg.AnthropicClientID)
	assert.Equal(t, config.DefaultStreamUsageCapBytes, cfg.StreamUsageCapBytes)
	assert.Equal(t, cache.ModeSingle, cfg.Cache.Mode)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.StreamReadTimeout())
	assert.Equal(t, 10*time.Second, cfg.StreamOperationTimeout())
	assert.Equal(t, 90*time.Second, cfg.UsagePollingInterval())
	assert.Equal(t, time.Minute, cfg.RefreshSkew())
	assert.Equal(t, 6*time.Hour, cfg.BedrockModelCacheTTL())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
anthropic_client_id: custom-client
stream_usage_cap_bytes: 2048
usage_polling_interval_ms: 30000
logging:
  level: debug
  format: console
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-client", cfg.AnthropicClientID)
	assert.Equal(t, 2048, cfg.StreamUsageCapBytes)
	assert.Equal(t, 30*time.Second, cfg.UsagePollingInterval())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields still pick up defaults.
	assert.Equal(t, config.DefaultStreamReadTimeoutMs, cfg.StreamReadTimeoutMs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
anthropic_client_id = "toml-client"
refresh_skew_seconds = 120

[logging]
level = "warn"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "toml-client", cfg.AnthropicClientID)
	assert.Equal(t, 2*time.Minute, cfg.RefreshSkew())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CLIENT_ID", "from-env")
	path := writeFile(t, "config.yaml", "anthropic_client_id: ${TEST_CLIENT_ID}\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AnthropicClientID)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, "config.yaml", "logging: [not a map\n")
	_, err = config.Load(bad)
	assert.Error(t, err)
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader("stream_usage_cap_bytes: 512\n"))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.StreamUsageCapBytes)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "verbose"
	cfg.StreamReadTimeoutMs = 20000 // above the operation timeout

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "stream_operation_timeout_ms")
}

func TestBedrockTTLEnvOverride(t *testing.T) {
	cfg := config.Default()

	t.Setenv(config.EnvBedrockModelCacheTTLHours, "12")
	assert.Equal(t, 12*time.Hour, cfg.BedrockModelCacheTTL())
	assert.Equal(t, 6*time.Hour, cfg.BedrockInferenceProfileCacheTTL())

	// Garbage and non-positive values fall back to the configured TTL.
	t.Setenv(config.EnvBedrockModelCacheTTLHours, "nope")
	assert.Equal(t, 6*time.Hour, cfg.BedrockModelCacheTTL())
	t.Setenv(config.EnvBedrockModelCacheTTLHours, "0")
	assert.Equal(t, 6*time.Hour, cfg.BedrockModelCacheTTL())
}

func TestRuntimeSwap(t *testing.T) {
	first := config.Default()
	runtime := config.NewRuntime(first)
	assert.Same(t, first, runtime.Get())

	second := config.Default()
	second.AnthropicClientID = "swapped"
	runtime.Store(second)
	assert.Equal(t, "swapped", runtime.Get().AnthropicClientID)
}
