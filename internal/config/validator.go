package config

var validLogLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"": true, "json": true, "pretty": true, "console": true,
}

// Validate checks the configuration and returns a ValidationError listing
// every problem found. Defaults are expected to have been applied already.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if c.AnthropicClientID == "" {
		verr.Addf("anthropic_client_id must not be empty")
	}
	if c.StreamUsageCapBytes <= 0 {
		verr.Addf("stream_usage_cap_bytes must be positive, got %d", c.StreamUsageCapBytes)
	}
	if c.StreamReadTimeoutMs <= 0 {
		verr.Addf("stream_read_timeout_ms must be positive, got %d", c.StreamReadTimeoutMs)
	}
	if c.StreamOperationTimeoutMs <= 0 {
		verr.Addf("stream_operation_timeout_ms must be positive, got %d", c.StreamOperationTimeoutMs)
	}
	if c.StreamOperationTimeoutMs < c.StreamReadTimeoutMs {
		verr.Addf("stream_operation_timeout_ms (%d) must not be below stream_read_timeout_ms (%d)",
			c.StreamOperationTimeoutMs, c.StreamReadTimeoutMs)
	}
	if c.BedrockModelCacheTTLHours <= 0 {
		verr.Addf("bedrock_model_cache_ttl_hours must be positive, got %d", c.BedrockModelCacheTTLHours)
	}
	if c.BedrockInferenceProfileCacheTTLHours <= 0 {
		verr.Addf("bedrock_inference_profile_cache_ttl_hours must be positive, got %d", c.BedrockInferenceProfileCacheTTLHours)
	}
	if c.UsagePollingIntervalMs <= 0 {
		verr.Addf("usage_polling_interval_ms must be positive, got %d", c.UsagePollingIntervalMs)
	}

	if !validLogLevels[c.Logging.Level] {
		verr.Addf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		verr.Addf("logging.format %q is not one of json, pretty, console", c.Logging.Format)
	}

	if err := c.Cache.Validate(); err != nil {
		verr.Addf("cache: %v", err)
	}

	return verr.ToError()
}
