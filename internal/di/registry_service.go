package di

import (
	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/bedrock"
	"github.com/tombii/better-ccflare/internal/providers"
	"github.com/tombii/better-ccflare/internal/usage"
)

// RegistryService wraps the provider registry with every adapter
// registered.
type RegistryService struct {
	Registry *providers.Registry
}

// NewRegistry constructs all provider adapters from configuration and
// registers them. Extraction budgets and the Bedrock cache TTLs come
// from the config snapshot taken at container build.
func NewRegistry(i do.Injector) (*RegistryService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	cfg := cfgSvc.Get()
	log := logSvc.Logger

	extractor := usage.ExtractorOptions{
		CapBytes:         cfg.StreamUsageCapBytes,
		ReadTimeout:      cfg.StreamReadTimeout(),
		OperationTimeout: cfg.StreamOperationTimeout(),
		Logger:           log,
	}

	reg := providers.NewRegistry()
	reg.Register(providers.NewAnthropic(providers.AnthropicOptions{
		ClientID:  cfg.AnthropicClientID,
		Extractor: extractor,
		Logger:    log,
	}))
	reg.Register(providers.NewAnthropicCompatible(log, extractor))
	reg.Register(providers.NewZai(log, extractor))
	reg.Register(providers.NewMinimax(log, extractor))
	reg.Register(providers.NewNanoGPT(log, extractor))
	reg.Register(providers.NewOpenAI(providers.OpenAIOptions{
		Extractor: extractor,
		Logger:    log,
	}))
	reg.Register(providers.NewKilo(providers.OpenAIOptions{
		Extractor: extractor,
		Logger:    log,
	}))
	reg.Register(providers.NewOpenRouter(providers.OpenAIOptions{
		Extractor: extractor,
		Logger:    log,
	}))
	reg.Register(providers.NewBedrock(providers.BedrockOptions{
		Service: bedrock.NewService(bedrock.ServiceOptions{
			ModelCacheTTL:   cfg.BedrockModelCacheTTL(),
			ProfileCacheTTL: cfg.BedrockInferenceProfileCacheTTL(),
			Logger:          log,
		}),
		Extractor: extractor,
		Logger:    log,
	}))
	reg.Register(providers.NewVertex(providers.VertexOptions{
		Extractor: extractor,
		Logger:    log,
	}))

	return &RegistryService{Registry: reg}, nil
}
