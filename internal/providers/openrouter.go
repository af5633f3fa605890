package providers

import (
	"github.com/tombii/better-ccflare/internal/account"
)

// DefaultOpenRouterEndpoint is the OpenRouter API base URL.
const DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"

// NewOpenRouter builds the openrouter adapter. OpenRouter speaks the
// chat-completions dialect verbatim, so only the endpoint differs from the
// generic openai-compatible adapter.
func NewOpenRouter(opts OpenAIOptions) *OpenAI {
	opts.Name = account.ProviderOpenRouter
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultOpenRouterEndpoint
	}
	return NewOpenAI(opts)
}
