package providers

import (
	"strings"

	"github.com/tombii/better-ccflare/internal/account"
)

// DefaultKiloEndpoint is the Kilo gateway base URL.
const DefaultKiloEndpoint = "https://api.kilo.ai/api/gateway"

// Kilo is an openai-compatible derivative with the Kilo gateway's path
// conventions: the gateway mounts chat completions at the root, so the
// usual /v1 prefix is dropped everywhere.
type Kilo struct {
	OpenAI
}

// NewKilo builds the kilo adapter on top of the openai-compatible one.
func NewKilo(opts OpenAIOptions) *Kilo {
	opts.Name = account.ProviderKilo
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultKiloEndpoint
	}
	return &Kilo{OpenAI: *NewOpenAI(opts)}
}

// BuildURL maps /v1/messages onto /chat/completions and strips the /v1
// prefix from every other path.
func (p *Kilo) BuildURL(path, query string, acct *account.Account) string {
	endpoint := p.endpoint
	if acct != nil {
		endpoint = p.resolveEndpoint(customEndpointURL(acct.CustomEndpoint), p.endpoint)
	}
	return joinURL(endpoint, kiloPath(path), stripBetaFlag(query))
}

func kiloPath(path string) string {
	if strings.HasPrefix(path, "/v1/messages") {
		return "/chat/completions"
	}
	return strings.TrimPrefix(path, "/v1")
}
