package providers

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/usage"
)

// Fixed endpoints of the Anthropic-compatible family.
const (
	DefaultZaiEndpoint     = "https://api.z.ai/api/anthropic"
	DefaultMinimaxEndpoint = "https://api.minimax.io/anthropic"
	DefaultNanoGPTEndpoint = "https://nano-gpt.com/api"
)

// MinimaxForcedModel is sent for every Minimax request regardless of the
// client's model field.
const MinimaxForcedModel = "MiniMax-M2"

// authHeaderStyle describes how an API key travels.
type authHeaderStyle struct {
	// header is x-api-key or Authorization.
	header string
	// bearer prefixes the value with "Bearer ".
	bearer bool
}

// Compat is the shared adapter for providers that speak the Anthropic
// Messages dialect behind an API key: anthropic-compatible, z.ai, Minimax,
// and NanoGPT. Variants differ only in endpoint, auth header style, static
// model mappings, and the forced-model override.
type Compat struct {
	Base
	endpoint      string
	endpointFixed bool
	authStyle     authHeaderStyle
	forcedModel   string
	static        map[string]string
	estimate      usage.CostEstimator
}

// CompatOptions configures one Anthropic-compatible variant.
type CompatOptions struct {
	// Name is the provider tag.
	Name string

	// Endpoint is the default upstream base URL.
	Endpoint string

	// EndpointFixed refuses per-account endpoint overrides (z.ai,
	// Minimax); configurable providers (NanoGPT, anthropic-compatible)
	// leave it false.
	EndpointFixed bool

	// AuthHeader is "x-api-key" or "authorization"; Bearer adds the
	// scheme prefix.
	AuthHeader string
	Bearer     bool

	// ForcedModel overrides every request's model when set.
	ForcedModel string

	// StaticMappings is the provider-level model map consulted after the
	// account's own mappings.
	StaticMappings map[string]string

	EstimateCost usage.CostEstimator
	Extractor    usage.ExtractorOptions
	Logger       zerolog.Logger
}

// NewCompat builds an Anthropic-compatible adapter.
func NewCompat(opts CompatOptions) *Compat {
	header := opts.AuthHeader
	if header == "" {
		header = "x-api-key"
	}
	estimate := opts.EstimateCost
	if estimate == nil {
		estimate = usage.NoCost
	}

	return &Compat{
		Base:          NewBase(opts.Name, opts.Logger, opts.Extractor),
		endpoint:      opts.Endpoint,
		endpointFixed: opts.EndpointFixed,
		authStyle:     authHeaderStyle{header: header, bearer: opts.Bearer},
		forcedModel:   opts.ForcedModel,
		static:        opts.StaticMappings,
		estimate:      estimate,
	}
}

// NewAnthropicCompatible serves arbitrary Anthropic-dialect endpoints
// configured per account.
func NewAnthropicCompatible(log zerolog.Logger, extractor usage.ExtractorOptions) *Compat {
	return NewCompat(CompatOptions{
		Name:       account.ProviderAnthropicCompatible,
		AuthHeader: "x-api-key",
		Extractor:  extractor,
		Logger:     log,
	})
}

// NewZai serves z.ai's GLM models. Its quota errors carry the reset time in
// the body, so the rate-limit parser is extended below.
func NewZai(log zerolog.Logger, extractor usage.ExtractorOptions) *Zai {
	return &Zai{Compat: *NewCompat(CompatOptions{
		Name:          account.ProviderZai,
		Endpoint:      DefaultZaiEndpoint,
		EndpointFixed: true,
		AuthHeader:    "x-api-key",
		Extractor:     extractor,
		Logger:        log,
	})}
}

// NewMinimax serves Minimax. Bearer auth, and every request is pinned to
// MiniMax-M2.
func NewMinimax(log zerolog.Logger, extractor usage.ExtractorOptions) *Compat {
	return NewCompat(CompatOptions{
		Name:          account.ProviderMinimax,
		Endpoint:      DefaultMinimaxEndpoint,
		EndpointFixed: true,
		AuthHeader:    "authorization",
		Bearer:        true,
		ForcedModel:   MinimaxForcedModel,
		Extractor:     extractor,
		Logger:        log,
	})
}

// NewNanoGPT serves NanoGPT's Anthropic-compatible API; the endpoint is
// overridable per account.
func NewNanoGPT(log zerolog.Logger, extractor usage.ExtractorOptions) *Compat {
	return NewCompat(CompatOptions{
		Name:       account.ProviderNanoGPT,
		Endpoint:   DefaultNanoGPTEndpoint,
		AuthHeader: "x-api-key",
		Extractor:  extractor,
		Logger:     log,
	})
}

// RefreshToken returns the account's API key as a static credential.
func (p *Compat) RefreshToken(_ context.Context, acct *account.Account) (auth.TokenRefreshResult, error) {
	if acct.APIKey == "" {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  "account has no api key",
		}
	}
	return staticCredentials(acct.APIKey), nil
}

// BuildURL resolves the account endpoint against the provider default.
// Accounts of fixed-endpoint providers cannot redirect traffic elsewhere.
func (p *Compat) BuildURL(path, query string, acct *account.Account) string {
	return joinURL(p.accountEndpoint(acct), path, query)
}

func (p *Compat) accountEndpoint(acct *account.Account) string {
	if p.endpointFixed || acct == nil {
		return p.endpoint
	}
	return p.resolveEndpoint(customEndpointURL(acct.CustomEndpoint), p.endpoint)
}

// customEndpointURL unwraps the two accepted custom_endpoint encodings: a
// bare URL, or a JSON object carrying an endpoint key.
func customEndpointURL(raw string) string {
	if raw == "" {
		return ""
	}
	if parsed := gjson.Parse(raw); parsed.IsObject() {
		return parsed.Get("endpoint").String()
	}
	return raw
}

// customEndpointMappings reads the modelMappings object of a JSON-encoded
// custom endpoint.
func customEndpointMappings(raw string) map[string]string {
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return nil
	}

	mappings := make(map[string]string)
	parsed.Get("modelMappings").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String && value.Str != "" {
			mappings[key.String()] = value.Str
		}
		return true
	})
	if len(mappings) == 0 {
		return nil
	}
	return mappings
}

// PrepareHeaders injects the API key in the variant's header style. The
// access token slot carries the key on this family; see RefreshToken.
func (p *Compat) PrepareHeaders(h http.Header, accessToken, apiKey string) http.Header {
	out := copyRequestHeaders(h, "Authorization", "X-Api-Key")

	key := apiKey
	if key == "" {
		key = accessToken
	}
	if key == "" {
		return out
	}

	value := key
	if p.authStyle.bearer {
		value = "Bearer " + key
	}
	out.Set(p.authStyle.header, value)
	return out
}

// TransformRequestBody applies the model mapping chain: forced model,
// account mappings (row or custom-endpoint JSON), static provider mappings,
// identity.
func (p *Compat) TransformRequestBody(_ context.Context, body []byte, acct *account.Account) ([]byte, error) {
	model := gjson.GetBytes(body, "model").String()

	mapped := p.mapModel(model, acct)
	if mapped == model {
		return body, nil
	}

	out, err := sjson.SetBytes(body, "model", mapped)
	if err != nil {
		// A body sjson cannot edit is passed through for the upstream
		// to reject with a real error message.
		p.log.Warn().Err(err).Str("provider", p.Name()).Msg("model rewrite failed")
		return body, nil
	}
	return out, nil
}

func (p *Compat) mapModel(model string, acct *account.Account) string {
	if p.forcedModel != "" {
		return p.forcedModel
	}

	var accountMappings map[string]string
	if acct != nil {
		accountMappings = acct.Mappings()
		if accountMappings == nil {
			accountMappings = customEndpointMappings(acct.CustomEndpoint)
		}
	}
	return MapModel(model, accountMappings, p.static)
}

// ExtractUsageInfo reads Anthropic-format usage and prices it with the
// injected estimator.
func (p *Compat) ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info] {
	found := p.scanUsageBody(ctx, resp, maxJSONBodyBytes)
	info, ok := found.Get()
	if !ok {
		return found
	}
	info.CostUSD = p.estimate(info.Model, info)
	return mo.Some(info)
}

// Zai extends the compatible base with z.ai's body-borne quota errors.
type Zai struct {
	Compat
}

// ParseRateLimit adds the 1308 body parse on 429s: z.ai reports the reset
// time inside the error message rather than a header. The body is restored
// after peeking.
func (p *Zai) ParseRateLimit(resp *http.Response) RateLimitInfo {
	info := p.Compat.ParseRateLimit(resp)
	if resp.StatusCode != http.StatusTooManyRequests || !info.ResetAt.IsZero() || resp.Body == nil {
		return info
	}

	body, err := readAll(resp.Body, maxJSONBodyBytes)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return info
	}

	if reset, ok := ParseZaiResetTime(body).Get(); ok {
		info.Limited = true
		info.ResetAt = reset
	}
	return info
}
