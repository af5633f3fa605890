package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/usage"
)

// DefaultOpenAIEndpoint is used when an account carries no endpoint.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// Default model targets when neither the account nor the static mappings
// resolve a client model.
var openAIPatternDefaults = map[string]string{
	"opus":   "openai/gpt-5",
	"sonnet": "openai/gpt-5",
	"haiku":  "openai/gpt-5-mini",
}

const openAIFallbackModel = "openai/gpt-5"

// Per-1k-token prices by model prefix, with a coarse default. Real pricing
// arrives through the injected estimator when the host has one.
type openAIRate struct{ input, output float64 }

// Ordered longest-prefix-first so gpt-5-mini is not swallowed by gpt-5.
var openAIRates = []struct {
	prefix string
	rate   openAIRate
}{
	{prefix: "openai/gpt-5-mini", rate: openAIRate{input: 0.00025, output: 0.002}},
	{prefix: "openai/gpt-5", rate: openAIRate{input: 0.00125, output: 0.01}},
	{prefix: "gpt-4", rate: openAIRate{input: 0.03, output: 0.06}},
}

var openAIDefaultRate = openAIRate{input: 0.001, output: 0.002}

// finishReasonMap translates OpenAI finish reasons into Anthropic stop
// reasons.
var finishReasonMap = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"function_call":  "tool_use",
	"tool_calls":     "tool_use",
	"content_filter": "stop_sequence",
}

// OpenAI adapts OpenAI-compatible chat-completions backends to the
// Anthropic Messages surface: requests are translated on the way out,
// responses (JSON and SSE) on the way back.
type OpenAI struct {
	Base
	endpoint string
}

// OpenAIOptions configures the adapter.
type OpenAIOptions struct {
	// Name overrides the provider tag for derivatives.
	Name string

	// Endpoint is the default base URL; accounts may override it.
	Endpoint string

	Extractor usage.ExtractorOptions
	Logger    zerolog.Logger
}

// NewOpenAI builds the openai-compatible adapter.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	name := opts.Name
	if name == "" {
		name = account.ProviderOpenAICompatible
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}

	return &OpenAI{
		Base:     NewBase(name, opts.Logger, opts.Extractor),
		endpoint: endpoint,
	}
}

// CanHandle rejects paths with no chat-completions equivalent: token
// counting and client telemetry.
func (p *OpenAI) CanHandle(path string) bool {
	if strings.HasPrefix(path, "/v1/messages/count_tokens") {
		return false
	}
	if strings.HasPrefix(path, "/api/") {
		return false
	}
	return true
}

// RefreshToken returns the API key as a static credential.
func (p *OpenAI) RefreshToken(_ context.Context, acct *account.Account) (auth.TokenRefreshResult, error) {
	if acct.APIKey == "" {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  "account has no api key",
		}
	}
	return staticCredentials(acct.APIKey), nil
}

// BuildURL maps /v1/messages onto the chat-completions path and strips the
// beta flag from the query.
func (p *OpenAI) BuildURL(path, query string, acct *account.Account) string {
	endpoint := p.endpoint
	if acct != nil {
		endpoint = p.resolveEndpoint(customEndpointURL(acct.CustomEndpoint), p.endpoint)
	}
	return joinURL(endpoint, p.mapPath(endpoint, path), stripBetaFlag(query))
}

func (p *OpenAI) mapPath(endpoint, path string) string {
	if !strings.HasPrefix(path, "/v1/messages") {
		return path
	}
	if strings.HasSuffix(endpoint, "/v1") {
		return "/chat/completions"
	}
	return "/v1/chat/completions"
}

func stripBetaFlag(query string) string {
	if query == "" {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return query
	}
	if values.Get("beta") == "true" {
		values.Del("beta")
	}
	return values.Encode()
}

// PrepareHeaders sets bearer auth and drops the Anthropic-only headers the
// upstream would reject.
func (p *OpenAI) PrepareHeaders(h http.Header, accessToken, apiKey string) http.Header {
	out := copyRequestHeaders(h,
		"Authorization",
		"Anthropic-Version",
		"Anthropic-Beta",
		"Anthropic-Dangerous-Direct-Browser-Access",
		"X-Api-Key",
	)

	key := apiKey
	if key == "" {
		key = accessToken
	}
	if key != "" {
		out.Set("Authorization", "Bearer "+key)
	}
	return out
}

// TransformRequestBody converts an Anthropic Messages request into an
// OpenAI chat-completions request.
func (p *OpenAI) TransformRequestBody(_ context.Context, body []byte, acct *account.Account) ([]byte, error) {
	src := gjson.ParseBytes(body)

	out := []byte(`{}`)
	var err error

	out, err = sjson.SetBytes(out, "model", p.resolveModel(src.Get("model").String(), acct))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}

	messages := make([]map[string]any, 0, 8)
	if system := src.Get("system"); system.Exists() {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": flattenContent(system),
		})
	}
	src.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		messages = append(messages, map[string]any{
			"role":    msg.Get("role").String(),
			"content": flattenContent(msg.Get("content")),
		})
		return true
	})
	out, err = sjson.SetBytes(out, "messages", messages)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}

	copies := map[string]string{
		"max_tokens":     "max_tokens",
		"temperature":    "temperature",
		"top_p":          "top_p",
		"stream":         "stream",
		"stop_sequences": "stop",
	}
	for from, to := range copies {
		if v := src.Get(from); v.Exists() {
			if out, err = sjson.SetBytes(out, to, v.Value()); err != nil {
				return nil, fmt.Errorf("openai: build request: %w", err)
			}
		}
	}

	return out, nil
}

// resolveModel runs the mapping chain, then the openai pattern defaults.
func (p *OpenAI) resolveModel(model string, acct *account.Account) string {
	var accountMappings map[string]string
	if acct != nil {
		accountMappings = acct.Mappings()
		if accountMappings == nil {
			accountMappings = customEndpointMappings(acct.CustomEndpoint)
		}
	}

	mapped := MapModel(model, accountMappings, openAIPatternDefaults)
	if mapped != model {
		return mapped
	}
	// Unmapped Anthropic names cannot be sent upstream verbatim.
	if strings.HasPrefix(strings.ToLower(model), "claude") || model == "" {
		return openAIFallbackModel
	}
	return model
}

// flattenContent renders Anthropic message content as a single string:
// plain strings pass through, arrays concatenate their text blocks.
func flattenContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return content.Raw
	}

	var sb strings.Builder
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	return sb.String()
}

// ProcessResponse translates the upstream response back into Anthropic
// shape. Streaming bodies are rewritten incrementally; JSON bodies are
// rebuilt in one pass.
func (p *OpenAI) ProcessResponse(_ context.Context, resp *http.Response, _ *account.Account) (*http.Response, error) {
	if p.IsStreamingResponse(resp) {
		resp.Body = translateOpenAIStream(resp.Body, p.log)
		resp.Header = SanitizeResponseHeaders(resp.Header)
		return resp, nil
	}

	if resp.Body == nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, err := readAll(resp.Body, maxJSONBodyBytes)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	translated, err := translateOpenAIResponse(body)
	if err != nil {
		p.log.Warn().Err(err).Msg("openai response left untranslated")
		translated = body
	}

	resp.Body = io.NopCloser(bytes.NewReader(translated))
	resp.Header = SanitizeResponseHeaders(resp.Header)
	resp.ContentLength = int64(len(translated))
	return resp, nil
}

// translateOpenAIResponse maps a chat-completions JSON body onto the
// Anthropic message envelope.
func translateOpenAIResponse(body []byte) ([]byte, error) {
	src := gjson.ParseBytes(body)
	choice := src.Get("choices.0")
	if !choice.Exists() {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	id := src.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("msg_%d", time.Now().UnixMilli())
	}

	msg := map[string]any{
		"id":    id,
		"type":  "message",
		"role":  "assistant",
		"model": src.Get("model").String(),
		"content": []map[string]any{{
			"type": "text",
			"text": choice.Get("message.content").String(),
		}},
		"stop_reason":   stopReasonFor(choice.Get("finish_reason").String()),
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  src.Get("usage.prompt_tokens").Int(),
			"output_tokens": src.Get("usage.completion_tokens").Int(),
		},
	}

	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("openai: encode response: %w", err)
	}
	return out, nil
}

func stopReasonFor(finish string) string {
	if reason, ok := finishReasonMap[finish]; ok {
		return reason
	}
	return "end_turn"
}

// ParseRateLimit always reports not limited: openai-compatible upstreams
// meter their own keys, and a 429 there should not bench the account.
func (p *OpenAI) ParseRateLimit(*http.Response) RateLimitInfo {
	return RateLimitInfo{}
}

// ExtractUsageInfo reads usage from the translated body. Streaming bodies
// are already in Anthropic envelope shape by the time the usage copy is
// scanned; JSON bodies may be either dialect depending on whether
// translation succeeded, so both paths go through the Anthropic reader
// first with the OpenAI field names as fallback.
func (p *OpenAI) ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info] {
	if resp.Body == nil {
		return mo.None[usage.Info]()
	}

	var info usage.Info
	var ok bool
	if p.IsStreamingResponse(resp) {
		info, ok = usage.ScanAnthropicStream(ctx, resp.Body, p.extractor)
	} else {
		body, err := readAll(resp.Body, maxJSONBodyBytes)
		if err != nil {
			return mo.None[usage.Info]()
		}
		if info, ok = usage.ExtractAnthropicJSON(body); !ok {
			info, ok = usage.ExtractOpenAIJSON(body)
		}
	}
	if !ok {
		return mo.None[usage.Info]()
	}

	info.CostUSD = mo.Some(openAICost(info.Model, info))
	return mo.Some(info)
}

// openAICost prices a response from the built-in prefix table.
func openAICost(model string, info usage.Info) float64 {
	rate := openAIDefaultRate
	for _, entry := range openAIRates {
		if strings.HasPrefix(model, entry.prefix) {
			rate = entry.rate
			break
		}
	}
	return float64(info.PromptTokens())/1000*rate.input +
		float64(info.CompletionTokens())/1000*rate.output
}
