// Package account defines the account model the relay core reads credentials
// from, plus the store interface the enclosing application implements. The
// core never owns account persistence; it reads rows, refreshes tokens, and
// writes back narrow state changes through the Store hooks.
package account

import (
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Provider tags, matching Provider.Name() of the registered adapters.
const (
	ProviderAnthropic           = "anthropic"
	ProviderAnthropicCompatible = "anthropic-compatible"
	ProviderZai                 = "zai"
	ProviderMinimax             = "minimax"
	ProviderNanoGPT             = "nanogpt"
	ProviderOpenAICompatible    = "openai-compatible"
	ProviderKilo                = "kilo"
	ProviderOpenRouter          = "openrouter"
	ProviderBedrock             = "bedrock"
	ProviderVertexAI            = "vertex-ai"
)

// KnownProviders lists every provider tag an account row may carry.
var KnownProviders = []string{
	ProviderAnthropic,
	ProviderAnthropicCompatible,
	ProviderZai,
	ProviderMinimax,
	ProviderNanoGPT,
	ProviderOpenAICompatible,
	ProviderKilo,
	ProviderOpenRouter,
	ProviderBedrock,
	ProviderVertexAI,
}

// AuthMode distinguishes the two Anthropic account flavors. It is derived
// from credential presence, never stored.
type AuthMode string

const (
	// AuthModeMax is an OAuth subscription account (refresh token, no API key).
	AuthModeMax AuthMode = "max"
	// AuthModeConsole is an API-key account.
	AuthModeConsole AuthMode = "console"
)

// CrossRegionMode selects which Bedrock inference-profile prefix is applied.
type CrossRegionMode string

const (
	CrossRegionGeographic CrossRegionMode = "geographic"
	CrossRegionGlobal     CrossRegionMode = "global"
	CrossRegionRegional   CrossRegionMode = "regional"
)

// Account is one credential row. Fields mirror the persisted columns; the
// core treats the struct as a read-through copy and routes every mutation
// through the Store.
type Account struct {
	ID       string
	Name     string
	Provider string

	APIKey       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when unset

	// CustomEndpoint is provider-interpreted: a URL, a JSON object
	// {endpoint, modelMappings}, "bedrock:<profile>:<region>", or the
	// Vertex JSON {projectId, region}.
	CustomEndpoint string

	// ModelMappings is raw JSON: exact client model names or pattern keys
	// mapped to provider model names, plus an optional "custom" key read
	// by Bedrock.
	ModelMappings string

	Priority            int
	Paused              bool
	RateLimitedUntil    time.Time
	AutoRefreshEnabled  bool
	AutoFallbackEnabled bool
	CrossRegionMode     CrossRegionMode

	RequestCount        int64
	TotalRequests       int64
	SessionStart        time.Time
	SessionRequestCount int64
	CreatedAt           time.Time
	LastUsed            time.Time

	// Transient per-request state, set by providers that move the model out
	// of the body (Vertex, Bedrock) and never persisted. ClientModel is the
	// name the client sent; ResolvedModel is the upstream name the request
	// was rewritten to.
	ClientModel   string
	ResolvedModel string

	// WantsStreaming records the body's stream flag for providers whose URL
	// depends on it; the body may already be consumed by the time the URL
	// is built.
	WantsStreaming bool
}

// Mode derives the Anthropic auth mode: a refresh token marks a subscription
// (max) account, otherwise the account authenticates with its API key.
func (a *Account) Mode() AuthMode {
	if a.RefreshToken != "" {
		return AuthModeMax
	}
	return AuthModeConsole
}

// NeedsRefresh reports whether the access token is missing or expires within
// the skew window. Accounts without an expiry never need refreshing here;
// API-key providers set a long horizon on first touch.
func (a *Account) NeedsRefresh(skew time.Duration) bool {
	if a.AccessToken == "" {
		return true
	}
	if a.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(skew).Before(a.ExpiresAt)
}

// RateLimited reports whether the account is inside a parsed rate-limit window.
func (a *Account) RateLimited() bool {
	return !a.RateLimitedUntil.IsZero() && time.Now().Before(a.RateLimitedUntil)
}

// Mappings returns the sanitized model mappings: a map whose values are
// non-empty strings. Invalid JSON or an empty object yields nil. The "custom"
// key is included; Bedrock reads it as its explicit model override.
func (a *Account) Mappings() map[string]string {
	if a.ModelMappings == "" {
		return nil
	}
	parsed := gjson.Parse(a.ModelMappings)
	if !parsed.IsObject() {
		return nil
	}

	mappings := make(map[string]string)
	parsed.ForEach(func(key, value gjson.Result) bool {
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

// Clone returns a copy suitable for handing to concurrent readers.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// KnownProvider reports whether tag names a registered provider family.
func KnownProvider(tag string) bool {
	return lo.Contains(KnownProviders, tag)
}
