package providers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/usage"
)

// DefaultAnthropicEndpoint is the Anthropic API base URL.
const DefaultAnthropicEndpoint = "https://api.anthropic.com"

// billingCostHeader carries the billed dollar cost on OAuth responses.
const billingCostHeader = "anthropic-billing-cost"

// Tier thresholds: usage.rate_limit_tokens maps onto the 1x/5x/20x
// subscription tiers.
const (
	tier1TokenCeiling = 200_000
	tier5TokenCeiling = 800_000
)

// Anthropic is the first-party adapter. It serves both account flavors:
// OAuth subscriptions refresh through the shared token endpoint, API-key
// accounts authenticate with x-api-key and never write tokens back.
type Anthropic struct {
	Base
	oauth    *auth.AnthropicOAuth
	estimate usage.CostEstimator
}

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	// ClientID is the OAuth client id used for token refresh.
	ClientID string

	// OAuth overrides the OAuth client; nil builds one from ClientID.
	OAuth *auth.AnthropicOAuth

	// EstimateCost prices responses that carry no billing header.
	EstimateCost usage.CostEstimator

	Extractor usage.ExtractorOptions
	Logger    zerolog.Logger
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(opts AnthropicOptions) *Anthropic {
	oauth := opts.OAuth
	if oauth == nil {
		oauth = auth.NewAnthropicOAuth(opts.ClientID, auth.WithLogger(opts.Logger))
	}
	estimate := opts.EstimateCost
	if estimate == nil {
		estimate = usage.NoCost
	}

	return &Anthropic{
		Base:     NewBase(account.ProviderAnthropic, opts.Logger, opts.Extractor),
		oauth:    oauth,
		estimate: estimate,
	}
}

// RefreshToken resolves credentials by account flavor. API-key accounts get
// the key back with no writeback; OAuth accounts run the refresh grant, and
// a revoked refresh token surfaces as ReauthRequired.
func (p *Anthropic) RefreshToken(ctx context.Context, acct *account.Account) (auth.TokenRefreshResult, error) {
	if acct.Mode() == account.AuthModeConsole {
		if acct.APIKey == "" {
			return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
				Provider: p.Name(),
				Account:  acct.Name,
				Message:  "account has neither api key nor refresh token",
			}
		}
		return staticCredentials(acct.APIKey), nil
	}

	return p.oauth.RefreshGrant(ctx, acct.Name, acct.RefreshToken)
}

// BuildURL uses the validated custom endpoint or the Anthropic default.
func (p *Anthropic) BuildURL(path, query string, acct *account.Account) string {
	endpoint := DefaultAnthropicEndpoint
	if acct != nil {
		endpoint = p.resolveEndpoint(acct.CustomEndpoint, DefaultAnthropicEndpoint)
	}
	return joinURL(endpoint, path, query)
}

// PrepareHeaders injects either the bearer token or the API key. The client
// Authorization is always removed; subscription tokens and client keys must
// never travel together.
func (p *Anthropic) PrepareHeaders(h http.Header, accessToken, apiKey string) http.Header {
	out := copyRequestHeaders(h, "Authorization")
	switch {
	case accessToken != "" && apiKey == "":
		out.Set("Authorization", "Bearer "+accessToken)
	case apiKey != "":
		out.Set("x-api-key", apiKey)
	}
	return out
}

// ParseRateLimit extends the shared precedence with Anthropic's fallback
// reset sources: x-ratelimit-reset in seconds, else one minute out.
func (p *Anthropic) ParseRateLimit(resp *http.Response) RateLimitInfo {
	info := parseRateLimitHeaders(resp)
	if !info.Limited || !info.ResetAt.IsZero() {
		return info
	}

	if raw := resp.Header.Get("x-ratelimit-reset"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.ResetAt = time.Now().Add(time.Duration(secs) * time.Second)
			return info
		}
	}
	info.ResetAt = time.Now().Add(time.Minute)
	return info
}

// ExtractTierInfo maps usage.rate_limit_tokens onto the subscription tier.
// The body is restored after peeking.
func (p *Anthropic) ExtractTierInfo(resp *http.Response) mo.Option[int] {
	if resp.Body == nil || p.IsStreamingResponse(resp) {
		return mo.None[int]()
	}

	body, err := readAll(resp.Body, maxJSONBodyBytes)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return mo.None[int]()
	}

	tokens := gjson.GetBytes(body, "usage.rate_limit_tokens")
	if !tokens.Exists() {
		return mo.None[int]()
	}

	switch {
	case tokens.Int() <= tier1TokenCeiling:
		return mo.Some(1)
	case tokens.Int() <= tier5TokenCeiling:
		return mo.Some(5)
	default:
		return mo.Some(20)
	}
}

// ExtractUsageInfo reads usage from the SSE or JSON body and prices it:
// the billing header wins, then the injected estimator.
func (p *Anthropic) ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info] {
	found := p.scanUsageBody(ctx, resp, maxJSONBodyBytes)
	info, ok := found.Get()
	if !ok {
		return found
	}

	if raw := resp.Header.Get(billingCostHeader); raw != "" {
		if cost, err := strconv.ParseFloat(raw, 64); err == nil {
			info.CostUSD = mo.Some(cost)
			return mo.Some(info)
		}
	}
	info.CostUSD = p.estimate(info.Model, info)
	return mo.Some(info)
}

// SupportsOAuth is true: subscription accounts onboard through PKCE.
func (p *Anthropic) SupportsOAuth() bool { return true }

// OAuthProvider returns the Anthropic OAuth flow.
func (p *Anthropic) OAuthProvider() auth.OAuthProvider { return p.oauth }
