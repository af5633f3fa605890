// Package providers implements the upstream adapters of better-ccflare: one
// Provider per LLM backend, translating Anthropic Messages requests into the
// backend's dialect and the backend's responses back into Anthropic shape.
//
// Adapters are stateless per request. The host executes their operations in
// a fixed order for each request: CanHandle, RefreshToken (when the token is
// expiring), TransformRequestBody, BuildURL, PrepareHeaders, the upstream
// exchange, ProcessResponse, ParseRateLimit, and best-effort
// ExtractUsageInfo.
package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/samber/mo"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/usage"
)

// RateLimitInfo is the provider-neutral view of a response's rate-limit
// signals.
type RateLimitInfo struct {
	// Limited reports a hard limit: the account must back off.
	Limited bool

	// ResetAt is when the limit window resets. Zero when unknown.
	ResetAt time.Time

	// StatusHeader is the raw unified-status value, when present.
	StatusHeader string

	// Remaining is the unified remaining-requests counter.
	Remaining mo.Option[int64]
}

// Provider is one upstream adapter.
type Provider interface {
	// Name is the registry identifier; it matches account.Provider tags.
	Name() string

	// CanHandle reports whether this adapter can serve the request path.
	CanHandle(path string) bool

	// RefreshToken acquires fresh credentials for the account. API-key
	// providers return the key itself with an empty refresh token,
	// signalling that nothing should be written back.
	RefreshToken(ctx context.Context, acct *account.Account) (auth.TokenRefreshResult, error)

	// BuildURL composes the upstream URL for a path and raw query. An
	// invalid custom endpoint falls back to the provider default with a
	// warning; BuildURL never fails.
	BuildURL(path, query string, acct *account.Account) string

	// PrepareHeaders returns a new header set with credentials injected
	// and hop-by-hop, compression, and stale client auth headers removed.
	PrepareHeaders(h http.Header, accessToken, apiKey string) http.Header

	// TransformRequestBody rewrites the request body for the upstream
	// dialect, including model mapping. The input buffer is not modified.
	TransformRequestBody(ctx context.Context, body []byte, acct *account.Account) ([]byte, error)

	// ProcessResponse translates the upstream response into Anthropic
	// shape. It may replace the body reader for streaming responses.
	ProcessResponse(ctx context.Context, resp *http.Response, acct *account.Account) (*http.Response, error)

	// ParseRateLimit reads the response's rate-limit signals. It must not
	// consume a body it cannot restore.
	ParseRateLimit(resp *http.Response) RateLimitInfo

	// ExtractTierInfo derives the account's subscription tier from the
	// response, for providers that expose one.
	ExtractTierInfo(resp *http.Response) mo.Option[int]

	// ExtractUsageInfo reads token usage from the response body. The host
	// hands it a dedicated body copy; reads are bounded and best-effort.
	ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info]

	// IsStreamingResponse reports whether the response is an event stream.
	IsStreamingResponse(resp *http.Response) bool

	// SupportsOAuth reports whether the provider has an OAuth flow.
	SupportsOAuth() bool

	// OAuthProvider returns the provider's OAuth flow, or nil.
	OAuthProvider() auth.OAuthProvider
}

// Exchanger is implemented by providers that own their upstream transport
// instead of speaking plain HTTP; Bedrock calls the AWS SDK. The host uses
// Exchange in place of BuildURL, PrepareHeaders, and the HTTP round trip.
type Exchanger interface {
	Exchange(ctx context.Context, body []byte, acct *account.Account) (*http.Response, error)
}

// longCredentialHorizon is the expiry put on static credentials (API keys,
// ambient cloud chains) so the refresh gate leaves them alone.
const longCredentialHorizon = 365 * 24 * time.Hour

// staticCredentials is the TokenRefreshResult shape shared by every
// API-key provider: the key itself, no writeback.
func staticCredentials(key string) auth.TokenRefreshResult {
	return auth.TokenRefreshResult{
		AccessToken: key,
		ExpiresAt:   time.Now().Add(longCredentialHorizon),
	}
}

// maxJSONBodyBytes caps buffered reads of non-streaming bodies during usage
// and tier extraction.
const maxJSONBodyBytes = 4 << 20

func readAll(r io.Reader, max int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, max))
}
