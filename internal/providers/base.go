package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/sse"
	"github.com/tombii/better-ccflare/internal/usage"
)

// Base carries the template behavior shared by every adapter. Concrete
// providers embed it and override the operations that differ.
type Base struct {
	name      string
	log       zerolog.Logger
	extractor usage.ExtractorOptions
}

// NewBase builds the shared provider core.
func NewBase(name string, log zerolog.Logger, extractor usage.ExtractorOptions) Base {
	extractor.Logger = log
	return Base{name: name, log: log, extractor: extractor}
}

// Name returns the registry identifier.
func (b *Base) Name() string { return b.name }

// CanHandle accepts every path by default.
func (b *Base) CanHandle(string) bool { return true }

// PrepareHeaders strips the dangerous client headers and injects a bearer
// token when one is supplied. The client's own Authorization never survives
// when the adapter holds credentials.
func (b *Base) PrepareHeaders(h http.Header, accessToken, apiKey string) http.Header {
	out := copyRequestHeaders(h)
	if accessToken != "" || apiKey != "" {
		out.Del("Authorization")
	}
	if accessToken != "" {
		out.Set("Authorization", "Bearer "+accessToken)
	}
	return out
}

// TransformRequestBody passes the body through unchanged.
func (b *Base) TransformRequestBody(_ context.Context, body []byte, _ *account.Account) ([]byte, error) {
	return body, nil
}

// ProcessResponse passes the response through unchanged.
func (b *Base) ProcessResponse(_ context.Context, resp *http.Response, _ *account.Account) (*http.Response, error) {
	return resp, nil
}

// ParseRateLimit applies the shared header precedence.
func (b *Base) ParseRateLimit(resp *http.Response) RateLimitInfo {
	return parseRateLimitHeaders(resp)
}

// ExtractTierInfo reports no tier by default.
func (b *Base) ExtractTierInfo(*http.Response) mo.Option[int] {
	return mo.None[int]()
}

// ExtractUsageInfo reports no usage by default.
func (b *Base) ExtractUsageInfo(context.Context, *http.Response) mo.Option[usage.Info] {
	return mo.None[usage.Info]()
}

// IsStreamingResponse checks the content type for text/event-stream.
func (b *Base) IsStreamingResponse(resp *http.Response) bool {
	return headerContains(resp.Header, "Content-Type", sse.ContentType)
}

// SupportsOAuth is false by default.
func (b *Base) SupportsOAuth() bool { return false }

// OAuthProvider is nil by default.
func (b *Base) OAuthProvider() auth.OAuthProvider { return nil }

// resolveEndpoint validates a custom endpoint and falls back to the default
// on anything that is not a well-formed http(s) URL. URL building never
// fails; a bad endpoint only costs a warning.
func (b *Base) resolveEndpoint(custom, fallback string) string {
	if custom == "" {
		return fallback
	}

	cleaned, ok := sanitizeEndpoint(custom)
	if !ok {
		b.log.Warn().
			Str("provider", b.name).
			Str("endpoint", custom).
			Msg("invalid custom endpoint, using provider default")
		return fallback
	}
	return cleaned
}

// sanitizeEndpoint accepts http/https URLs with a host, trimming any
// trailing slash so path joins stay predictable.
func sanitizeEndpoint(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return strings.TrimSuffix(u.String(), "/"), true
}

// joinURL appends path and raw query to a base endpoint.
func joinURL(endpoint, path, query string) string {
	u := endpoint + path
	if query != "" {
		u += "?" + query
	}
	return u
}

// scanUsageBody runs the bounded Anthropic usage extraction over a response,
// choosing the SSE or JSON reader by content type. The response body is
// consumed; callers hand in a dedicated copy.
func (b *Base) scanUsageBody(ctx context.Context, resp *http.Response, maxJSONBytes int64) mo.Option[usage.Info] {
	if resp.Body == nil {
		return mo.None[usage.Info]()
	}

	if b.IsStreamingResponse(resp) {
		if info, ok := usage.ScanAnthropicStream(ctx, resp.Body, b.extractor); ok {
			return mo.Some(info)
		}
		return mo.None[usage.Info]()
	}

	body, err := readAll(resp.Body, maxJSONBytes)
	if err != nil {
		b.log.Debug().Err(err).Str("provider", b.name).Msg("usage body read failed")
		return mo.None[usage.Info]()
	}
	if info, ok := usage.ExtractAnthropicJSON(body); ok {
		return mo.Some(info)
	}
	return mo.None[usage.Info]()
}
