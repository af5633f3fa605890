package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/usage"
)

const (
	// VertexAnthropicVersion goes in the request body; Vertex rejects the
	// anthropic-version header.
	VertexAnthropicVersion = "vertex-2023-10-16"

	vertexScope = "https://www.googleapis.com/auth/cloud-platform"
)

// vertexDatedModel matches Anthropic model ids whose trailing date Vertex
// expects after an @ separator, e.g. claude-sonnet-4-20250514.
var vertexDatedModel = regexp.MustCompile(`^(claude-.+)-(\d{8})$`)

// TokenSourceFunc supplies OAuth tokens for Google APIs. The default
// resolves Application Default Credentials; tests inject fixed sources.
type TokenSourceFunc func(ctx context.Context) (oauth2.TokenSource, error)

func defaultVertexTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	creds, err := google.FindDefaultCredentials(ctx, vertexScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: find default credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// Vertex serves Anthropic models published on Google Vertex AI. The model
// travels in the URL rather than the body, anthropic_version moves into the
// body, and authentication runs on Application Default Credentials.
type Vertex struct {
	Base

	tokenSource TokenSourceFunc

	mu sync.Mutex
	ts oauth2.TokenSource
}

// VertexOptions configures the adapter.
type VertexOptions struct {
	// TokenSource overrides ADC resolution.
	TokenSource TokenSourceFunc

	Extractor usage.ExtractorOptions
	Logger    zerolog.Logger
}

// NewVertex builds the vertex-ai adapter.
func NewVertex(opts VertexOptions) *Vertex {
	tokens := opts.TokenSource
	if tokens == nil {
		tokens = defaultVertexTokenSource
	}
	return &Vertex{
		Base:        NewBase(account.ProviderVertexAI, opts.Logger, opts.Extractor),
		tokenSource: tokens,
	}
}

// vertexTarget is the account's parsed custom endpoint.
type vertexTarget struct {
	projectID string
	region    string
}

func parseVertexTarget(customEndpoint string) (vertexTarget, error) {
	parsed := gjson.Parse(customEndpoint)
	t := vertexTarget{
		projectID: parsed.Get("projectId").String(),
		region:    parsed.Get("region").String(),
	}
	if !parsed.IsObject() || t.projectID == "" || t.region == "" {
		return vertexTarget{}, fmt.Errorf("vertex: custom endpoint must be JSON with projectId and region, got %q", customEndpoint)
	}
	return t, nil
}

func (t vertexTarget) baseURL() string {
	if t.region == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", t.region)
}

// CanHandle rejects the client telemetry path; everything else routes.
func (p *Vertex) CanHandle(path string) bool {
	return !strings.HasPrefix(path, "/api/event_logging/batch")
}

// RefreshToken validates the account target and pulls a fresh ADC token.
// Google tokens live about an hour; the empty refresh token keeps them out
// of the store.
func (p *Vertex) RefreshToken(ctx context.Context, acct *account.Account) (auth.TokenRefreshResult, error) {
	if _, err := parseVertexTarget(acct.CustomEndpoint); err != nil {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  err.Error(),
		}
	}

	ts, err := p.source(ctx)
	if err != nil {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  err.Error(),
		}
	}

	token, err := ts.Token()
	if err != nil {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  fmt.Sprintf("fetch google token: %v", err),
		}
	}

	return auth.TokenRefreshResult{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
	}, nil
}

func (p *Vertex) source(ctx context.Context) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ts != nil {
		return p.ts, nil
	}
	ts, err := p.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	p.ts = ts
	return ts, nil
}

// TransformRequestBody moves the model out of the body, stamps the Vertex
// anthropic_version, and stashes the model names and stream flag on the
// account for BuildURL and ProcessResponse.
func (p *Vertex) TransformRequestBody(_ context.Context, body []byte, acct *account.Account) ([]byte, error) {
	src := gjson.ParseBytes(body)
	model := src.Get("model").String()

	acct.ClientModel = model
	acct.ResolvedModel = vertexModelID(MapModel(model, acct.Mappings(), nil))
	acct.WantsStreaming = src.Get("stream").Bool()

	out, err := sjson.DeleteBytes(bytes.Clone(body), "model")
	if err != nil {
		return nil, fmt.Errorf("vertex: strip model: %w", err)
	}
	out, err = sjson.SetBytes(out, "anthropic_version", VertexAnthropicVersion)
	if err != nil {
		return nil, fmt.Errorf("vertex: set anthropic_version: %w", err)
	}
	return out, nil
}

// vertexModelID converts a dated Anthropic model id into the @-separated
// Vertex form. Already-converted and unfamiliar ids pass through.
func vertexModelID(model string) string {
	if m := vertexDatedModel.FindStringSubmatch(model); m != nil {
		return m[1] + "@" + m[2]
	}
	return model
}

// BuildURL places the resolved model in the publisher path and picks the
// streaming action from the recorded stream flag or the incoming path.
func (p *Vertex) BuildURL(path, query string, acct *account.Account) string {
	target, err := parseVertexTarget(acct.CustomEndpoint)
	if err != nil {
		// RefreshToken already rejected malformed targets; this is a
		// programming error guard, not a user path.
		p.log.Error().Err(err).Str("account", acct.Name).Msg("vertex url built without a valid target")
		return ""
	}

	action := "rawPredict"
	if acct.WantsStreaming || vertexStreamingPath(path, query) {
		action = "streamRawPredict"
	}

	model := acct.ResolvedModel
	if model == "" {
		model = acct.ClientModel
	}

	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		target.baseURL(),
		url.PathEscape(target.projectID),
		url.PathEscape(target.region),
		url.PathEscape(model),
		action)
}

func vertexStreamingPath(path, query string) bool {
	if strings.Contains(path, "stream") {
		return true
	}
	values, err := url.ParseQuery(query)
	return err == nil && values.Get("stream") == "true"
}

// PrepareHeaders sets bearer auth and drops the Anthropic version headers
// Vertex rejects; the version travels in the body instead.
func (p *Vertex) PrepareHeaders(h http.Header, accessToken, _ string) http.Header {
	out := copyRequestHeaders(h, "Authorization", "Anthropic-Version", "Anthropic-Beta")
	if accessToken != "" {
		out.Set("Authorization", "Bearer "+accessToken)
	}
	return out
}

// ProcessResponse restores the client's model name in JSON bodies; Vertex
// reports the @-separated id.
func (p *Vertex) ProcessResponse(_ context.Context, resp *http.Response, acct *account.Account) (*http.Response, error) {
	if p.IsStreamingResponse(resp) || resp.Body == nil {
		return resp, nil
	}
	if acct == nil || acct.ClientModel == "" {
		return resp, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, err := readAll(resp.Body, maxJSONBodyBytes)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("vertex: read response: %w", err)
	}

	if gjson.GetBytes(body, "model").Exists() {
		if restored, err := sjson.SetBytes(body, "model", acct.ClientModel); err == nil {
			body = restored
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// ExtractUsageInfo reads Anthropic-shaped usage; Vertex responses keep the
// Messages envelope.
func (p *Vertex) ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info] {
	return p.scanUsageBody(ctx, resp, maxJSONBodyBytes)
}
