package providers_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/providers"
)

func vertexAccount(endpoint string) *account.Account {
	return &account.Account{
		ID:             "acct-v",
		Name:           "gcp",
		Provider:       account.ProviderVertexAI,
		CustomEndpoint: endpoint,
	}
}

func newVertex(ts oauth2.TokenSource) *providers.Vertex {
	return providers.NewVertex(providers.VertexOptions{
		TokenSource: func(context.Context) (oauth2.TokenSource, error) {
			return ts, nil
		},
		Logger: testLogger(),
	})
}

func staticTokenSource(token string, expiry time.Time) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, Expiry: expiry})
}

func TestVertexCanHandle(t *testing.T) {
	p := newVertex(nil)
	assert.True(t, p.CanHandle("/v1/messages"))
	assert.True(t, p.CanHandle("/v1/messages/count_tokens"))
	assert.False(t, p.CanHandle("/api/event_logging/batch"))
}

func TestVertexRefreshToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	p := newVertex(staticTokenSource("ya29.token", expiry))

	result, err := p.RefreshToken(context.Background(),
		vertexAccount(`{"projectId":"proj-1","region":"us-east5"}`))
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", result.AccessToken)
	assert.Empty(t, result.RefreshToken)
	assert.True(t, result.ExpiresAt.Equal(expiry))
}

func TestVertexRefreshTokenBadTarget(t *testing.T) {
	p := newVertex(staticTokenSource("t", time.Now().Add(time.Hour)))

	for _, endpoint := range []string{"", "not json", `{"projectId":"p"}`, `{"region":"us-east5"}`} {
		_, err := p.RefreshToken(context.Background(), vertexAccount(endpoint))
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestVertexTransformRequestBody(t *testing.T) {
	p := newVertex(nil)
	acct := vertexAccount(`{"projectId":"proj-1","region":"us-east5"}`)

	body := []byte(`{"model":"claude-sonnet-4-20250514","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	out, err := p.TransformRequestBody(context.Background(), body, acct)
	require.NoError(t, err)

	got := gjson.ParseBytes(out)
	assert.False(t, got.Get("model").Exists())
	assert.Equal(t, providers.VertexAnthropicVersion, got.Get("anthropic_version").String())
	assert.Equal(t, "hi", got.Get("messages.0.content").String())

	assert.Equal(t, "claude-sonnet-4-20250514", acct.ClientModel)
	assert.Equal(t, "claude-sonnet-4@20250514", acct.ResolvedModel)
	assert.True(t, acct.WantsStreaming)

	// Input buffer untouched.
	assert.Equal(t, "claude-sonnet-4-20250514", gjson.GetBytes(body, "model").String())
}

func TestVertexBuildURL(t *testing.T) {
	p := newVertex(nil)

	acct := vertexAccount(`{"projectId":"proj-1","region":"us-east5"}`)
	acct.ClientModel = "claude-sonnet-4-20250514"
	acct.ResolvedModel = "claude-sonnet-4@20250514"

	assert.Equal(t,
		"https://us-east5-aiplatform.googleapis.com/v1/projects/proj-1/locations/us-east5/publishers/anthropic/models/claude-sonnet-4@20250514:rawPredict",
		p.BuildURL("/v1/messages", "", acct))

	acct.WantsStreaming = true
	assert.Equal(t,
		"https://us-east5-aiplatform.googleapis.com/v1/projects/proj-1/locations/us-east5/publishers/anthropic/models/claude-sonnet-4@20250514:streamRawPredict",
		p.BuildURL("/v1/messages", "", acct))
}

func TestVertexBuildURLGlobalRegion(t *testing.T) {
	p := newVertex(nil)

	acct := vertexAccount(`{"projectId":"proj-1","region":"global"}`)
	acct.ResolvedModel = "claude-opus-4@20250514"

	got := p.BuildURL("/v1/messages", "", acct)
	assert.Equal(t,
		"https://aiplatform.googleapis.com/v1/projects/proj-1/locations/global/publishers/anthropic/models/claude-opus-4@20250514:rawPredict",
		got)
}

func TestVertexBuildURLStreamingFromPathOrQuery(t *testing.T) {
	p := newVertex(nil)
	acct := vertexAccount(`{"projectId":"p","region":"us-east5"}`)
	acct.ResolvedModel = "m"

	assert.Contains(t, p.BuildURL("/v1/messages/stream", "", acct), ":streamRawPredict")
	assert.Contains(t, p.BuildURL("/v1/messages", "stream=true", acct), ":streamRawPredict")
	assert.Contains(t, p.BuildURL("/v1/messages", "stream=false", acct), ":rawPredict")
}

func TestVertexPrepareHeaders(t *testing.T) {
	p := newVertex(nil)

	h := http.Header{}
	h.Set("Anthropic-Version", "2023-06-01")
	h.Set("Anthropic-Beta", "token-counting")
	h.Set("Authorization", "Bearer stale")

	out := p.PrepareHeaders(h, "ya29.fresh", "")
	assert.Equal(t, "Bearer ya29.fresh", out.Get("Authorization"))
	assert.Empty(t, out.Get("Anthropic-Version"))
	assert.Empty(t, out.Get("Anthropic-Beta"))
}

func TestVertexProcessResponseRestoresModel(t *testing.T) {
	p := newVertex(nil)
	acct := vertexAccount(`{"projectId":"p","region":"us-east5"}`)
	acct.ClientModel = "claude-sonnet-4-20250514"

	resp := response(http.StatusOK, map[string]string{"Content-Type": "application/json"})
	resp.Body = newBody(`{"id":"msg_1","model":"claude-sonnet-4@20250514","content":[]}`)

	out, err := p.ProcessResponse(context.Background(), resp, acct)
	require.NoError(t, err)
	body, err := readBody(out)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", gjson.Get(body, "model").String())
}

func TestVertexProcessResponseLeavesErrorsAndStreams(t *testing.T) {
	p := newVertex(nil)
	acct := vertexAccount(`{"projectId":"p","region":"us-east5"}`)
	acct.ClientModel = "claude-sonnet-4-20250514"

	errBody := `{"error":{"message":"denied"}}`
	resp := response(http.StatusForbidden, map[string]string{"Content-Type": "application/json"})
	resp.Body = newBody(errBody)
	out, err := p.ProcessResponse(context.Background(), resp, acct)
	require.NoError(t, err)
	body, err := readBody(out)
	require.NoError(t, err)
	assert.Equal(t, errBody, body)

	stream := response(http.StatusOK, map[string]string{"Content-Type": "text/event-stream"})
	streamBody := newBody("data: {}\n\n")
	stream.Body = streamBody
	out, err = p.ProcessResponse(context.Background(), stream, acct)
	require.NoError(t, err)
	assert.Equal(t, streamBody, out.Body)
}
