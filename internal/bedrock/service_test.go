package bedrock_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/bedrock"
)

// fakeRuntime answers Converse with a canned result and fails ConverseStream
// with a configurable error; the real event stream type cannot be faked.
type fakeRuntime struct {
	converseIn  []*bedrockruntime.ConverseInput
	converseOut *bedrockruntime.ConverseOutput
	converseErr error
	streamErr   error
	streamCalls int
}

func (f *fakeRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseIn = append(f.converseIn, params)
	if f.converseErr != nil {
		return nil, f.converseErr
	}
	return f.converseOut, nil
}

func (f *fakeRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	f.streamCalls++
	return nil, f.streamErr
}

func converseResult(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(5),
			OutputTokens: aws.Int32(2),
		},
	}
}

type serviceFixture struct {
	service  *bedrock.Service
	runtime  *fakeRuntime
	factored int
}

func newServiceFixture(models *fakeModelLister, profiles *fakeProfileLister) *serviceFixture {
	f := &serviceFixture{
		runtime: &fakeRuntime{converseOut: converseResult("ok")},
	}
	f.service = bedrock.NewService(bedrock.ServiceOptions{
		Runtime: func(context.Context, bedrock.Target) (bedrock.Runtime, error) {
			f.factored++
			return f.runtime, nil
		},
		Models: func(context.Context, string) (bedrock.ModelLister, error) {
			return models, nil
		},
		Profiles: func(context.Context, string) (bedrock.ProfileLister, error) {
			return profiles, nil
		},
		Logger: zerolog.Nop(),
	})
	return f
}

func messagesBody(t *testing.T, extra map[string]any) []byte {
	t.Helper()
	payload := map[string]any{
		"model":      "claude-sonnet-4-20250514",
		"max_tokens": 16,
		"messages":   []map[string]any{{"role": "user", "content": "hi"}},
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func bedrockAccount() *account.Account {
	return &account.Account{
		ID:             "acc-1",
		Name:           "bedrock",
		Provider:       "bedrock",
		CustomEndpoint: "bedrock:prod:us-east-1",
	}
}

func TestServiceExecute(t *testing.T) {
	fixture := newServiceFixture(
		&fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}},
		&fakeProfileLister{pages: [][]string{{"us.anthropic.claude-sonnet-4-20250514-v1:0"}}},
	)
	acct := bedrockAccount()

	resp, err := fixture.service.Execute(context.Background(), messagesBody(t, nil), acct)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	// Geographic mode is the default; us-east-1 maps to the "us." profile.
	require.Len(t, fixture.runtime.converseIn, 1)
	assert.Equal(t, "us.anthropic.claude-sonnet-4-20250514-v1:0",
		aws.ToString(fixture.runtime.converseIn[0].ModelId))
	assert.Equal(t, "claude-sonnet-4-20250514", acct.ClientModel)
	assert.Equal(t, "us.anthropic.claude-sonnet-4-20250514-v1:0", acct.ResolvedModel)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)
	assert.Equal(t, "message", parsed.Get("type").String())
	assert.Equal(t, "claude-sonnet-4-20250514", parsed.Get("model").String())
	assert.Equal(t, "ok", parsed.Get("content.0.text").String())
	assert.Equal(t, int64(5), parsed.Get("usage.input_tokens").Int())

	// The runtime client is cached per target.
	_, err = fixture.service.Execute(context.Background(), messagesBody(t, nil), bedrockAccount())
	require.NoError(t, err)
	assert.Equal(t, 1, fixture.factored)
}

func TestServiceCustomMappingWins(t *testing.T) {
	fixture := newServiceFixture(
		&fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}},
		&fakeProfileLister{pages: [][]string{{}}},
	)
	acct := bedrockAccount()
	acct.ModelMappings = `{"custom": "arn:aws:bedrock:us-east-1::custom-model/mine"}`
	acct.CrossRegionMode = account.CrossRegionRegional

	_, err := fixture.service.Execute(context.Background(), messagesBody(t, nil), acct)
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:bedrock:us-east-1::custom-model/mine",
		aws.ToString(fixture.runtime.converseIn[0].ModelId))
}

func TestServiceCrossRegionModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     account.CrossRegionMode
		profiles [][]string
		want     string
	}{
		{
			name:     "global mode with global profile",
			mode:     account.CrossRegionGlobal,
			profiles: [][]string{{"global.anthropic.claude-sonnet-4-20250514-v1:0"}},
			want:     "global.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:     "global mode falls back to geographic",
			mode:     account.CrossRegionGlobal,
			profiles: [][]string{{"us.anthropic.claude-sonnet-4-20250514-v1:0"}},
			want:     "us.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:     "geographic mode falls back to global",
			mode:     account.CrossRegionGeographic,
			profiles: [][]string{{"global.anthropic.claude-sonnet-4-20250514-v1:0"}},
			want:     "global.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:     "regional mode stays bare",
			mode:     account.CrossRegionRegional,
			profiles: [][]string{{"global.anthropic.claude-sonnet-4-20250514-v1:0"}},
			want:     "anthropic.claude-sonnet-4-20250514-v1:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newServiceFixture(
				&fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}},
				&fakeProfileLister{pages: tt.profiles},
			)
			acct := bedrockAccount()
			acct.CrossRegionMode = tt.mode

			_, err := fixture.service.Execute(context.Background(), messagesBody(t, nil), acct)
			require.NoError(t, err)
			assert.Equal(t, tt.want, aws.ToString(fixture.runtime.converseIn[0].ModelId))
		})
	}
}

func TestServiceStreamingUnsupportedRetry(t *testing.T) {
	fixture := newServiceFixture(
		&fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}},
		&fakeProfileLister{pages: [][]string{{"us.anthropic.claude-sonnet-4-20250514-v1:0"}}},
	)
	fixture.runtime.streamErr = apiError("ValidationException", "The model does not support streaming")

	resp, err := fixture.service.Execute(context.Background(), messagesBody(t, map[string]any{"stream": true}), bedrockAccount())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fixture.runtime.streamCalls)
	assert.Len(t, fixture.runtime.converseIn, 1)
}

func TestServiceTranslatesSDKErrors(t *testing.T) {
	fixture := newServiceFixture(
		&fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}},
		&fakeProfileLister{pages: [][]string{{}}},
	)
	fixture.runtime.converseErr = apiError("ResourceNotFoundException", "model not found")

	_, err := fixture.service.Execute(context.Background(), messagesBody(t, nil), bedrockAccount())
	var translated *bedrock.TranslatedError
	require.ErrorAs(t, err, &translated)
	assert.Equal(t, http.StatusNotFound, translated.Status)
	assert.Equal(t, "anthropic.claude-sonnet-4-20250514-v1:0", translated.Suggestion)
}

func TestServiceBadTarget(t *testing.T) {
	fixture := newServiceFixture(&fakeModelLister{}, &fakeProfileLister{})
	acct := bedrockAccount()
	acct.CustomEndpoint = "https://example.com"

	_, err := fixture.service.Execute(context.Background(), messagesBody(t, nil), acct)
	assert.Error(t, err)
	assert.Empty(t, fixture.runtime.converseIn)
}
