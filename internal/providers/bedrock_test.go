package providers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/providers"
)

func newBedrock(t *testing.T) *providers.Bedrock {
	t.Helper()
	return providers.NewBedrock(providers.BedrockOptions{Logger: testLogger()})
}

func TestBedrockCanHandle(t *testing.T) {
	p := newBedrock(t)
	assert.True(t, p.CanHandle("/v1/messages"))
	assert.True(t, p.CanHandle("/v1/messages?beta=true"))
	assert.False(t, p.CanHandle("/v1/models"))
	assert.False(t, p.CanHandle("/v1/organizations/me"))
}

func TestBedrockRefreshTokenBadTarget(t *testing.T) {
	p := newBedrock(t)
	acct := &account.Account{
		Name:           "bad",
		Provider:       account.ProviderBedrock,
		CustomEndpoint: "https://example.com",
	}

	_, err := p.RefreshToken(context.Background(), acct)
	var refreshErr *auth.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, "bad", refreshErr.Account)
}

func TestBedrockBuildURL(t *testing.T) {
	p := newBedrock(t)

	acct := &account.Account{CustomEndpoint: "bedrock:prod:eu-west-1"}
	assert.Equal(t, "https://bedrock-runtime.eu-west-1.amazonaws.com/v1/messages",
		p.BuildURL("/v1/messages", "", acct))

	bad := &account.Account{CustomEndpoint: "not-a-target"}
	assert.Empty(t, p.BuildURL("/v1/messages", "", bad))
}

func TestBedrockIsExchanger(t *testing.T) {
	var p providers.Provider = newBedrock(t)
	_, ok := p.(providers.Exchanger)
	assert.True(t, ok)
}
