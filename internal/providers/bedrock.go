package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/bedrock"
	"github.com/tombii/better-ccflare/internal/usage"
)

// Bedrock routes Anthropic Messages requests onto AWS Bedrock Converse. It
// owns its transport: the host calls Exchange instead of building an HTTP
// request, and the service underneath talks to the AWS SDK.
type Bedrock struct {
	Base
	svc *bedrock.Service
}

// BedrockOptions configures the adapter.
type BedrockOptions struct {
	// Service overrides the default SDK-backed service, for tests.
	Service *bedrock.Service

	Extractor usage.ExtractorOptions
	Logger    zerolog.Logger
}

// NewBedrock builds the bedrock adapter.
func NewBedrock(opts BedrockOptions) *Bedrock {
	svc := opts.Service
	if svc == nil {
		svc = bedrock.NewService(bedrock.ServiceOptions{Logger: opts.Logger})
	}
	return &Bedrock{
		Base: NewBase(account.ProviderBedrock, opts.Logger, opts.Extractor),
		svc:  svc,
	}
}

// CanHandle accepts only the Messages surface; Converse has no equivalent
// for anything else.
func (p *Bedrock) CanHandle(path string) bool {
	return strings.HasPrefix(path, "/v1/messages")
}

// RefreshToken validates the account's "bedrock:<profile>:<region>" target
// and resolves the credential chain once. Credentials stay inside the SDK;
// the returned placeholder only satisfies the refresh gate.
func (p *Bedrock) RefreshToken(ctx context.Context, acct *account.Account) (auth.TokenRefreshResult, error) {
	target, err := bedrock.ParseTarget(acct.CustomEndpoint)
	if err != nil {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  err.Error(),
		}
	}
	if err := bedrock.ValidateCredentials(ctx, target); err != nil {
		return auth.TokenRefreshResult{}, &auth.TokenRefreshError{
			Provider: p.Name(),
			Account:  acct.Name,
			Message:  err.Error(),
		}
	}
	return staticCredentials("aws-credential-chain"), nil
}

// BuildURL reports the runtime endpoint for logging; the actual call goes
// through Exchange.
func (p *Bedrock) BuildURL(path, _ string, acct *account.Account) string {
	target, err := bedrock.ParseTarget(acct.CustomEndpoint)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com%s", target.Region, path)
}

// Exchange executes the request through the Bedrock service. Failures are
// *bedrock.TranslatedError values the host maps onto HTTP statuses.
func (p *Bedrock) Exchange(ctx context.Context, body []byte, acct *account.Account) (*http.Response, error) {
	return p.svc.Execute(ctx, body, acct)
}

// ExtractUsageInfo reads Anthropic-shaped usage; both the translated JSON
// and the forwarded stream carry it.
func (p *Bedrock) ExtractUsageInfo(ctx context.Context, resp *http.Response) mo.Option[usage.Info] {
	return p.scanUsageBody(ctx, resp, maxJSONBodyBytes)
}
