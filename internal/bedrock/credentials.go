package bedrock

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// targetPrefix tags the custom-endpoint format a Bedrock account carries.
const targetPrefix = "bedrock:"

// Target is a parsed Bedrock account endpoint: "bedrock:<profile>:<region>".
// An empty profile means the default credential chain.
type Target struct {
	Profile string
	Region  string
}

// Key identifies the target for client caching.
func (t Target) Key() string {
	return t.Profile + "@" + t.Region
}

// ParseTarget splits a "bedrock:<profile>:<region>" custom endpoint.
// Anything else is a hard error; a Bedrock account with a malformed endpoint
// must fail credential refresh rather than limp along.
func ParseTarget(customEndpoint string) (Target, error) {
	rest, ok := strings.CutPrefix(customEndpoint, targetPrefix)
	if !ok {
		return Target{}, fmt.Errorf("bedrock: custom endpoint must be %q<profile>:<region>, got %q", targetPrefix, customEndpoint)
	}

	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Target{}, fmt.Errorf("bedrock: custom endpoint %q is missing a region", customEndpoint)
	}
	return Target{Profile: parts[0], Region: parts[1]}, nil
}

// LoadAWSConfig resolves AWS configuration for a target through the chain
// environment -> named profile -> instance metadata. Explicit environment
// keys win so a container-injected credential always beats a stale profile.
func LoadAWSConfig(ctx context.Context, target Target) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(target.Region),
	}

	if key, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, os.Getenv("AWS_SESSION_TOKEN")),
		))
	} else if target.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(target.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bedrock: load aws config for %s: %w", target.Key(), err)
	}
	return cfg, nil
}

// ValidateCredentials resolves the chain once and surfaces failures early,
// before any request-path SDK call.
func ValidateCredentials(ctx context.Context, target Target) error {
	cfg, err := LoadAWSConfig(ctx, target)
	if err != nil {
		return err
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("bedrock: resolve credentials for %s: %w", target.Key(), err)
	}
	return nil
}
