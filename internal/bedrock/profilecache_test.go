package bedrock_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/tombii/better-ccflare/internal/bedrock"
)

// fakeProfileLister returns its profile ids one page at a time to exercise
// the pagination loop.
type fakeProfileLister struct {
	pages [][]string
	err   error
	calls int
}

func (f *fakeProfileLister) ListInferenceProfiles(_ context.Context, params *awsbedrock.ListInferenceProfilesInput, _ ...func(*awsbedrock.Options)) (*awsbedrock.ListInferenceProfilesOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	page := 0
	if params.NextToken != nil {
		page = int((*params.NextToken)[0] - '0')
	}

	out := &awsbedrock.ListInferenceProfilesOutput{}
	for _, id := range f.pages[page] {
		out.InferenceProfileSummaries = append(out.InferenceProfileSummaries, types.InferenceProfileSummary{
			InferenceProfileId: aws.String(id),
		})
	}
	if page+1 < len(f.pages) {
		out.NextToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

func profileCacheWith(lister *fakeProfileLister) *bedrock.ProfileCache {
	factory := func(context.Context, string) (bedrock.ProfileLister, error) {
		return lister, nil
	}
	return bedrock.NewProfileCache(factory, time.Hour, zerolog.Nop())
}

func TestProfileCacheFlavors(t *testing.T) {
	lister := &fakeProfileLister{pages: [][]string{
		{"global.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"us.anthropic.claude-opus-4-20250514-v1:0", "eu.anthropic.claude-opus-4-20250514-v1:0"},
	}}
	cache := profileCacheWith(lister)
	ctx := context.Background()

	assert.True(t, cache.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514"))
	assert.False(t, cache.SupportsGeographic(ctx, "us-east-1", "claude-sonnet-4-20250514"))

	assert.False(t, cache.SupportsGlobal(ctx, "us-east-1", "claude-opus-4-20250514"))
	assert.True(t, cache.SupportsGeographic(ctx, "us-east-1", "claude-opus-4-20250514"))

	// Both pages were consumed in a single refresh.
	assert.Equal(t, 2, lister.calls)
}

func TestProfileCacheUnknownModelAssumesSupported(t *testing.T) {
	lister := &fakeProfileLister{pages: [][]string{
		{"global.anthropic.claude-sonnet-4-20250514-v1:0"},
	}}
	cache := profileCacheWith(lister)
	ctx := context.Background()

	assert.True(t, cache.SupportsGlobal(ctx, "us-east-1", "claude-9-unreleased"))
	assert.True(t, cache.SupportsGeographic(ctx, "us-east-1", "claude-9-unreleased"))
}

func TestProfileCacheFailOpen(t *testing.T) {
	ctx := context.Background()

	denied := profileCacheWith(&fakeProfileLister{err: clientFault("AccessDeniedException")})
	assert.True(t, denied.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514"))
	assert.True(t, denied.SupportsGeographic(ctx, "us-east-1", "claude-sonnet-4-20250514"))

	broken := profileCacheWith(&fakeProfileLister{err: clientFault("ValidationException")})
	assert.True(t, broken.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514"))
}

func TestProfileCacheExpiry(t *testing.T) {
	lister := &fakeProfileLister{pages: [][]string{
		{"global.anthropic.claude-sonnet-4-20250514-v1:0"},
	}}
	cache := profileCacheWith(lister)
	ctx := context.Background()

	cache.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514")
	cache.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514")
	assert.Equal(t, 1, lister.calls)

	cache.SetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })
	cache.SupportsGlobal(ctx, "us-east-1", "claude-sonnet-4-20250514")
	assert.Equal(t, 2, lister.calls)
}
