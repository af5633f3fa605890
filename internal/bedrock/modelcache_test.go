package bedrock_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	smithy "github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/bedrock"
)

// fakeModelLister serves a canned catalog and counts calls. Errors are
// client faults so the retry loop gives up immediately.
type fakeModelLister struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeModelLister) ListFoundationModels(_ context.Context, _ *awsbedrock.ListFoundationModelsInput, _ ...func(*awsbedrock.Options)) (*awsbedrock.ListFoundationModelsOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := &awsbedrock.ListFoundationModelsOutput{}
	for _, id := range f.ids {
		out.ModelSummaries = append(out.ModelSummaries, types.FoundationModelSummary{
			ModelId:                    aws.String(id),
			ResponseStreamingSupported: aws.Bool(true),
		})
	}
	return out, nil
}

func clientFault(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code, Fault: smithy.FaultClient}
}

func modelCacheWith(lister *fakeModelLister, ttl time.Duration) *bedrock.ModelCache {
	factory := func(context.Context, string) (bedrock.ModelLister, error) {
		return lister, nil
	}
	return bedrock.NewModelCache(factory, ttl, zerolog.Nop())
}

func TestModelCacheServesFresh(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	models, err := cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.True(t, models[0].Streaming)

	// Second lookup inside the TTL does not hit the API again.
	_, err = cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
}

func TestModelCacheExpiry(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	_, err := cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)

	cache.SetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestModelCacheStaleFallback(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	_, err := cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)

	lister.err = clientFault("ValidationException")
	cache.SetNow(func() time.Time { return time.Now().Add(2 * time.Hour) })

	models, err := cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Len(t, models, 1)
}

func TestModelCacheErrorWithoutCache(t *testing.T) {
	lister := &fakeModelLister{err: clientFault("ValidationException")}
	cache := modelCacheWith(lister, time.Hour)

	_, err := cache.Models(context.Background(), "us-east-1")
	assert.Error(t, err)
}

func TestModelCacheSkipsEmptyIDs(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"", "anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	models, err := cache.Models(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Len(t, models, 1)
}

func TestModelCacheResolve(t *testing.T) {
	lister := &fakeModelLister{ids: []string{
		"anthropic.claude-sonnet-4-20250514-v1:0",
		"anthropic.claude-opus-4-20250514-v1:0",
		"amazon.titan-text-express-v1",
	}}
	cache := modelCacheWith(lister, time.Hour)

	model, ok := cache.Resolve(context.Background(), "us-east-1", "claude-opus-4-20250514")
	require.True(t, ok)
	assert.Equal(t, "anthropic.claude-opus-4-20250514-v1:0", model.ID)

	_, ok = cache.Resolve(context.Background(), "us-east-1", "gpt-4o")
	assert.False(t, ok)
}

func TestModelCacheSuggest(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	assert.Equal(t, "anthropic.claude-sonnet-4-20250514-v1:0",
		cache.Suggest(context.Background(), "us-east-1", "claude-sonnet-4"))

	broken := modelCacheWith(&fakeModelLister{err: clientFault("ValidationException")}, time.Hour)
	assert.Empty(t, broken.Suggest(context.Background(), "us-east-1", "claude-sonnet-4"))
}

func TestModelCacheEviction(t *testing.T) {
	lister := &fakeModelLister{ids: []string{"anthropic.claude-sonnet-4-20250514-v1:0"}}
	cache := modelCacheWith(lister, time.Hour)

	base := time.Now()
	for i := 0; i < 25; i++ {
		// Space refreshes out so "oldest" is well defined.
		tick := base.Add(time.Duration(i) * time.Minute)
		cache.SetNow(func() time.Time { return tick })
		_, err := cache.Models(context.Background(), fmt.Sprintf("region-%02d", i))
		require.NoError(t, err)
	}

	regions := cache.CachedRegions()
	assert.Len(t, regions, 20)
	assert.NotContains(t, regions, "region-00")
	assert.Contains(t, regions, "region-24")
}
