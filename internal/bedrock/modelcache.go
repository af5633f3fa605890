package bedrock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	// DefaultCacheTTL holds both catalog caches for six hours.
	DefaultCacheTTL = 6 * time.Hour

	// maxCachedRegions bounds both catalog caches; the oldest region is
	// evicted when a new one would exceed it.
	maxCachedRegions = 20

	retryBaseDelay = time.Second
	retryMaxDelay  = 10 * time.Second
	retryAttempts  = 3
)

// Model is one Claude entry from the Bedrock foundation-model catalog.
type Model struct {
	ID        string
	Name      string
	Streaming bool
}

// ModelLister is the slice of the Bedrock control-plane client the model
// cache needs; satisfied by *bedrock.Client and by test fakes.
type ModelLister interface {
	ListFoundationModels(ctx context.Context, params *awsbedrock.ListFoundationModelsInput, optFns ...func(*awsbedrock.Options)) (*awsbedrock.ListFoundationModelsOutput, error)
}

// ModelListerFactory builds a control-plane client for a region.
type ModelListerFactory func(ctx context.Context, region string) (ModelLister, error)

// ModelCache caches the Claude foundation models per region. Lookups within
// the TTL are served from memory; refresh failures keep serving stale data
// when any exists.
type ModelCache struct {
	factory ModelListerFactory
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	models      map[string][]Model
	lastRefresh map[string]time.Time
}

// NewModelCache builds the cache. A zero ttl means DefaultCacheTTL.
func NewModelCache(factory ModelListerFactory, ttl time.Duration, log zerolog.Logger) *ModelCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ModelCache{
		factory:     factory,
		ttl:         ttl,
		log:         log,
		now:         time.Now,
		models:      make(map[string][]Model),
		lastRefresh: make(map[string]time.Time),
	}
}

// Models returns the region's Claude models, refreshing when the entry is
// missing or expired. A failed refresh returns the stale entry when one
// exists and the error otherwise.
func (c *ModelCache) Models(ctx context.Context, region string) ([]Model, error) {
	c.mu.Lock()
	cached, haveCached := c.models[region]
	fresh := haveCached && c.now().Sub(c.lastRefresh[region]) < c.ttl
	c.mu.Unlock()

	if fresh {
		return cached, nil
	}

	models, err := c.fetch(ctx, region)
	if err != nil {
		c.log.Warn().Err(err).Str("region", region).Msg("bedrock model catalog refresh failed")
		if haveCached {
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.evictForLocked(region)
	c.models[region] = models
	c.lastRefresh[region] = c.now()
	c.mu.Unlock()

	return models, nil
}

// Resolve fuzzy-matches a client model name against the region's catalog and
// returns the best Bedrock model id at or above the acceptance threshold.
func (c *ModelCache) Resolve(ctx context.Context, region, clientModel string) (Model, bool) {
	models, err := c.Models(ctx, region)
	if err != nil || len(models) == 0 {
		return Model{}, false
	}

	best, score := Model{}, 0.0
	for _, m := range models {
		if s := Similarity(clientModel, m.ID); s > score {
			best, score = m, s
		}
	}
	if score < matchThreshold {
		return Model{}, false
	}
	return best, true
}

// Suggest returns the closest catalog id regardless of threshold, for
// not-found error messages. Empty when the catalog is unavailable.
func (c *ModelCache) Suggest(ctx context.Context, region, clientModel string) string {
	models, err := c.Models(ctx, region)
	if err != nil {
		return ""
	}

	best, score := "", 0.0
	for _, m := range models {
		if s := Similarity(clientModel, m.ID); s > score {
			best, score = m.ID, s
		}
	}
	return best
}

func (c *ModelCache) fetch(ctx context.Context, region string) ([]Model, error) {
	lister, err := c.factory(ctx, region)
	if err != nil {
		return nil, err
	}

	out, err := withRetry(ctx, c.log, "ListFoundationModels", func() (*awsbedrock.ListFoundationModelsOutput, error) {
		return lister.ListFoundationModels(ctx, &awsbedrock.ListFoundationModelsInput{
			ByProvider: aws.String("anthropic"),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: list foundation models in %s: %w", region, err)
	}

	result := lo.FilterMap(out.ModelSummaries, func(s types.FoundationModelSummary, _ int) (Model, bool) {
		id := aws.ToString(s.ModelId)
		if id == "" {
			return Model{}, false
		}
		return Model{
			ID:        id,
			Name:      aws.ToString(s.ModelName),
			Streaming: aws.ToBool(s.ResponseStreamingSupported),
		}, true
	})
	return result, nil
}

// evictForLocked drops the oldest region when adding a new one would push
// the cache past its bound. Callers hold c.mu.
func (c *ModelCache) evictForLocked(region string) {
	if _, exists := c.models[region]; exists || len(c.models) < maxCachedRegions {
		return
	}

	oldest, oldestAt := "", c.now()
	for r, at := range c.lastRefresh {
		if at.Before(oldestAt) {
			oldest, oldestAt = r, at
		}
	}
	if oldest != "" {
		delete(c.models, oldest)
		delete(c.lastRefresh, oldest)
		c.log.Debug().Str("region", oldest).Msg("evicted oldest bedrock model cache region")
	}
}

// withRetry runs an SDK call with exponential backoff on throttling, server
// faults, and transport failures.
func withRetry[T any](ctx context.Context, log zerolog.Logger, op string, call func() (T, error)) (T, error) {
	var zero T
	delay := retryBaseDelay

	for attempt := 1; ; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		if attempt >= retryAttempts || !retryable(err) {
			return zero, err
		}

		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).
			Msg("retrying bedrock catalog call")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
}
