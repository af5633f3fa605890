package bedrock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/rs/zerolog"
)

// profileSupport aggregates the inference-profile flavors a region offers
// for one normalized model id.
type profileSupport struct {
	global     bool
	geographic bool
}

// ProfileLister is the control-plane slice the profile cache needs.
type ProfileLister interface {
	ListInferenceProfiles(ctx context.Context, params *awsbedrock.ListInferenceProfilesInput, optFns ...func(*awsbedrock.Options)) (*awsbedrock.ListInferenceProfilesOutput, error)
}

// ProfileListerFactory builds a control-plane client for a region.
type ProfileListerFactory func(ctx context.Context, region string) (ProfileLister, error)

// ProfileCache caches per-region inference-profile support keyed by
// normalized model id. Permission failures degrade to "assume supported":
// a wrong guess costs one upstream validation error, a wrong denial would
// block the account entirely.
type ProfileCache struct {
	factory ProfileListerFactory
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	support     map[string]map[string]profileSupport
	lastRefresh map[string]time.Time
}

// NewProfileCache builds the cache. A zero ttl means DefaultCacheTTL.
func NewProfileCache(factory ProfileListerFactory, ttl time.Duration, log zerolog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ProfileCache{
		factory:     factory,
		ttl:         ttl,
		log:         log,
		now:         time.Now,
		support:     make(map[string]map[string]profileSupport),
		lastRefresh: make(map[string]time.Time),
	}
}

// SupportsGlobal reports whether the region offers a global inference
// profile for the model. Unknown models and lookup failures report true.
func (c *ProfileCache) SupportsGlobal(ctx context.Context, region, modelID string) bool {
	return c.supports(ctx, region, modelID, func(s profileSupport) bool { return s.global })
}

// SupportsGeographic reports whether the region offers a geographic
// inference profile for the model. Unknown models and lookup failures
// report true.
func (c *ProfileCache) SupportsGeographic(ctx context.Context, region, modelID string) bool {
	return c.supports(ctx, region, modelID, func(s profileSupport) bool { return s.geographic })
}

func (c *ProfileCache) supports(ctx context.Context, region, modelID string, pick func(profileSupport) bool) bool {
	table, err := c.table(ctx, region)
	if err != nil {
		return true
	}

	entry, known := table[NormalizeModelID(modelID)]
	if !known {
		return true
	}
	return pick(entry)
}

func (c *ProfileCache) table(ctx context.Context, region string) (map[string]profileSupport, error) {
	c.mu.Lock()
	cached, haveCached := c.support[region]
	fresh := haveCached && c.now().Sub(c.lastRefresh[region]) < c.ttl
	c.mu.Unlock()

	if fresh {
		return cached, nil
	}

	table, err := c.fetch(ctx, region)
	if err != nil {
		if IsAccessDenied(err) {
			c.log.Warn().Str("region", region).
				Msg("bedrock:ListInferenceProfiles denied; grant bedrock:ListInferenceProfiles to enable cross-region profile checks, assuming profiles are supported")
		} else {
			c.log.Warn().Err(err).Str("region", region).Msg("bedrock inference-profile refresh failed")
		}
		if haveCached {
			return cached, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.evictForLocked(region)
	c.support[region] = table
	c.lastRefresh[region] = c.now()
	c.mu.Unlock()

	return table, nil
}

func (c *ProfileCache) fetch(ctx context.Context, region string) (map[string]profileSupport, error) {
	lister, err := c.factory(ctx, region)
	if err != nil {
		return nil, err
	}

	table := make(map[string]profileSupport)
	var next *string
	for {
		out, err := withRetry(ctx, c.log, "ListInferenceProfiles", func() (*awsbedrock.ListInferenceProfilesOutput, error) {
			return lister.ListInferenceProfiles(ctx, &awsbedrock.ListInferenceProfilesInput{
				NextToken: next,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: list inference profiles in %s: %w", region, err)
		}

		for _, summary := range out.InferenceProfileSummaries {
			recordProfile(table, aws.ToString(summary.InferenceProfileId))
		}

		next = out.NextToken
		if next == nil {
			return table, nil
		}
	}
}

// recordProfile folds one inference-profile id into the support table. The
// id's leading segment carries the flavor: "global." or a geographic prefix.
func recordProfile(table map[string]profileSupport, profileID string) {
	if profileID == "" {
		return
	}

	key := NormalizeModelID(profileID)
	entry := table[key]
	if strings.HasPrefix(strings.ToLower(profileID), "global.") {
		entry.global = true
	} else {
		entry.geographic = true
	}
	table[key] = entry
}

func (c *ProfileCache) evictForLocked(region string) {
	if _, exists := c.support[region]; exists || len(c.support) < maxCachedRegions {
		return
	}

	oldest, oldestAt := "", c.now()
	for r, at := range c.lastRefresh {
		if at.Before(oldestAt) {
			oldest, oldestAt = r, at
		}
	}
	if oldest != "" {
		delete(c.support, oldest)
		delete(c.lastRefresh, oldest)
		c.log.Debug().Str("region", oldest).Msg("evicted oldest bedrock profile cache region")
	}
}
