package bedrock

import (
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Exported for testing.

// SetNow overrides the model cache clock.
func (c *ModelCache) SetNow(now func() time.Time) { c.now = now }

// SetNow overrides the profile cache clock.
func (c *ProfileCache) SetNow(now func() time.Time) { c.now = now }

// CachedRegions lists the regions the model cache currently holds.
func (c *ModelCache) CachedRegions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	regions := make([]string, 0, len(c.models))
	for region := range c.models {
		regions = append(regions, region)
	}
	return regions
}

// RunForwarder drives the stream forwarder over a fixed event sequence,
// writing the resulting SSE events to w.
func RunForwarder(w io.Writer, model string, events []types.ConverseStreamOutput) {
	fw := &streamForwarder{w: w, model: model}
	for _, ev := range events {
		fw.forward(ev)
	}
	fw.finish()
}

// MatchThreshold exposes the fuzzy-match acceptance bound.
const MatchThreshold = matchThreshold
