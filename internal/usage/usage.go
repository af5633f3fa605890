// Package usage extracts token usage from upstream responses and polls
// provider usage endpoints. Extraction runs best-effort under strict byte
// and time budgets: a slow or malformed stream yields "no usage", never an
// error on the request path.
package usage

import "github.com/samber/mo"

// Info is the token usage observed on one response.
type Info struct {
	Model                    string
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64

	// CostUSD is the billed or estimated cost for the response.
	CostUSD mo.Option[float64]
}

// PromptTokens is the full prompt-side count: fresh input plus both cache
// directions.
func (i Info) PromptTokens() int64 {
	return i.InputTokens + i.CacheReadInputTokens + i.CacheCreationInputTokens
}

// CompletionTokens is the completion-side count.
func (i Info) CompletionTokens() int64 {
	return i.OutputTokens
}

// TotalTokens is prompt plus completion.
func (i Info) TotalTokens() int64 {
	return i.PromptTokens() + i.CompletionTokens()
}

// Empty reports whether no counter was populated.
func (i Info) Empty() bool {
	return i.InputTokens == 0 && i.OutputTokens == 0 &&
		i.CacheReadInputTokens == 0 && i.CacheCreationInputTokens == 0
}

// CostEstimator computes a dollar cost for a response when the upstream did
// not bill one. The host injects its own pricing; the default estimator
// returns None.
type CostEstimator func(model string, info Info) mo.Option[float64]

// NoCost is the default estimator.
func NoCost(string, Info) mo.Option[float64] {
	return mo.None[float64]()
}
