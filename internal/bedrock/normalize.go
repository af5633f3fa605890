// Package bedrock adapts Anthropic Messages traffic onto AWS Bedrock: model
// id normalization and fuzzy matching, the credential chain, foundation-model
// and inference-profile caches, the Converse transform, stream forwarding,
// and AWS error translation. The provider adapter in internal/providers is a
// thin shell over the Service here.
package bedrock

import (
	"regexp"
	"strings"
)

// geoPrefixes are the cross-region inference-profile prefixes Bedrock
// accepts in front of a model id.
var geoPrefixes = []string{"us", "eu", "apac", "au", "ca", "jp", "global"}

// versionSuffix matches the trailing -v<n> or -v<n>:<m> of a Bedrock model id.
var versionSuffix = regexp.MustCompile(`-v\d+(:\d+)?$`)

// matchThreshold is the minimum similarity for a fuzzy model match.
const matchThreshold = 0.70

// NormalizeModelID reduces a Bedrock model or inference-profile id to a bare
// lowercase Anthropic model name: the geographic prefix, the "anthropic."
// provider prefix, and the version suffix are stripped. Applying it twice
// yields the same result.
//
//	us.anthropic.claude-3-5-sonnet-20241022-v2:0 -> claude-3-5-sonnet-20241022
func NormalizeModelID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))

	for _, prefix := range geoPrefixes {
		if rest, ok := strings.CutPrefix(id, prefix+"."); ok {
			id = rest
			break
		}
	}
	id = strings.TrimPrefix(id, "anthropic.")
	return versionSuffix.ReplaceAllString(id, "")
}

// GeoPrefix maps an AWS region to its cross-region inference-profile prefix.
func GeoPrefix(region string) string {
	switch {
	case strings.HasPrefix(region, "eu-"):
		return "eu"
	case strings.HasPrefix(region, "ca-"):
		return "ca"
	case region == "ap-northeast-1" || region == "ap-northeast-3":
		return "jp"
	case region == "ap-southeast-2" || region == "ap-southeast-4":
		return "au"
	case strings.HasPrefix(region, "ap-") || strings.HasPrefix(region, "me-"):
		return "apac"
	default:
		return "us"
	}
}

// Similarity scores how well a client model name matches a Bedrock model id,
// both compared in normalized form: 1.0 for an exact match, 0.8 when one
// contains the other, otherwise 1 - levenshtein/maxLen.
func Similarity(a, b string) float64 {
	a, b = NormalizeModelID(a), NormalizeModelID(b)
	if a == b {
		return 1.0
	}
	if a != "" && b != "" && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.8
	}

	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
