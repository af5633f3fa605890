package providers

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/tidwall/gjson"
)

// Anthropic unified rate-limit headers.
const (
	unifiedStatusHeader    = "anthropic-ratelimit-unified-status"
	unifiedResetHeader     = "anthropic-ratelimit-unified-reset"
	unifiedRemainingHeader = "anthropic-ratelimit-unified-remaining"
)

// Hard statuses block the account; soft statuses are warnings the request
// still passed under.
var (
	hardLimitStatuses = []string{"rate_limited", "blocked", "queueing_hard", "payment_required"}
	softLimitStatuses = []string{"allowed_warning", "queueing_soft"}
)

// parseRateLimitHeaders is the shared precedence: unified headers first,
// then the bare 429/Retry-After contract.
func parseRateLimitHeaders(resp *http.Response) RateLimitInfo {
	if info, ok := parseUnifiedRateLimit(resp); ok {
		return info
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		return RateLimitInfo{}
	}

	info := RateLimitInfo{Limited: true}
	if reset, ok := parseRetryAfter(resp.Header.Get("Retry-After")).Get(); ok {
		info.ResetAt = reset
	}
	return info
}

func parseUnifiedRateLimit(resp *http.Response) (RateLimitInfo, bool) {
	status := resp.Header.Get(unifiedStatusHeader)
	reset := resp.Header.Get(unifiedResetHeader)
	if status == "" && reset == "" {
		return RateLimitInfo{}, false
	}

	info := RateLimitInfo{StatusHeader: status}

	switch {
	case lo.Contains(hardLimitStatuses, status):
		info.Limited = true
	case lo.Contains(softLimitStatuses, status):
		info.Limited = false
	default:
		info.Limited = resp.StatusCode == http.StatusTooManyRequests
	}

	if reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.ResetAt = time.Unix(secs, 0)
		}
	}
	if remaining := resp.Header.Get(unifiedRemainingHeader); remaining != "" {
		if n, err := strconv.ParseInt(remaining, 10, 64); err == nil {
			info.Remaining = mo.Some(n)
		}
	}
	return info, true
}

// parseRetryAfter accepts integer seconds or an HTTP-date.
func parseRetryAfter(value string) mo.Option[time.Time] {
	if value == "" {
		return mo.None[time.Time]()
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return mo.Some(time.Now().Add(time.Duration(secs) * time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		return mo.Some(at)
	}
	return mo.None[time.Time]()
}

// z.ai signals its quota limit in the error body, code 1308, with a reset
// timestamp rendered in Singapore time.
var zaiResetTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)

var zaiZone = time.FixedZone("UTC+8", 8*60*60)

// ParseZaiResetTime extracts the quota reset time from a z.ai 1308 error
// body. The embedded timestamp is UTC+8 and is returned as UTC.
func ParseZaiResetTime(body []byte) mo.Option[time.Time] {
	parsed := gjson.ParseBytes(body)
	if parsed.Get("type").String() != "error" || parsed.Get("error.type").String() != "1308" {
		return mo.None[time.Time]()
	}

	stamp := zaiResetTimestamp.FindString(parsed.Get("error.message").String())
	if stamp == "" {
		return mo.None[time.Time]()
	}

	at, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, zaiZone)
	if err != nil {
		return mo.None[time.Time]()
	}
	return mo.Some(at.UTC())
}
