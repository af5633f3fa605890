package providers

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// hopByHopHeaders never cross the proxy (RFC 9110 §7.6.1), and the
// compression headers go because the proxy re-frames bodies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// strippedRequestHeaders are removed from every upstream request: the
// upstream sets its own host, and compression negotiation would hide the
// body from the translators.
var strippedRequestHeaders = []string{
	"Host",
	"Accept-Encoding",
	"Content-Encoding",
	"Content-Length",
}

// SanitizeResponseHeaders returns a copy of upstream response headers fit
// for the client: hop-by-hop headers and Content-Encoding dropped.
// Content-Length goes too, since translation changes body sizes.
func SanitizeResponseHeaders(h http.Header) http.Header {
	out := cloneHeaders(h)
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	out.Del("Content-Encoding")
	out.Del("Content-Length")
	return out
}

// cloneHeaders deep-copies a header map.
func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	lo.ForEach(lo.Entries(h), func(entry lo.Entry[string, []string], _ int) {
		out[entry.Key] = append([]string(nil), entry.Value...)
	})
	return out
}

// copyRequestHeaders clones the client headers minus the always-stripped
// set plus any extra names.
func copyRequestHeaders(h http.Header, extra ...string) http.Header {
	out := cloneHeaders(h)
	for _, name := range strippedRequestHeaders {
		out.Del(name)
	}
	for _, name := range extra {
		out.Del(name)
	}
	return out
}

// headerContains reports whether the header value contains the token,
// case-insensitively.
func headerContains(h http.Header, name, token string) bool {
	return strings.Contains(strings.ToLower(h.Get(name)), token)
}
