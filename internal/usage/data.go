package usage

import (
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/tidwall/gjson"
)

// Data is one provider-shaped usage snapshot. The payload stays opaque; the
// representative accessors interpret just enough of it to answer "how close
// to the limit is this account" and "which window is binding".
type Data struct {
	// AccountID keys the snapshot in the fetcher cache.
	AccountID string

	// Provider is the account's provider tag.
	Provider string

	// Raw is the upstream response body, verbatim.
	Raw []byte

	FetchedAt time.Time
}

// Anthropic responses nest usage windows (five_hour, seven_day, …) as
// objects carrying a numeric "utilization". The set of windows has changed
// across API revisions, so the walk is dynamic rather than schema-bound.
const utilizationField = "utilization"

// RepresentativeUtilization returns the highest utilization percentage the
// snapshot reports, or None when the payload carries no recognizable usage.
func (d Data) RepresentativeUtilization() mo.Option[float64] {
	util, _ := d.representative()
	return util
}

// RepresentativeWindow names the window behind RepresentativeUtilization.
func (d Data) RepresentativeWindow() mo.Option[string] {
	_, window := d.representative()
	return window
}

func (d Data) representative() (mo.Option[float64], mo.Option[string]) {
	switch d.Provider {
	case "nanogpt":
		return d.nanogptRepresentative()
	case "zai":
		return d.zaiRepresentative()
	default:
		return d.anthropicRepresentative()
	}
}

func (d Data) anthropicRepresentative() (mo.Option[float64], mo.Option[string]) {
	best := mo.None[float64]()
	window := mo.None[string]()

	walkUsageWindows(gjson.ParseBytes(d.Raw), "", func(name string, utilization float64) {
		if current, ok := best.Get(); !ok || utilization > current {
			best = mo.Some(utilization)
			window = mo.Some(name)
		}
	})

	return best, window
}

// walkUsageWindows visits every object holding a numeric utilization field,
// at any depth, reporting it under the key it was nested behind.
func walkUsageWindows(value gjson.Result, name string, visit func(string, float64)) {
	if !value.IsObject() {
		return
	}

	util := value.Get(utilizationField)
	if util.Exists() && util.Type == gjson.Number {
		visit(name, util.Num)
	}

	value.ForEach(func(key, child gjson.Result) bool {
		if child.IsObject() {
			walkUsageWindows(child, key.String(), visit)
		}
		return true
	})
}

func (d Data) nanogptRepresentative() (mo.Option[float64], mo.Option[string]) {
	daily := gjson.GetBytes(d.Raw, "daily.percentUsed")
	monthly := gjson.GetBytes(d.Raw, "monthly.percentUsed")
	if !daily.Exists() && !monthly.Exists() {
		return mo.None[float64](), mo.None[string]()
	}

	if monthly.Num > daily.Num {
		return mo.Some(monthly.Num), mo.Some("monthly")
	}
	return mo.Some(daily.Num), mo.Some("daily")
}

// zaiRepresentative reads only the token-quota limit; the request-count
// quota is not what throttles coding traffic. z.ai's window label maps to
// Anthropic's five_hour naming so hosts can treat windows uniformly.
func (d Data) zaiRepresentative() (mo.Option[float64], mo.Option[string]) {
	var pct mo.Option[float64]

	gjson.GetBytes(d.Raw, "data.limits").ForEach(func(_, limit gjson.Result) bool {
		kind := strings.ToLower(limit.Get("type").String())
		if !strings.Contains(kind, "token") {
			return true
		}
		if p := limit.Get("percentage"); p.Exists() {
			pct = mo.Some(p.Num)
			return false
		}
		return true
	})

	if _, ok := pct.Get(); !ok {
		return mo.None[float64](), mo.None[string]()
	}
	return pct, mo.Some("five_hour")
}
