package retry

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hintPhrase = regexp.MustCompile(`(?i)retry(?:[_ ]?delay|[_ -]?after)?["'\s:=]*(?:in\s+)?(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)?`)

// ParseHint understands the retry-after shapes seen from LLM gateways:
// plain seconds ("30", "1.5"), Go durations ("2m", "1500ms"), HTTP dates,
// and phrases such as "retry in 12.5s" or `"retryDelay": "12s"`.
func ParseHint(hint string, now time.Time) (time.Duration, bool) {
	h := strings.TrimSpace(hint)
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(h, 64); err == nil {
		return seconds(secs)
	}
	if d, err := time.ParseDuration(h); err == nil {
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	if t, err := http.ParseTime(h); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	if m := hintPhrase.FindStringSubmatch(h); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		if strings.EqualFold(m[2], "ms") {
			return scaled(v, time.Millisecond)
		}
		return seconds(v)
	}
	return 0, false
}

func seconds(v float64) (time.Duration, bool) {
	return scaled(v, time.Second)
}

// scaled converts v units to a Duration. Values a Duration cannot hold are
// rejected rather than wrapped, so the caller falls back to its default wait.
func scaled(v float64, unit time.Duration) (time.Duration, bool) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	d := v * float64(unit)
	if d >= math.MaxInt64 {
		return 0, false
	}
	return time.Duration(d), true
}
