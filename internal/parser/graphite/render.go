package graphite

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

func isRenderQuery(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "target=") ||
		strings.HasPrefix(t, "?") ||
		strings.HasPrefix(t, "/render") ||
		strings.Contains(t, "&target=")
}

// parseRenderQuery reads target, from, until and the output parameters of
// a /render request.
func parseRenderQuery(text string) (*queryir.QueryPlan, error) {
	const d = queryir.Graphite
	q := strings.TrimSpace(text)
	q = strings.TrimPrefix(q, "/render")
	q = strings.TrimPrefix(q, "?")
	values, err := url.ParseQuery(q)
	if err != nil {
		return nil, queryir.NewParseError(d, "invalid render query: %v", err)
	}
	targets := values["target"]
	if len(targets) == 0 || strings.TrimSpace(targets[0]) == "" {
		return nil, queryir.NewParseError(d, "target is required")
	}
	root, err := parseTarget(targets[0])
	if err != nil {
		return nil, err
	}
	plan := queryir.NewPlan(d, text)
	if err := lowerTarget(plan, root, targets[0]); err != nil {
		return nil, err
	}
	for _, extra := range targets[1:] {
		if _, err := parseTarget(extra); err != nil {
			return nil, err
		}
		plan.Hints.SetCustom("target", extra)
	}

	var bounds queryir.TimeBounds
	if from := values.Get("from"); from != "" {
		b, ok := Time(from)
		if !ok {
			return nil, queryir.NewParseError(d, "invalid from %q", from)
		}
		bounds.SetLower(b)
	}
	if until := values.Get("until"); until != "" {
		b, ok := Time(until)
		if !ok {
			return nil, queryir.NewParseError(d, "invalid until %q", until)
		}
		bounds.SetUpper(b)
	}
	plan.TimeRange = bounds.Range()

	if format := values.Get("format"); format != "" {
		if plan.OutputFormat == nil {
			plan.OutputFormat = &queryir.OutputFormat{}
		}
		plan.OutputFormat.ResultType = format
	}
	for _, key := range []string{"maxDataPoints", "tz", "noNullPoints", "cacheTimeout"} {
		if v := values.Get(key); v != "" {
			plan.Hints.SetCustom(key, v)
		}
	}
	return plan, nil
}

var (
	durationShape = regexp.MustCompile(`^(?:\s*\d+\s*[a-zA-Z]+)+\s*$`)
	durationPart  = regexp.MustCompile(`(\d+)\s*([a-zA-Z]+)`)
)

// Duration parses a Graphite interval such as "5min", "1h", "2d" or
// "1w3d". Units match by prefix: s, min, h, d, w, mon, y; a bare "m" is
// minutes.
func Duration(s string) (int64, error) {
	if !durationShape.MatchString(s) {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	var total int64
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		unit, ok := unitMs(strings.ToLower(m[2]))
		if !ok {
			return 0, fmt.Errorf("invalid interval unit %q in %q", m[2], s)
		}
		total += n * unit
	}
	return total, nil
}

func unitMs(u string) (int64, bool) {
	switch {
	case u == "m":
		return timeexpr.Minute, true
	case u == "ms":
		return 1, true
	case strings.HasPrefix(u, "s"):
		return timeexpr.Second, true
	case strings.HasPrefix(u, "min"):
		return timeexpr.Minute, true
	case strings.HasPrefix(u, "h"):
		return timeexpr.Hour, true
	case strings.HasPrefix(u, "d"):
		return timeexpr.Day, true
	case strings.HasPrefix(u, "w"):
		return timeexpr.Week, true
	case strings.HasPrefix(u, "mon"):
		return timeexpr.Month, true
	case strings.HasPrefix(u, "y"):
		return timeexpr.Year, true
	}
	return 0, false
}

// Time parses a from/until value: "now", "-1h", "now-30min", epoch
// seconds, "HH:MM_YYYYMMDD", "YYYYMMDD" or any date dateparse accepts.
func Time(s string) (queryir.Bound, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return queryir.Bound{}, false
	}
	if timeexpr.IsNow(t) {
		return queryir.Now, true
	}
	rel := t
	if strings.HasPrefix(strings.ToLower(rel), "now") {
		rel = rel[3:]
	}
	if rel != "" && (rel[0] == '-' || rel[0] == '+') {
		ms, err := Duration(rel[1:])
		if err != nil {
			return queryir.Bound{}, false
		}
		if rel[0] == '-' {
			ms = -ms
		}
		return queryir.Bound{Ms: ms, Relative: true}, true
	}
	for _, layout := range []string{"15:04_20060102", "20060102"} {
		if ts, err := time.ParseInLocation(layout, t, time.UTC); err == nil {
			return queryir.Bound{Ms: ts.UnixMilli()}, true
		}
	}
	ms, err := timeexpr.ParseTime(t)
	if err != nil {
		return queryir.Bound{}, false
	}
	return queryir.Bound{Ms: ms}, true
}
