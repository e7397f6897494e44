// Package timeexpr converts the duration and timestamp literals of every
// supported dialect to and from milliseconds.
package timeexpr

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Millisecond multiples.
const (
	Second int64 = 1000
	Minute       = 60 * Second
	Hour         = 60 * Minute
	Day          = 24 * Hour
	Week         = 7 * Day
	Month        = 30 * Day
	Year         = 365 * Day
)

// ParseDuration parses a duration literal into milliseconds. Accepted
// forms, tried in order:
//   - ISO 8601 ("PT5M", "P1D", "P1W")
//   - Prometheus ("5m", "1d", "2w", "1y", "1h30m")
//   - Go / Flux composite ("1.5h", "500us", "1h30m15s")
//   - SQL interval text ("5 minutes", "1 hour", "2 days 3 hours", "1 HOUR")
//
// A leading '-' negates the result. Surrounding quotes are ignored.
// Sub-millisecond precision is truncated.
func ParseDuration(s string) (int64, error) {
	text := Unquote(strings.TrimSpace(s))
	if text == "" {
		return 0, fmt.Errorf("empty duration")
	}
	sign := int64(1)
	switch text[0] {
	case '-':
		sign = -1
		text = strings.TrimSpace(text[1:])
	case '+':
		text = strings.TrimSpace(text[1:])
	}
	ms, err := parseUnsigned(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return sign * ms, nil
}

func parseUnsigned(text string) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("missing magnitude")
	}
	if text[0] == 'P' || text[0] == 'p' {
		return ParseISO8601(text)
	}
	if d, err := model.ParseDuration(text); err == nil {
		return int64(time.Duration(d) / time.Millisecond), nil
	}
	if d, err := str2duration.ParseDuration(text); err == nil {
		return int64(d / time.Millisecond), nil
	}
	return ParseInterval(text)
}

var isoDuration = regexp.MustCompile(`^(?i)P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISO8601 parses an ISO 8601 period such as "PT5M" or "P1DT12H".
// Months count as 30 days and years as 365.
func ParseISO8601(text string) (int64, error) {
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil || text == "P" || strings.EqualFold(text, "PT") {
		return 0, fmt.Errorf("invalid ISO 8601 period %q", text)
	}
	units := []int64{Year, Month, Week, Day, Hour, Minute, Second}
	var total float64
	found := false
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, err
		}
		total += f * float64(u)
		found = true
	}
	if !found {
		return 0, fmt.Errorf("invalid ISO 8601 period %q", text)
	}
	return int64(math.Round(total)), nil
}

var intervalPart = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([a-z]+)`)

// ParseInterval parses SQL interval text: "5 minutes", "1 HOUR",
// "2 days 3 hours", "30s".
func ParseInterval(text string) (int64, error) {
	t := strings.TrimSpace(text)
	parts := intervalPart.FindAllStringSubmatchIndex(t, -1)
	if len(parts) == 0 {
		return 0, fmt.Errorf("unrecognized duration %q", text)
	}
	var total float64
	covered := 0
	for _, p := range parts {
		if strings.TrimSpace(t[covered:p[0]]) != "" {
			return 0, fmt.Errorf("unrecognized duration %q", text)
		}
		covered = p[1]
		f, err := strconv.ParseFloat(t[p[2]:p[3]], 64)
		if err != nil {
			return 0, err
		}
		unit, ok := UnitMs(t[p[4]:p[5]])
		if !ok {
			return 0, fmt.Errorf("unknown unit %q in %q", t[p[4]:p[5]], text)
		}
		total += f * float64(unit)
	}
	if strings.TrimSpace(t[covered:]) != "" {
		return 0, fmt.Errorf("unrecognized duration %q", text)
	}
	return int64(math.Round(total)), nil
}

// UnitMs returns the length of a named unit in milliseconds. It accepts
// abbreviations and singular/plural words in any case.
func UnitMs(unit string) (int64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "ms", "msec", "msecs", "millisecond", "milliseconds", "a":
		return 1, true
	case "s", "sec", "secs", "second", "seconds":
		return Second, true
	case "m", "min", "mins", "minute", "minutes", "mi":
		return Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return Hour, true
	case "d", "day", "days":
		return Day, true
	case "w", "wk", "week", "weeks":
		return Week, true
	case "mon", "month", "months", "n":
		return Month, true
	case "y", "yr", "year", "years":
		return Year, true
	default:
		return 0, false
	}
}

// Unquote strips one layer of matching single, double or back quotes.
func Unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '\'' || first == '"' || first == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
