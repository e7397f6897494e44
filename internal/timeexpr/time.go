package timeexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseTime parses an absolute timestamp into Unix milliseconds. Integers
// are epoch values whose unit is inferred from magnitude; decimals are
// epoch seconds; anything else goes through dateparse in UTC.
func ParseTime(s string) (int64, error) {
	text := Unquote(strings.TrimSpace(s))
	if text == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return EpochToMs(n), nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return int64(f * 1000), nil
	}
	t, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// EpochToMs converts an epoch value of unknown unit to milliseconds:
// seconds below 1e11, milliseconds below 1e14, microseconds below 1e17,
// nanoseconds otherwise.
func EpochToMs(n int64) int64 {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return n * 1000
	case abs < 1e14:
		return n
	case abs < 1e17:
		return n / 1000
	default:
		return n / 1e6
	}
}

// FormatRFC3339 renders ms as an RFC 3339 UTC timestamp.
func FormatRFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

var relativeForms = []*regexp.Regexp{
	regexp.MustCompile(`^(?i)now\(?\)?\s*-\s*(.+)$`),
	regexp.MustCompile(`^(?i)(.+?)-ago$`),
	regexp.MustCompile(`^-\s*(.+)$`),
}

// ParseRelative recognizes "now() - 1h", "now-1h", "-1h" and OpenTSDB's
// "1h-ago", returning the lookback in milliseconds.
func ParseRelative(s string) (int64, bool) {
	text := Unquote(strings.TrimSpace(s))
	for _, re := range relativeForms {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		ms, err := ParseDuration(m[1])
		if err != nil || ms < 0 {
			return 0, false
		}
		return ms, true
	}
	return 0, false
}

// IsNow reports whether s is a now() reference in any dialect spelling.
func IsNow(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "now", "now()", "current_timestamp", "current_timestamp()":
		return true
	}
	return false
}
