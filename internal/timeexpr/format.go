package timeexpr

import (
	"strconv"
	"strings"
)

// Unit is one step of a duration formatter's unit ladder.
type Unit struct {
	Ms     int64
	Suffix string
}

// ShortUnits is the d/h/m/s ladder shared by InfluxQL, PromQL, Flux,
// TDengine and QuestDB literals.
var ShortUnits = []Unit{
	{Day, "d"},
	{Hour, "h"},
	{Minute, "m"},
	{Second, "s"},
}

// Largest returns ms expressed in the largest unit of ladder that divides
// it exactly. ok is false when no unit divides ms.
func Largest(ms int64, ladder []Unit) (n int64, u Unit, ok bool) {
	if ms == 0 {
		return 0, Unit{}, false
	}
	for _, unit := range ladder {
		if ms%unit.Ms == 0 {
			return ms / unit.Ms, unit, true
		}
	}
	return 0, Unit{}, false
}

// FormatShort renders ms as "<n><suffix>" with the largest exact unit,
// falling back to subSecond (e.g. "ms" or "a") for remainders below one
// second. Zero renders as "0s".
func FormatShort(ms int64, subSecond string) string {
	if ms == 0 {
		return "0s"
	}
	neg := ms < 0
	if neg {
		ms = -ms
	}
	var out string
	if n, u, ok := Largest(ms, ShortUnits); ok {
		out = strconv.FormatInt(n, 10) + u.Suffix
	} else {
		out = strconv.FormatInt(ms, 10) + subSecond
	}
	if neg {
		return "-" + out
	}
	return out
}

// FormatISO8601 renders ms as an ISO 8601 period, e.g. "PT5M" or "P1D".
func FormatISO8601(ms int64) string {
	if ms <= 0 {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteString("P")
	if ms%Day == 0 {
		b.WriteString(strconv.FormatInt(ms/Day, 10))
		b.WriteString("D")
		return b.String()
	}
	if days := ms / Day; days > 0 {
		b.WriteString(strconv.FormatInt(days, 10))
		b.WriteString("D")
		ms %= Day
	}
	b.WriteString("T")
	if h := ms / Hour; h > 0 {
		b.WriteString(strconv.FormatInt(h, 10))
		b.WriteString("H")
		ms %= Hour
	}
	if m := ms / Minute; m > 0 {
		b.WriteString(strconv.FormatInt(m, 10))
		b.WriteString("M")
		ms %= Minute
	}
	if ms > 0 {
		if ms%Second == 0 {
			b.WriteString(strconv.FormatInt(ms/Second, 10))
		} else {
			b.WriteString(strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64))
		}
		b.WriteString("S")
	}
	return b.String()
}

var intervalWords = []struct {
	ms   int64
	word string
}{
	{Day, "day"},
	{Hour, "hour"},
	{Minute, "minute"},
	{Second, "second"},
	{1, "millisecond"},
}

// FormatInterval renders ms as SQL interval text with the largest exact
// unit, e.g. "5 minutes" or "1 hour".
func FormatInterval(ms int64) string {
	n, word := IntervalUnit(ms)
	if n == 1 {
		return "1 " + word
	}
	return strconv.FormatInt(n, 10) + " " + word + "s"
}

// IntervalUnit returns ms in the largest exact unit word (singular).
func IntervalUnit(ms int64) (int64, string) {
	if ms == 0 {
		return 0, "second"
	}
	for _, u := range intervalWords {
		if ms%u.ms == 0 {
			return ms / u.ms, u.word
		}
	}
	return ms, "millisecond"
}
