package translate

import (
	"regexp"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
)

// Translator renders plans in one target dialect.
type Translator interface {
	Target() queryir.Dialect
	Translate(plan *queryir.QueryPlan) (string, error)
}

// Builtins returns a translator for every dialect that has one, in
// priority order.
func Builtins() []Translator {
	return []Translator{
		NewClickHouse(),
		NewQuestDB(),
		NewTDengine(),
		NewTimescale(),
		NewDruidSQL(),
		NewInfluxQL(),
		NewFlux(),
		NewMetricsQL(),
		NewPromQL(),
		NewGraphite(),
		NewOpenTSDB(),
		NewSQL(),
	}
}

// primarySource returns the plan's first source or the error every back end
// reports for a plan without one.
func primarySource(target queryir.Dialect, plan *queryir.QueryPlan) (queryir.DataSource, error) {
	if plan == nil {
		return queryir.DataSource{}, queryir.Unsupported(target, "source", "nil plan")
	}
	src, ok := plan.PrimarySource()
	if !ok || (src.Name == "" && src.Subquery == nil) {
		return queryir.DataSource{}, queryir.Unsupported(target, "source", "plan has no source")
	}
	return src, nil
}

// span is a plan's time range split back into bounds.
type span struct {
	lower *queryir.Bound
	upper *queryir.Bound
}

func (s span) empty() bool { return s.lower == nil && s.upper == nil }

// timeSpan inverts queryir.TimeBounds.Range. A plan with no time range but
// a RangeWindow gets the window as its lookback.
func timeSpan(plan *queryir.QueryPlan) span {
	switch r := plan.TimeRange.(type) {
	case queryir.Absolute:
		return span{lower: &queryir.Bound{Ms: r.StartMs}, upper: &queryir.Bound{Ms: r.EndMs}}
	case queryir.Relative:
		s := span{lower: &queryir.Bound{Ms: -r.DurationMs, Relative: true}}
		if r.AnchorMs != nil {
			s.upper = &queryir.Bound{Ms: *r.AnchorMs}
		}
		return s
	case queryir.Since:
		return span{lower: &queryir.Bound{Ms: r.StartMs}}
	case queryir.Until:
		return span{upper: &queryir.Bound{Ms: r.EndMs}}
	}
	if d, ok := lookback(plan); ok {
		return span{lower: &queryir.Bound{Ms: -d, Relative: true}}
	}
	return span{}
}

// lookback returns the duration of the plan's first RangeWindow.
func lookback(plan *queryir.QueryPlan) (int64, bool) {
	for _, w := range plan.Windows {
		if r, ok := w.Kind.(queryir.RangeWindow); ok && r.DurationMs > 0 {
			return r.DurationMs, true
		}
	}
	return 0, false
}

// bucket is the plan's time bucketing: an interval or sample-by window, or
// failing that a TimeBucket grouping.
type bucket struct {
	ms       int64
	offsetMs int64
	sliding  *int64
	column   string
	fill     *queryir.Fill
	align    string
	sampleBy bool
}

func bucketOf(plan *queryir.QueryPlan) (bucket, bool) {
	for _, w := range plan.Windows {
		switch k := w.Kind.(type) {
		case queryir.IntervalWindow:
			if k.DurationMs > 0 {
				return bucket{ms: k.DurationMs, offsetMs: k.OffsetMs, sliding: k.SlidingMs, fill: w.Fill, column: bucketColumn(plan)}, true
			}
		case queryir.SampleByWindow:
			if k.IntervalMs > 0 {
				return bucket{ms: k.IntervalMs, fill: w.Fill, align: k.Align, sampleBy: true, column: bucketColumn(plan)}, true
			}
		}
	}
	for _, g := range plan.GroupBy {
		if tb, ok := g.Expr.(queryir.TimeBucket); ok && tb.IntervalMs > 0 {
			return bucket{ms: tb.IntervalMs, column: tb.Column}, true
		}
	}
	return bucket{}, false
}

func bucketColumn(plan *queryir.QueryPlan) string {
	for _, g := range plan.GroupBy {
		if tb, ok := g.Expr.(queryir.TimeBucket); ok {
			return tb.Column
		}
	}
	return ""
}

// chained reports whether aggregation i applies to the result of i-1.
func chained(aggs []queryir.Aggregation, i int) bool {
	return i > 0 && aggs[i].Column == ""
}

// negate pushes a negation into c.
func negate(c queryir.Condition) queryir.Condition {
	switch v := c.(type) {
	case queryir.Comparison:
		v.Op = v.Op.Negate()
		return v
	case queryir.Regex:
		v.Negated = !v.Negated
		return v
	case queryir.In:
		v.Negated = !v.Negated
		return v
	case queryir.Between:
		v.Negated = !v.Negated
		return v
	case queryir.IsNull:
		v.Negated = !v.Negated
		return v
	case queryir.And:
		out := make([]queryir.Condition, len(v.Conditions))
		for i, sub := range v.Conditions {
			out[i] = negate(sub)
		}
		return queryir.Or{Conditions: out}
	case queryir.Or:
		out := make([]queryir.Condition, len(v.Conditions))
		for i, sub := range v.Conditions {
			out[i] = negate(sub)
		}
		return queryir.And{Conditions: out}
	case queryir.Not:
		return v.Condition
	}
	return c
}

// likeToRegex converts a LIKE pattern to an anchored regular expression.
func likeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			}
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// inPattern returns a regex alternation matching any of vals exactly.
func inPattern(vals []queryir.Value) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, regexp.QuoteMeta(plainString(v)))
	}
	return strings.Join(parts, "|")
}

// plainString renders v without quoting.
func plainString(v queryir.Value) string {
	if s, ok := v.(queryir.StringValue); ok {
		return string(s)
	}
	if v == nil {
		return ""
	}
	return v.String()
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isIdent(s string) bool { return identPattern.MatchString(s) }

// valueColumn defaults an aggregation's empty column.
func valueColumn(col string) string {
	if col == "" {
		return "value"
	}
	return col
}
