package translate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// Graphite renders plans as Graphite render targets. Plans with a time
// range or output options render as a render query string,
// "target=...&from=...&until=...".
type Graphite struct{}

// NewGraphite returns the Graphite translator.
func NewGraphite() *Graphite { return &Graphite{} }

// Target implements Translator.
func (*Graphite) Target() queryir.Dialect { return queryir.Graphite }

var graphiteUnits = []timeexpr.Unit{
	{Ms: timeexpr.Day, Suffix: "d"},
	{Ms: timeexpr.Hour, Suffix: "h"},
	{Ms: timeexpr.Minute, Suffix: "min"},
	{Ms: timeexpr.Second, Suffix: "s"},
	{Ms: 1, Suffix: "ms"},
}

// graphiteDuration renders ms as "5min", "1h" or "30s".
func graphiteDuration(ms int64) string {
	n, u, ok := timeexpr.Largest(ms, graphiteUnits)
	if !ok {
		return "0s"
	}
	return strconv.FormatInt(n, 10) + u.Suffix
}

// graphiteAggNames are the consolidation names summarize, aggregate and
// the groupBy functions take.
var graphiteAggNames = map[queryir.AggKind]string{
	queryir.AggSum:      "sum",
	queryir.AggAvg:      "avg",
	queryir.AggMin:      "min",
	queryir.AggMax:      "max",
	queryir.AggCount:    "count",
	queryir.AggLast:     "last",
	queryir.AggLastRow:  "last",
	queryir.AggFirst:    "first",
	queryir.AggFirstRow: "first",
	queryir.AggMedian:   "median",
	queryir.AggStddev:   "stddev",
	queryir.AggSpread:   "range",
}

var graphiteSeriesFuncs = map[queryir.AggKind]string{
	queryir.AggSum:    "sumSeries",
	queryir.AggAvg:    "averageSeries",
	queryir.AggMin:    "minSeries",
	queryir.AggMax:    "maxSeries",
	queryir.AggCount:  "countSeries",
	queryir.AggStddev: "stddevSeries",
	queryir.AggSpread: "rangeOfSeries",
	queryir.AggMedian: "medianSeries",
}

func graphiteAggName(fn queryir.AggFunction) (string, bool) {
	if name, ok := graphiteAggNames[fn.Kind]; ok {
		return name, true
	}
	if fn.Kind == queryir.AggPercentile || fn.Kind == queryir.AggApercentile {
		return "p" + queryir.FormatFloat(fn.Param), true
	}
	return "", false
}

// Translate implements Translator.
func (g *Graphite) Translate(plan *queryir.QueryPlan) (string, error) {
	target, err := g.target(plan)
	if err != nil {
		return "", err
	}
	params := graphiteParams(plan)
	if len(params) == 0 {
		return target, nil
	}
	return "target=" + graphiteEscape(target) + "&" + strings.Join(params, "&"), nil
}

// target renders the series expression.
func (g *Graphite) target(plan *queryir.QueryPlan) (string, error) {
	src, err := primarySource(queryir.Graphite, plan)
	if err != nil {
		return "", err
	}
	var x string
	if src.Kind == queryir.SourceSubquery && src.Subquery != nil {
		if x, err = g.target(src.Subquery); err != nil {
			return "", err
		}
	} else {
		x = graphiteSeries(plan, src)
	}

	for _, f := range plan.Filters {
		if r, ok := f.Condition.(queryir.Regex); ok && r.Column == "name" {
			fn := "grep"
			if r.Negated {
				fn = "exclude"
			}
			x = fn + "(" + x + ", " + graphiteString(r.Pattern) + ")"
		}
	}
	if v, ok := plan.Hints.CustomValue("offset_ms"); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms != 0 {
			shift := graphiteDuration(ms)
			if ms < 0 {
				shift = "+" + graphiteDuration(-ms)
			}
			x = "timeShift(" + x + ", " + graphiteString(shift) + ")"
		}
	}

	aggs := plan.Aggregations
	if b, ok := bucketOf(plan); ok {
		x = graphiteFill(x, b.fill)
		fn := "sum"
		if len(aggs) > 0 {
			if name, ok := graphiteAggName(aggs[0].Function); ok {
				fn = name
				aggs = aggs[1:]
			}
		}
		x = "summarize(" + x + ", " + graphiteString(graphiteDuration(b.ms)) + ", " + graphiteString(fn)
		if v, _ := plan.Hints.CustomValue("align_to_from"); v == "true" {
			x += ", true"
		}
		x += ")"
	}

	grouped := false
	for i, a := range aggs {
		if i > 0 && !chained(aggs, i) {
			continue
		}
		var ok bool
		if !grouped {
			if x, ok = graphiteGroup(plan, a.Function, x); ok {
				grouped = true
				continue
			}
		}
		x = graphiteAggregate(plan, a.Function, x)
	}

	for _, t := range plan.Transformations {
		x = graphiteTransform(t.Op, x)
	}
	x = graphiteOrder(plan, x)
	if plan.Limit != nil {
		x = "limit(" + x + ", " + strconv.FormatInt(*plan.Limit, 10) + ")"
	}
	if fn, ok := plan.Hints.CustomValue("consolidate_by"); ok {
		x = "consolidateBy(" + x + ", " + graphiteString(fn) + ")"
	}
	return graphiteAlias(plan, x), nil
}

var graphitePath = regexp.MustCompile(`^[A-Za-z_*][A-Za-z0-9_.*:\-]*$`)

// graphiteSeries renders the source as a metric path, or as seriesByTag
// when the plan filters or groups on tags.
func graphiteSeries(plan *queryir.QueryPlan, src queryir.DataSource) string {
	var exprs []string
	if src.Name != "*" {
		exprs = append(exprs, graphiteString("name="+src.Name))
	}
	tagged := len(plan.Tags()) > 0
	for _, f := range plan.Filters {
		for _, e := range tagExpressions(f.Condition) {
			exprs = append(exprs, graphiteString(e))
			tagged = true
		}
	}
	if !tagged && graphitePath.MatchString(src.Name) {
		return src.Name
	}
	if len(exprs) == 0 {
		exprs = append(exprs, graphiteString("name=~.*"))
	}
	return "seriesByTag(" + strings.Join(exprs, ", ") + ")"
}

// tagExpressions renders c as seriesByTag expressions. Conditions on the
// series name are rendered by grep and exclude instead.
func tagExpressions(c queryir.Condition) []string {
	switch v := c.(type) {
	case queryir.And:
		var out []string
		for _, sub := range v.Conditions {
			out = append(out, tagExpressions(sub)...)
		}
		return out
	case queryir.Or:
		if col, pattern, ok := equalityAlternation(v); ok {
			return []string{col + "=~" + pattern}
		}
		return nil
	case queryir.Not:
		if n := negate(v.Condition); !isNot(n) {
			return tagExpressions(n)
		}
		return nil
	case queryir.Comparison:
		if isTimeColumn(v.Column) {
			return nil
		}
		val := plainString(v.Value)
		switch v.Op {
		case queryir.OpEq:
			return []string{v.Column + "=" + val}
		case queryir.OpNotEq:
			return []string{v.Column + "!=" + val}
		case queryir.OpLike:
			return []string{v.Column + "=~" + likeToRegex(val)}
		case queryir.OpNotLike:
			return []string{v.Column + "!=~" + likeToRegex(val)}
		}
	case queryir.Regex:
		if v.Column == "name" {
			return nil
		}
		if v.Negated {
			return []string{v.Column + "!=~" + v.Pattern}
		}
		return []string{v.Column + "=~" + v.Pattern}
	case queryir.In:
		if v.Negated {
			return []string{v.Column + "!=~" + inPattern(v.Values)}
		}
		return []string{v.Column + "=~" + inPattern(v.Values)}
	case queryir.IsNull:
		if v.Negated {
			return []string{v.Column + "!="}
		}
		return []string{v.Column + "="}
	}
	return nil
}

func graphiteFill(x string, f *queryir.Fill) string {
	if f == nil {
		return x
	}
	switch f.Mode {
	case queryir.FillPrevious:
		return "keepLastValue(" + x + ")"
	case queryir.FillValue:
		if n, ok := queryir.NumberOf(f.Value); ok {
			return "transformNull(" + x + ", " + queryir.FormatFloat(n) + ")"
		}
	}
	return x
}

// graphiteGroup renders the first cross-series aggregation of a grouped
// plan as groupByTags or groupByNode(s).
func graphiteGroup(plan *queryir.QueryPlan, fn queryir.AggFunction, x string) (string, bool) {
	name, ok := graphiteAggName(fn)
	if !ok {
		return x, false
	}
	var tags, nodes []string
	for _, gb := range plan.GroupBy {
		switch e := gb.Expr.(type) {
		case queryir.GroupTag:
			tags = append(tags, graphiteString(e.Name))
		case queryir.GroupColumn:
			tags = append(tags, graphiteString(e.Name))
		case queryir.GroupExpression:
			if n, ok := graphiteNode(e.Text); ok {
				nodes = append(nodes, n)
			}
		}
	}
	switch {
	case len(tags) > 0:
		return "groupByTags(" + x + ", " + graphiteString(name) + ", " + strings.Join(tags, ", ") + ")", true
	case len(nodes) == 1:
		return "groupByNode(" + x + ", " + nodes[0] + ", " + graphiteString(name) + ")", true
	case len(nodes) > 1:
		return "groupByNodes(" + x + ", " + graphiteString(name) + ", " + strings.Join(nodes, ", ") + ")", true
	}
	return x, false
}

// graphiteNode extracts n from a "node(n)" grouping.
func graphiteNode(text string) (string, bool) {
	if !strings.HasPrefix(text, "node(") || !strings.HasSuffix(text, ")") {
		return "", false
	}
	n := text[len("node(") : len(text)-1]
	if !isDigits(n) {
		return "", false
	}
	return n, true
}

func graphiteAggregate(plan *queryir.QueryPlan, fn queryir.AggFunction, x string) string {
	switch fn.Kind {
	case queryir.AggRate, queryir.AggIrate:
		return "perSecond(" + x + ")"
	case queryir.AggIncrease:
		return "nonNegativeDerivative(" + x + ")"
	case queryir.AggDelta, queryir.AggIdelta, queryir.AggDeriv:
		return "derivative(" + x + ")"
	case queryir.AggIntegral:
		return "integral(" + x + ")"
	case queryir.AggPercentile, queryir.AggApercentile:
		return "percentileOfSeries(" + x + ", " + queryir.FormatFloat(fn.Param) + ")"
	case queryir.AggTopK, queryir.AggBottomK:
		return graphiteRank(plan, fn, x)
	}
	if f, ok := graphiteSeriesFuncs[fn.Kind]; ok {
		return f + "(" + x + ")"
	}
	if name, ok := graphiteAggName(fn); ok {
		return "aggregate(" + x + ", " + graphiteString(name) + ")"
	}
	return x
}

var rankSuffixes = map[string]string{
	"average": "Average",
	"avg":     "Average",
	"max":     "Max",
	"min":     "Min",
	"current": "Current",
	"last":    "Current",
}

// graphiteRank renders topk and bottomk as highestX and lowestX, ranking
// by the rank_by hint when present.
func graphiteRank(plan *queryir.QueryPlan, fn queryir.AggFunction, x string) string {
	suffix := "Average"
	if by, ok := plan.Hints.CustomValue("rank_by"); ok {
		if s, ok := rankSuffixes[by]; ok {
			suffix = s
		}
	}
	prefix := "highest"
	if fn.Kind == queryir.AggBottomK {
		prefix = "lowest"
	}
	return prefix + suffix + "(" + x + ", " + strconv.FormatInt(fn.N, 10) + ")"
}

func graphiteTransform(op queryir.TransformOp, x string) string {
	switch o := op.(type) {
	case queryir.Math:
		switch o.Func {
		case queryir.MathScale:
			return "scale(" + x + ", " + queryir.FormatFloat(mathValue(o)) + ")"
		case queryir.MathShift:
			return "offset(" + x + ", " + queryir.FormatFloat(mathValue(o)) + ")"
		case queryir.MathPow:
			return "pow(" + x + ", " + queryir.FormatFloat(mathValue(o)) + ")"
		case queryir.MathAbs:
			return "absolute(" + x + ")"
		case queryir.MathSqrt:
			return "squareRoot(" + x + ")"
		case queryir.MathLog:
			base := math.E
			if o.Arg != nil {
				base = *o.Arg
			}
			return "logarithm(" + x + ", " + queryir.FormatFloat(base) + ")"
		}
	case queryir.Derivative:
		switch {
		case o.NonNegative && o.UnitMs == timeexpr.Second:
			return "perSecond(" + x + ")"
		case o.NonNegative:
			return "nonNegativeDerivative(" + x + ")"
		}
		return "derivative(" + x + ")"
	case queryir.Difference:
		if o.NonNegative {
			return "nonNegativeDerivative(" + x + ")"
		}
		return "derivative(" + x + ")"
	case queryir.MovingAverage:
		return "movingAverage(" + x + ", " + strconv.FormatInt(o.Points, 10) + ")"
	case queryir.CumulativeSum:
		return "integral(" + x + ")"
	case queryir.CustomTransform:
		if !isIdent(o.Name) {
			return x
		}
		args := []string{x}
		for _, v := range o.Args {
			args = append(args, graphiteLiteral(v))
		}
		return o.Name + "(" + strings.Join(args, ", ") + ")"
	}
	return x
}

func graphiteOrder(plan *queryir.QueryPlan, x string) string {
	if len(plan.OrderBy) == 0 {
		return x
	}
	o := plan.OrderBy[0]
	switch {
	case isTimeColumn(o.Column):
		return x
	case o.Column == "max" && !o.Ascending:
		return "sortByMaxima(" + x + ")"
	case o.Column == "min" && o.Ascending:
		return "sortByMinima(" + x + ")"
	case o.Column == "total" && !o.Ascending:
		return "sortByTotal(" + x + ")"
	case o.Column == "name":
		if o.Ascending {
			return "sortByName(" + x + ")"
		}
		return "sortByName(" + x + ", false, true)"
	}
	fn := "average"
	if _, ok := rankSuffixes[o.Column]; ok || o.Column == "total" {
		fn = o.Column
	}
	if o.Ascending {
		return "sortBy(" + x + ", " + graphiteString(fn) + ")"
	}
	return "sortBy(" + x + ", " + graphiteString(fn) + ", true)"
}

// graphiteAlias renders output naming: the alias function the plan came
// with, or the first aggregation's alias.
func graphiteAlias(plan *queryir.QueryPlan, x string) string {
	if plan.OutputFormat != nil {
		name, hasName := plan.OutputFormat.Options["alias"]
		switch fn := plan.OutputFormat.Options["alias_function"]; {
		case strings.EqualFold(fn, "aliasByMetric"):
			return "aliasByMetric(" + x + ")"
		case strings.EqualFold(fn, "aliasByNode"), strings.EqualFold(fn, "aliasByTags"):
			args := []string{x}
			for _, part := range strings.Split(name, ",") {
				if isDigits(part) {
					args = append(args, part)
				} else if part != "" {
					args = append(args, graphiteString(part))
				}
			}
			return fn + "(" + strings.Join(args, ", ") + ")"
		case fn == "" && hasName && name != "":
			return "alias(" + x + ", " + graphiteString(name) + ")"
		}
	}
	for _, a := range plan.Aggregations {
		if a.Alias != "" {
			return "alias(" + x + ", " + graphiteString(a.Alias) + ")"
		}
	}
	return x
}

// graphiteParams renders the render-query parameters other than target.
func graphiteParams(plan *queryir.QueryPlan) []string {
	var params []string
	s := timeSpan(plan)
	if _, hasRange := lookback(plan); hasRange && plan.TimeRange == nil {
		// A PromQL-style lookback is not a render window.
		s = span{}
	}
	if s.lower != nil {
		params = append(params, "from="+graphiteTime(*s.lower))
	}
	if s.upper != nil {
		params = append(params, "until="+graphiteTime(*s.upper))
	}
	if plan.OutputFormat != nil && plan.OutputFormat.ResultType != "" {
		params = append(params, "format="+graphiteEscape(plan.OutputFormat.ResultType))
	}
	for _, key := range []string{"maxDataPoints", "tz", "noNullPoints", "cacheTimeout"} {
		if v, ok := plan.Hints.CustomValue(key); ok {
			params = append(params, key+"="+graphiteEscape(v))
		}
	}
	return params
}

func graphiteTime(b queryir.Bound) string {
	switch {
	case !b.Relative:
		return strconv.FormatInt(b.Ms/1000, 10)
	case b.Ms == 0:
		return "now"
	case b.Ms < 0:
		return "-" + graphiteDuration(-b.Ms)
	}
	return "now" + graphiteEscape("+") + graphiteDuration(b.Ms)
}

// graphiteEscape escapes the characters that would end or alter a query
// parameter value.
var graphiteEscape = strings.NewReplacer(
	"%", "%25",
	"&", "%26",
	"+", "%2B",
	"#", "%23",
	";", "%3B",
).Replace

func graphiteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func graphiteLiteral(v queryir.Value) string {
	switch x := v.(type) {
	case queryir.BoolValue:
		if x {
			return "true"
		}
		return "false"
	case nil, queryir.NullValue:
		return "None"
	}
	if n, ok := queryir.NumberOf(v); ok {
		return queryir.FormatFloat(n)
	}
	return graphiteString(plainString(v))
}
