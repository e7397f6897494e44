package translate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/prometheus/prometheus/pkg/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// PromQL renders plans as PromQL expressions, or MetricsQL when built by
// NewMetricsQL.
type PromQL struct {
	dialect   queryir.Dialect
	metricsql bool
	// DefaultRangeMs is the range given to range functions when the plan
	// has no window or time range to take one from.
	DefaultRangeMs int64
}

// NewPromQL returns the PromQL translator.
func NewPromQL() *PromQL {
	return &PromQL{dialect: queryir.PromQL, DefaultRangeMs: 5 * timeexpr.Minute}
}

// NewMetricsQL returns the MetricsQL translator. Its output is PromQL plus
// keep_metric_names on function results, or-filters inside selectors,
// "limit N" after aggregations and the MetricsQL-only rollups.
func NewMetricsQL() *PromQL {
	return &PromQL{dialect: queryir.MetricsQL, metricsql: true, DefaultRangeMs: 5 * timeexpr.Minute}
}

// Target implements Translator.
func (p *PromQL) Target() queryir.Dialect { return p.dialect }

// promExpr is an expression under construction.
type promExpr struct {
	text string
	// mods is the offset/@ suffix of a bare selector, kept apart so a
	// range can go between the selector and its modifiers.
	mods string

	selector  bool
	call      bool
	binary    bool
	aggregate bool
}

func (e promExpr) instant() string { return e.text + e.mods }

// ranged renders e as a range vector: a range selector, or a subquery
// when e is already computed.
func (e promExpr) ranged(d string) string {
	if e.selector {
		return e.text + "[" + d + "]" + e.mods
	}
	if e.binary {
		return "(" + e.text + ")[" + d + ":]"
	}
	return e.text + "[" + d + ":]"
}

func promCall(name string, args ...string) promExpr {
	return promExpr{text: name + "(" + strings.Join(args, ", ") + ")", call: true}
}

// Translate implements Translator.
func (p *PromQL) Translate(plan *queryir.QueryPlan) (string, error) {
	src, err := primarySource(p.dialect, plan)
	if err != nil {
		return "", err
	}
	var x promExpr
	if src.Kind == queryir.SourceSubquery && src.Subquery != nil {
		inner, err := p.Translate(src.Subquery)
		if err != nil {
			return "", err
		}
		x = promExpr{text: inner, binary: true}
	} else {
		x = p.selector(plan)
	}

	d := promDuration(p.rangeMs(plan))
	x = p.aggregations(plan, x, d)
	if p.metricsql && x.aggregate && plan.Limit != nil && *plan.Limit > 0 && len(plan.OrderBy) == 0 {
		x.text += " limit " + strconv.FormatInt(*plan.Limit, 10)
	}
	for _, t := range plan.Transformations {
		x = p.transform(t.Op, x, d)
	}
	x = p.ordering(plan, x)

	out := x.instant()
	if p.metricsql && x.call {
		out += " keep_metric_names"
	}
	return out, nil
}

// rangeMs picks the range for range functions: the plan's RangeWindow,
// its bucket width, the width of its time range, or the default.
func (p *PromQL) rangeMs(plan *queryir.QueryPlan) int64 {
	if d, ok := lookback(plan); ok {
		return d
	}
	if b, ok := bucketOf(plan); ok {
		return b.ms
	}
	s := timeSpan(plan)
	switch {
	case s.lower != nil && s.lower.Relative && s.lower.Ms < 0 && (s.upper == nil || s.upper.Relative):
		d := -s.lower.Ms
		if s.upper != nil {
			d += s.upper.Ms
		}
		if d > 0 {
			return d
		}
	case s.lower != nil && s.upper != nil && !s.lower.Relative && !s.upper.Relative && s.upper.Ms > s.lower.Ms:
		return s.upper.Ms - s.lower.Ms
	}
	return p.DefaultRangeMs
}

func (p *PromQL) selector(plan *queryir.QueryPlan) promExpr {
	var names []string
	for _, s := range plan.Sources {
		if s.Kind != queryir.SourceSubquery && s.Name != "" && s.Name != "*" {
			names = append(names, s.Name)
		}
	}
	var matchers []string
	name := ""
	switch len(names) {
	case 0:
	case 1:
		if metricName.MatchString(names[0]) {
			name = names[0]
		} else {
			matchers = append(matchers, labels.MetricName+"="+strconv.Quote(names[0]))
		}
	default:
		vals := make([]queryir.Value, len(names))
		for i, n := range names {
			vals[i] = queryir.StringValue(n)
		}
		matchers = append(matchers, labels.MetricName+"=~"+strconv.Quote(inPattern(vals)))
	}
	for _, f := range plan.Filters {
		matchers = append(matchers, p.matchers(f.Condition)...)
	}
	if name == "" && len(matchers) == 0 {
		matchers = append(matchers, labels.MetricName+`=~".+"`)
	}

	text := name
	if len(matchers) > 0 || name == "" {
		text += "{" + strings.Join(matchers, ", ") + "}"
	}
	return promExpr{text: text, mods: promModifiers(plan), selector: true}
}

// promModifiers renders the offset hint and an absolute end as @.
func promModifiers(plan *queryir.QueryPlan) string {
	var mods string
	if v, ok := plan.Hints.CustomValue("offset_ms"); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			mods += " offset " + promDuration(ms)
		}
	}
	if s := timeSpan(plan); s.upper != nil && !s.upper.Relative {
		mods += " @ " + strconv.FormatFloat(float64(s.upper.Ms)/1000, 'f', -1, 64)
	}
	return mods
}

// matchers renders c as label matchers. Conditions with no matcher form
// render nothing.
func (p *PromQL) matchers(c queryir.Condition) []string {
	switch v := c.(type) {
	case queryir.And:
		var out []string
		for _, sub := range v.Conditions {
			out = append(out, p.matchers(sub)...)
		}
		return out
	case queryir.Or:
		if m, ok := orMatcher(v); ok {
			return []string{m}
		}
		if p.metricsql {
			groups := make([]string, 0, len(v.Conditions))
			for _, sub := range v.Conditions {
				ms := p.matchers(sub)
				if len(ms) == 0 {
					return nil
				}
				groups = append(groups, strings.Join(ms, ", "))
			}
			return []string{strings.Join(groups, " or ")}
		}
		return nil
	case queryir.Not:
		if n := negate(v.Condition); !isNot(n) {
			return p.matchers(n)
		}
		return nil
	}
	if m, ok := matcher(c); ok {
		return []string{m}
	}
	return nil
}

func isNot(c queryir.Condition) bool {
	_, ok := c.(queryir.Not)
	return ok
}

func matcher(c queryir.Condition) (string, bool) {
	var label, op, value string
	switch v := c.(type) {
	case queryir.Comparison:
		if isTimeColumn(v.Column) {
			return "", false
		}
		label, value = v.Column, plainString(v.Value)
		switch v.Op {
		case queryir.OpEq:
			op = "="
		case queryir.OpNotEq:
			op = "!="
		case queryir.OpLike:
			op, value = "=~", likeToRegex(value)
		case queryir.OpNotLike:
			op, value = "!~", likeToRegex(value)
		default:
			return "", false
		}
	case queryir.Regex:
		label, op, value = v.Column, "=~", v.Pattern
		if v.Negated {
			op = "!~"
		}
	case queryir.In:
		label, op, value = v.Column, "=~", inPattern(v.Values)
		if v.Negated {
			op = "!~"
		}
	case queryir.IsNull:
		label, op = v.Column, "="
		if v.Negated {
			op = "!="
		}
	default:
		return "", false
	}
	return promLabel(label) + op + strconv.Quote(value), true
}

// orMatcher folds a disjunction of equalities on one label into a regex.
func orMatcher(o queryir.Or) (string, bool) {
	label, pattern, ok := equalityAlternation(o)
	if !ok {
		return "", false
	}
	return promLabel(label) + "=~" + strconv.Quote(pattern), true
}

// equalityAlternation matches col = a OR col = b ... and returns col and
// the regex alternation of the values.
func equalityAlternation(o queryir.Or) (string, string, bool) {
	label := ""
	var vals []queryir.Value
	for _, sub := range o.Conditions {
		cmp, ok := sub.(queryir.Comparison)
		if !ok || cmp.Op != queryir.OpEq || (label != "" && cmp.Column != label) {
			return "", "", false
		}
		label = cmp.Column
		vals = append(vals, cmp.Value)
	}
	if label == "" {
		return "", "", false
	}
	return label, inPattern(vals), true
}

var (
	metricName     = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	invalidLabelCh = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

// promLabel maps a column name onto the label-name alphabet.
func promLabel(name string) string {
	s := invalidLabelCh.ReplaceAllString(name, "_")
	switch {
	case s == "":
		return "_"
	case s[0] >= '0' && s[0] <= '9':
		return "_" + s
	}
	return s
}

// aggregations applies the plan's aggregations innermost first. The first
// aggregation of a windowed plan is a time aggregation (X_over_time); the
// rest reduce across series, and the first of those carries the grouping.
func (p *PromQL) aggregations(plan *queryir.QueryPlan, x promExpr, d string) promExpr {
	_, windowed := lookback(plan)
	if _, ok := bucketOf(plan); ok {
		windowed = true
	}
	grouping := p.grouping(plan)
	grouped := false
	for i, a := range plan.Aggregations {
		if i > 0 && !chained(plan.Aggregations, i) {
			// A second independent column has no place in one expression.
			continue
		}
		fn := a.Function
		if name, ok := promRangeFunctions[fn.Kind]; ok {
			args := []string{x.ranged(d)}
			for _, v := range a.Args {
				if n, ok := queryir.NumberOf(v); ok {
					args = append(args, queryir.FormatFloat(n))
				}
			}
			x = promCall(name, args...)
			continue
		}
		if i == 0 && windowed {
			if next, ok := p.overTime(fn, x, d); ok {
				x = next
				continue
			}
		}
		by := ""
		if !grouped {
			by, grouped = grouping, true
		}
		x = p.operator(a, x, by)
	}
	if !grouped && grouping != "" && len(plan.Aggregations) > 0 {
		// Grouped time aggregation: reduce the per-series results by the
		// grouping with the same function.
		if op, ok := promOperators[plan.Aggregations[0].Function.Kind]; ok {
			x = promExpr{text: op + grouping + " (" + x.instant() + ")", aggregate: true}
		}
	}
	return x
}

// grouping renders " by (a, b)" or " without (a)".
func (p *PromQL) grouping(plan *queryir.QueryPlan) string {
	if v, ok := plan.Hints.CustomValue("without"); ok && v != "" {
		return " without (" + strings.Join(promLabels(strings.Split(v, ",")), ", ") + ")"
	}
	tags := plan.Tags()
	if len(tags) == 0 {
		return ""
	}
	return " by (" + strings.Join(promLabels(tags), ", ") + ")"
}

func promLabels(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, promLabel(n))
		}
	}
	return out
}

var promRangeFunctions = map[queryir.AggKind]string{
	queryir.AggRate:          "rate",
	queryir.AggIrate:         "irate",
	queryir.AggIncrease:      "increase",
	queryir.AggDelta:         "delta",
	queryir.AggIdelta:        "idelta",
	queryir.AggDeriv:         "deriv",
	queryir.AggPredictLinear: "predict_linear",
	queryir.AggResets:        "resets",
	queryir.AggChanges:       "changes",
}

var promOverTime = map[queryir.AggKind]string{
	queryir.AggAvg:      "avg_over_time",
	queryir.AggSum:      "sum_over_time",
	queryir.AggMin:      "min_over_time",
	queryir.AggMax:      "max_over_time",
	queryir.AggCount:    "count_over_time",
	queryir.AggStddev:   "stddev_over_time",
	queryir.AggVariance: "stdvar_over_time",
	queryir.AggLast:     "last_over_time",
	queryir.AggLastRow:  "last_over_time",
}

// metricsqlOverTime are the rollups only MetricsQL has.
var metricsqlOverTime = map[queryir.AggKind]string{
	queryir.AggMedian:        "median_over_time",
	queryir.AggMode:          "mode_over_time",
	queryir.AggFirst:         "first_over_time",
	queryir.AggFirstRow:      "first_over_time",
	queryir.AggCountDistinct: "distinct_over_time",
	queryir.AggIntegral:      "integrate",
}

func (p *PromQL) overTime(fn queryir.AggFunction, x promExpr, d string) (promExpr, bool) {
	if name, ok := promOverTime[fn.Kind]; ok {
		return promCall(name, x.ranged(d)), true
	}
	if p.metricsql {
		if name, ok := metricsqlOverTime[fn.Kind]; ok {
			return promCall(name, x.ranged(d)), true
		}
	}
	switch fn.Kind {
	case queryir.AggPercentile, queryir.AggApercentile:
		return promCall("quantile_over_time", fraction(fn.Param), x.ranged(d)), true
	case queryir.AggMedian:
		return promCall("quantile_over_time", "0.5", x.ranged(d)), true
	}
	return x, false
}

var promOperators = map[queryir.AggKind]string{
	queryir.AggSum:      "sum",
	queryir.AggAvg:      "avg",
	queryir.AggMin:      "min",
	queryir.AggMax:      "max",
	queryir.AggCount:    "count",
	queryir.AggStddev:   "stddev",
	queryir.AggVariance: "stdvar",
}

// operator renders a cross-series aggregation. Kinds with no operator
// leave x unchanged.
func (p *PromQL) operator(a queryir.Aggregation, x promExpr, by string) promExpr {
	fn := a.Function
	arg := x.instant()
	op, param := "", ""
	switch fn.Kind {
	case queryir.AggPercentile, queryir.AggApercentile:
		op, param = "quantile", fraction(fn.Param)
	case queryir.AggMedian:
		if p.metricsql {
			op = "median"
		} else {
			op, param = "quantile", "0.5"
		}
	case queryir.AggTopK:
		op, param = "topk", strconv.FormatInt(fn.N, 10)
	case queryir.AggBottomK:
		op, param = "bottomk", strconv.FormatInt(fn.N, 10)
	case queryir.AggHistogramQuantile:
		return promCall("histogram_quantile", queryir.FormatFloat(fn.Param), arg)
	case queryir.AggCountDistinct:
		if p.metricsql {
			op = "distinct"
		} else if a.Column != "" && a.Column != "*" {
			return promExpr{text: "count" + by + " (count by (" + promLabel(a.Column) + ") (" + arg + "))", aggregate: true}
		} else {
			op = "count"
		}
	case queryir.AggMode:
		if p.metricsql {
			op = "mode"
		}
	case queryir.AggCustom:
		switch {
		case fn.Name == "group":
			op = "group"
		case fn.Name == "count_values" && len(a.Args) > 0:
			op, param = "count_values", strconv.Quote(plainString(a.Args[0]))
		case p.metricsql && isIdent(fn.Name):
			op = fn.Name
		}
	default:
		op = promOperators[fn.Kind]
	}
	if op == "" {
		return x
	}
	args := arg
	if param != "" {
		args = param + ", " + arg
	}
	return promExpr{text: op + by + " (" + args + ")", aggregate: true}
}

var promMath = map[queryir.MathFunc]string{
	queryir.MathAbs:   "abs",
	queryir.MathCeil:  "ceil",
	queryir.MathFloor: "floor",
	queryir.MathSqrt:  "sqrt",
	queryir.MathExp:   "exp",
}

func (p *PromQL) transform(op queryir.TransformOp, x promExpr, d string) promExpr {
	switch o := op.(type) {
	case queryir.Math:
		return promMathExpr(o, x)
	case queryir.Derivative:
		if o.NonNegative {
			return promCall("rate", x.ranged(d))
		}
		return promCall("deriv", x.ranged(d))
	case queryir.Difference:
		if o.NonNegative {
			return promCall("increase", x.ranged(d))
		}
		return promCall("idelta", x.ranged(d))
	case queryir.MovingAverage:
		return promCall("avg_over_time", x.ranged(d))
	case queryir.LabelReplace:
		return promCall("label_replace", x.instant(), strconv.Quote(o.Dst), strconv.Quote(o.Replacement),
			strconv.Quote(o.Src), strconv.Quote(o.Regex))
	case queryir.LabelJoin:
		args := []string{x.instant(), strconv.Quote(o.Dst), strconv.Quote(o.Separator)}
		for _, s := range o.Src {
			args = append(args, strconv.Quote(s))
		}
		return promCall("label_join", args...)
	case queryir.Cast:
		if o.Type == queryir.TypeTimestamp {
			return promCall("timestamp", x.instant())
		}
	case queryir.CustomTransform:
		if next, ok := p.custom(o, x, d); ok {
			return next
		}
	}
	return x
}

func promMathExpr(m queryir.Math, x promExpr) promExpr {
	operand := x.instant()
	if x.binary {
		operand = "(" + operand + ")"
	}
	binary := func(op string, n float64) promExpr {
		return promExpr{text: operand + " " + op + " " + queryir.FormatFloat(n), binary: true}
	}
	switch m.Func {
	case queryir.MathScale:
		return binary("*", mathValue(m))
	case queryir.MathShift:
		if n := mathValue(m); n < 0 {
			return binary("-", -n)
		}
		return binary("+", mathValue(m))
	case queryir.MathPow:
		return binary("^", mathValue(m))
	case queryir.MathRound:
		if m.Arg != nil {
			return promCall("round", x.instant(), queryir.FormatFloat(*m.Arg))
		}
		return promCall("round", x.instant())
	case queryir.MathLog:
		switch {
		case m.Arg == nil:
			return promCall("ln", x.instant())
		case *m.Arg == 2:
			return promCall("log2", x.instant())
		case *m.Arg == 10:
			return promCall("log10", x.instant())
		}
		return promExpr{text: "ln(" + x.instant() + ") / ln(" + queryir.FormatFloat(*m.Arg) + ")", binary: true}
	}
	if name, ok := promMath[m.Func]; ok {
		return promCall(name, x.instant())
	}
	return x
}

// custom renders a CustomTransform the engine knows, checking the literal
// arguments against the function's signature. The series goes in the
// first vector or matrix position.
func (p *PromQL) custom(o queryir.CustomTransform, x promExpr, d string) (promExpr, bool) {
	fn, ok := parser.Functions[o.Name]
	if !ok {
		if p.metricsql && isIdent(o.Name) {
			args := []string{x.instant()}
			for _, v := range o.Args {
				args = append(args, promLiteral(v))
			}
			return promCall(o.Name, args...), true
		}
		return x, false
	}
	n := 1 + len(o.Args)
	lo, hi := len(fn.ArgTypes), len(fn.ArgTypes)
	if fn.Variadic != 0 {
		lo, hi = len(fn.ArgTypes)-1, len(fn.ArgTypes)-1+fn.Variadic
		if fn.Variadic < 0 {
			hi = n
		}
	}
	if len(fn.ArgTypes) == 0 || n < lo || n > hi {
		return x, false
	}
	args := make([]string, 0, n)
	lits := o.Args
	series := false
	for i := 0; i < n; i++ {
		typ := fn.ArgTypes[len(fn.ArgTypes)-1]
		if i < len(fn.ArgTypes) {
			typ = fn.ArgTypes[i]
		}
		switch {
		case !series && typ == parser.ValueTypeVector:
			args, series = append(args, x.instant()), true
		case !series && typ == parser.ValueTypeMatrix:
			args, series = append(args, x.ranged(d)), true
		case len(lits) > 0 && literalFits(typ, lits[0]):
			args, lits = append(args, promLiteral(lits[0])), lits[1:]
		default:
			return x, false
		}
	}
	if !series {
		return x, false
	}
	return promCall(o.Name, args...), true
}

func literalFits(typ parser.ValueType, v queryir.Value) bool {
	_, isNum := queryir.NumberOf(v)
	_, isStr := v.(queryir.StringValue)
	switch typ {
	case parser.ValueTypeScalar:
		return isNum
	case parser.ValueTypeString:
		return isStr
	}
	return false
}

func promLiteral(v queryir.Value) string {
	if n, ok := queryir.NumberOf(v); ok {
		return queryir.FormatFloat(n)
	}
	return strconv.Quote(plainString(v))
}

// ordering maps ORDER BY and LIMIT onto sort/topk. Only ordering by value
// has a PromQL form.
func (p *PromQL) ordering(plan *queryir.QueryPlan, x promExpr) promExpr {
	if len(plan.OrderBy) == 0 {
		return x
	}
	o := plan.OrderBy[0]
	if isTimeColumn(o.Column) {
		return x
	}
	if plan.Limit != nil && *plan.Limit > 0 {
		op := "bottomk"
		if !o.Ascending {
			op = "topk"
		}
		x = promCall(op, strconv.FormatInt(*plan.Limit, 10), x.instant())
		x.call = false
	}
	if o.Ascending {
		return promCall("sort", x.instant())
	}
	return promCall("sort_desc", x.instant())
}

func promDuration(ms int64) string { return timeexpr.FormatShort(ms, "ms") }
