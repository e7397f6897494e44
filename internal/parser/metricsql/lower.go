package metricsql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/parser/promql"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

var stdAggregates = map[string]bool{
	"sum": true, "avg": true, "min": true, "max": true, "count": true,
	"stddev": true, "stdvar": true, "topk": true, "bottomk": true,
	"quantile": true, "count_values": true, "group": true,
}

// extraAggregates are MetricsQL aggregate functions with a plan mapping.
var extraAggregates = map[string]queryir.AggKind{
	"median":    queryir.AggMedian,
	"mode":      queryir.AggMode,
	"histogram": queryir.AggHistogram,
	"distinct":  queryir.AggCountDistinct,
	"sum2":      queryir.AggCustom,
	"geomean":   queryir.AggCustom,
	"mad":       queryir.AggCustom,
	"zscore":    queryir.AggCustom,
	"share":     queryir.AggCustom,
	"any":       queryir.AggCustom,
	"limitk":    queryir.AggCustom,
	"outliersk": queryir.AggCustom,
	"quantiles": queryir.AggCustom,
}

var stdKinds = map[string]queryir.AggKind{
	"sum": queryir.AggSum, "avg": queryir.AggAvg, "min": queryir.AggMin,
	"max": queryir.AggMax, "count": queryir.AggCount,
	"stddev": queryir.AggStddev, "stdvar": queryir.AggVariance,
}

func isAggregate(name string) bool {
	if stdAggregates[name] {
		return true
	}
	if _, ok := extraAggregates[name]; ok {
		return true
	}
	return strings.HasPrefix(name, "topk_") || strings.HasPrefix(name, "bottomk_")
}

// rollupFunctions map MetricsQL rollup_* and *_over_time extensions to
// aggregate kinds.
var rollupFunctions = map[string]queryir.AggKind{
	"rollup_rate":         queryir.AggRate,
	"rollup_increase":     queryir.AggIncrease,
	"rollup_delta":        queryir.AggDelta,
	"rollup_deriv":        queryir.AggDeriv,
	"median_over_time":    queryir.AggMedian,
	"mode_over_time":      queryir.AggMode,
	"first_over_time":     queryir.AggFirst,
	"distinct_over_time":  queryir.AggCountDistinct,
	"stdvar_over_time":    queryir.AggVariance,
	"integrate":           queryir.AggIntegral,
	"increase_pure":       queryir.AggIncrease,
	"histogram_over_time": queryir.AggHistogram,
}

type lowering struct {
	plan *queryir.QueryPlan
}

func (l *lowering) node(n node) error {
	switch x := n.(type) {
	case selector:
		l.selector(x)
		return nil
	case rollup:
		if err := l.node(x.x); err != nil {
			return err
		}
		if x.rangeMs > 0 {
			l.plan.AddWindow(queryir.Window{Kind: queryir.RangeWindow{DurationMs: x.rangeMs}})
		}
		if x.stepMs > 0 {
			l.plan.Hints.StepMs = queryir.Int64Ptr(x.stepMs)
		}
		return nil
	case modifiers:
		if err := l.node(x.x); err != nil {
			return err
		}
		if x.offsetMs != 0 {
			l.plan.Hints.SetCustom("offset_ms", strconv.FormatInt(x.offsetMs, 10))
		}
		if x.atMs != nil {
			l.plan.TimeRange = queryir.Absolute{StartMs: *x.atMs - l.rangeMs(), EndMs: *x.atMs}
		}
		return nil
	case funcCall:
		return l.call(x)
	case aggregate:
		return l.aggregate(x)
	case binaryOp:
		return l.binary(x)
	case negate:
		if err := l.node(x.x); err != nil {
			return err
		}
		l.plan.AddTransformation(queryir.Transformation{Op: queryir.MathOf(queryir.MathScale, -1)})
		return nil
	case number:
		l.plan.Hints.SetCustom("scalar", queryir.FormatFloat(float64(x)))
		return nil
	case str:
		l.plan.Hints.SetCustom("string", string(x))
		return nil
	}
	return queryir.NewParseError(queryir.MetricsQL, "unsupported expression %T", n)
}

func (l *lowering) selector(s selector) {
	if s.name != "" && !l.hasSource(s.name) {
		l.plan.AddSource(queryir.DataSource{Name: s.name, Kind: queryir.SourceMetric})
	}
	var alternatives []queryir.Condition
	for _, group := range s.groups {
		var conds []queryir.Condition
		for _, m := range group {
			if m.label == "__name__" && m.op == "=" {
				continue
			}
			conds = append(conds, matcherCondition(m))
		}
		switch len(conds) {
		case 0:
		case 1:
			alternatives = append(alternatives, conds[0])
		default:
			alternatives = append(alternatives, queryir.And{Conditions: conds})
		}
	}
	switch len(alternatives) {
	case 0:
	case 1:
		l.plan.AddFilter(alternatives[0])
	default:
		l.plan.AddFilter(queryir.Or{Conditions: alternatives})
	}
	if s.rangeMs > 0 {
		l.plan.AddWindow(queryir.Window{Kind: queryir.RangeWindow{DurationMs: s.rangeMs}})
	}
}

func matcherCondition(m matcher) queryir.Condition {
	switch m.op {
	case "!=":
		return queryir.Comparison{Column: m.label, Op: queryir.OpNotEq, Value: queryir.StringValue(m.value)}
	case "=~":
		return queryir.Regex{Column: m.label, Pattern: m.value}
	case "!~":
		return queryir.Regex{Column: m.label, Pattern: m.value, Negated: true}
	default:
		return queryir.Comparison{Column: m.label, Op: queryir.OpEq, Value: queryir.StringValue(m.value)}
	}
}

func (l *lowering) hasSource(name string) bool {
	for _, s := range l.plan.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (l *lowering) rangeMs() int64 {
	for i := len(l.plan.Windows) - 1; i >= 0; i-- {
		if r, ok := l.plan.Windows[i].Kind.(queryir.RangeWindow); ok {
			return r.DurationMs
		}
	}
	return 0
}

// series walks the first non-literal argument and returns the literal
// arguments in order.
func (l *lowering) series(args []node) ([]queryir.Value, error) {
	var lits []queryir.Value
	walked := false
	for _, a := range args {
		if v, ok := literal(a); ok {
			lits = append(lits, v)
			continue
		}
		if !walked {
			if err := l.node(a); err != nil {
				return nil, err
			}
			walked = true
		}
	}
	return lits, nil
}

func (l *lowering) call(c funcCall) error {
	if c.keepNames {
		defer l.plan.Hints.SetCustom("keep_metric_names", "true")
	}
	name := c.name
	kind, isRange := promql.RangeFunctions[name]
	if !isRange {
		kind, isRange = promql.OverTimeFunctions[name]
	}
	if !isRange {
		kind, isRange = rollupFunctions[name]
	}
	if isRange {
		if len(c.args) == 0 {
			return queryir.ParseErrorAt(queryir.MetricsQL, l.plan.OriginalQuery, c.pos, "%s: missing argument", name)
		}
		lits, err := l.series(c.args)
		if err != nil {
			return err
		}
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Fn(kind), Args: lits})
		return nil
	}
	if m, ok := promql.MathFunctions[name]; ok && len(c.args) > 0 {
		if err := l.node(c.args[0]); err != nil {
			return err
		}
		if name == "round" && len(c.args) > 1 {
			if n, ok := c.args[1].(number); ok {
				m = queryir.MathOf(queryir.MathRound, float64(n))
			}
		}
		l.plan.AddTransformation(queryir.Transformation{Op: m})
		return nil
	}

	switch name {
	case "quantile_over_time", "histogram_quantile":
		if len(c.args) < 2 {
			return queryir.ParseErrorAt(queryir.MetricsQL, l.plan.OriginalQuery, c.pos, "%s: expected 2 arguments", name)
		}
		if err := l.node(c.args[1]); err != nil {
			return err
		}
		phi, ok := l.number(name, c.args[0])
		if !ok {
			l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Custom(name)})
			return nil
		}
		fn := queryir.Percentile(float64(phi) * 100)
		if name == "histogram_quantile" {
			fn = queryir.HistogramQuantile(float64(phi))
		}
		l.plan.AddAggregation(queryir.Aggregation{Function: fn})
		return nil
	case "label_replace", "label_join":
		lits, err := l.series(c.args)
		if err != nil {
			return err
		}
		s := stringValues(lits)
		if name == "label_replace" && len(s) == 4 {
			l.plan.AddTransformation(queryir.Transformation{Op: queryir.LabelReplace{
				Dst: s[0], Replacement: s[1], Src: s[2], Regex: s[3],
			}})
			return nil
		}
		if name == "label_join" && len(s) >= 2 {
			l.plan.AddTransformation(queryir.Transformation{Op: queryir.LabelJoin{
				Dst: s[0], Separator: s[1], Src: s[2:],
			}})
			return nil
		}
		l.plan.AddTransformation(queryir.Transformation{Op: queryir.CustomTransform{Name: name, Args: lits}})
		return nil
	}

	lits, err := l.series(c.args)
	if err != nil {
		return err
	}
	l.plan.AddTransformation(queryir.Transformation{Op: queryir.CustomTransform{Name: name, Args: lits}})
	return nil
}

// number returns a literal parameter of fn. Any other expression is kept
// in the fn_param hint and reported as not a number.
func (l *lowering) number(fn string, param node) (float64, bool) {
	if n, ok := param.(number); ok {
		return float64(n), true
	}
	if param != nil {
		l.plan.Hints.SetCustom(fn+"_param", format(param))
	}
	return 0, false
}

func stringValues(vals []queryir.Value) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(queryir.StringValue); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func (l *lowering) aggregate(a aggregate) error {
	if len(a.args) == 0 {
		return queryir.ParseErrorAt(queryir.MetricsQL, l.plan.OriginalQuery, a.pos, "%s: missing argument", a.op)
	}
	var param node
	expr := a.args[len(a.args)-1]
	if len(a.args) > 1 {
		param = a.args[0]
	}
	if err := l.node(expr); err != nil {
		return err
	}

	var fn queryir.AggFunction
	switch {
	case a.op == "topk" || a.op == "bottomk":
		n, ok := l.number(a.op, param)
		switch {
		case !ok:
			fn = queryir.Custom(a.op)
		case a.op == "bottomk":
			fn = queryir.BottomK(int64(n))
		default:
			fn = queryir.TopK(int64(n))
		}
	case a.op == "quantile":
		phi, ok := l.number(a.op, param)
		if !ok {
			fn = queryir.Custom(a.op)
			break
		}
		fn = queryir.Percentile(phi * 100)
	default:
		if kind, ok := stdKinds[a.op]; ok {
			fn = queryir.Fn(kind)
		} else if kind, ok := extraAggregates[a.op]; ok && kind != queryir.AggCustom {
			fn = queryir.Fn(kind)
		} else {
			fn = queryir.Custom(a.op)
		}
	}
	agg := queryir.Aggregation{Function: fn}
	if param != nil && fn.Kind != queryir.AggTopK && fn.Kind != queryir.AggBottomK && fn.Kind != queryir.AggPercentile {
		if v, ok := literal(param); ok {
			agg.Args = append(agg.Args, v)
		}
	}
	l.plan.AddAggregation(agg)

	if a.without {
		l.plan.Hints.SetCustom("without", strings.Join(a.labels, ","))
	} else {
		for _, label := range a.labels {
			l.plan.AddGroupBy(queryir.GroupTag{Name: label})
		}
	}
	if a.limit > 0 {
		l.plan.SetLimit(a.limit)
	}
	return nil
}

func (l *lowering) binary(b binaryOp) error {
	ln, lIsNum := b.l.(number)
	rn, rIsNum := b.r.(number)
	switch {
	case rIsNum && !lIsNum:
		if err := l.node(b.l); err != nil {
			return err
		}
		if op, ok := scalarOp(b.op, float64(rn), false); ok {
			l.plan.AddTransformation(queryir.Transformation{Op: op})
			return nil
		}
	case lIsNum && !rIsNum:
		if err := l.node(b.r); err != nil {
			return err
		}
		if op, ok := scalarOp(b.op, float64(ln), true); ok {
			l.plan.AddTransformation(queryir.Transformation{Op: op})
			return nil
		}
	default:
		if err := l.node(b.l); err != nil {
			return err
		}
	}
	l.plan.Hints.SetCustom("binary", format(b))
	return nil
}

func scalarOp(op string, v float64, scalarLeft bool) (queryir.TransformOp, bool) {
	switch op {
	case "*":
		return queryir.MathOf(queryir.MathScale, v), true
	case "+":
		return queryir.MathOf(queryir.MathShift, v), true
	case "/":
		if scalarLeft || v == 0 {
			return nil, false
		}
		return queryir.MathOf(queryir.MathScale, 1/v), true
	case "-":
		if scalarLeft {
			return nil, false
		}
		return queryir.MathOf(queryir.MathShift, -v), true
	case "^":
		if scalarLeft {
			return nil, false
		}
		return queryir.MathOf(queryir.MathPow, v), true
	}
	return nil, false
}

func literal(n node) (queryir.Value, bool) {
	switch x := n.(type) {
	case number:
		return queryir.FloatValue(float64(x)), true
	case str:
		return queryir.StringValue(string(x)), true
	}
	return nil, false
}

// format renders a node back to MetricsQL for hints.
func format(n node) string {
	switch x := n.(type) {
	case selector:
		var groups []string
		for _, g := range x.groups {
			var ms []string
			for _, m := range g {
				ms = append(ms, m.label+m.op+strconv.Quote(m.value))
			}
			groups = append(groups, strings.Join(ms, ", "))
		}
		out := x.name
		if len(groups) > 0 && groups[0] != "" || len(groups) > 1 {
			out += "{" + strings.Join(groups, " or ") + "}"
		}
		if x.rangeMs > 0 {
			out += "[" + formatMs(x.rangeMs) + "]"
		}
		return out
	case rollup:
		step := ""
		if x.stepMs > 0 {
			step = formatMs(x.stepMs)
		}
		rng := ""
		if x.rangeMs > 0 {
			rng = formatMs(x.rangeMs)
		}
		return format(x.x) + "[" + rng + ":" + step + "]"
	case modifiers:
		out := format(x.x)
		if x.offsetMs != 0 {
			out += " offset " + formatMs(x.offsetMs)
		}
		if x.atMs != nil {
			out += " @ " + queryir.FormatFloat(float64(*x.atMs)/1000)
		}
		return out
	case funcCall:
		out := x.name + "(" + formatArgs(x.args) + ")"
		if x.keepNames {
			out += " keep_metric_names"
		}
		return out
	case aggregate:
		out := x.op
		if len(x.labels) > 0 {
			mode := "by"
			if x.without {
				mode = "without"
			}
			out += " " + mode + " (" + strings.Join(x.labels, ", ") + ")"
		}
		out += " (" + formatArgs(x.args) + ")"
		if x.limit > 0 {
			out += " limit " + strconv.FormatInt(x.limit, 10)
		}
		return out
	case binaryOp:
		return format(x.l) + " " + x.op + " " + format(x.r)
	case negate:
		return "-" + format(x.x)
	case number:
		return queryir.FormatFloat(float64(x))
	case str:
		return strconv.Quote(string(x))
	}
	return fmt.Sprint(n)
}

func formatArgs(args []node) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = format(a)
	}
	return strings.Join(parts, ", ")
}

func formatMs(ms int64) string {
	if ms < 0 {
		return "-" + formatMs(-ms)
	}
	return timeexpr.FormatShort(ms, "ms")
}
