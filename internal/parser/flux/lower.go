package flux

import (
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

var aggregateCalls = map[string]queryir.AggKind{
	"mean":     queryir.AggAvg,
	"sum":      queryir.AggSum,
	"count":    queryir.AggCount,
	"min":      queryir.AggMin,
	"max":      queryir.AggMax,
	"median":   queryir.AggMedian,
	"mode":     queryir.AggMode,
	"spread":   queryir.AggSpread,
	"stddev":   queryir.AggStddev,
	"first":    queryir.AggFirst,
	"last":     queryir.AggLast,
	"integral": queryir.AggIntegral,
	"increase": queryir.AggIncrease,
}

var castCalls = map[string]queryir.DataType{
	"toInt":    queryir.TypeInt,
	"toUInt":   queryir.TypeInt,
	"toFloat":  queryir.TypeFloat,
	"toString": queryir.TypeString,
	"toBool":   queryir.TypeBool,
	"toTime":   queryir.TypeTimestamp,
}

type lowering struct {
	text string
	plan *queryir.QueryPlan
}

func lower(text string, calls []callExpr) (*queryir.QueryPlan, error) {
	l := &lowering{text: text, plan: queryir.NewPlan(queryir.Flux, text)}
	if err := l.from(calls[0]); err != nil {
		return nil, err
	}
	for _, c := range calls[1:] {
		if err := l.stage(c); err != nil {
			return nil, err
		}
	}
	return l.plan, nil
}

func (l *lowering) errorf(at int, format string, args ...any) *queryir.ParseError {
	return queryir.ParseErrorAt(queryir.Flux, l.text, at, format, args...)
}

func (l *lowering) from(c callExpr) error {
	for _, key := range []string{"bucket", "bucketID"} {
		if v, ok := c.args[key].(strLit); ok && v.val != "" {
			l.plan.Database = v.val
			return nil
		}
	}
	return l.errorf(c.at, "from() requires a bucket")
}

func (l *lowering) stage(c callExpr) error {
	name := c.name
	if i := strings.LastIndexByte(name, '.'); i >= 0 && name[:i] != "v1" {
		name = name[i+1:]
	}
	if kind, ok := aggregateCalls[name]; ok {
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Fn(kind), Column: stringArg(c, "column")})
		return nil
	}
	if t, ok := castCalls[name]; ok {
		l.plan.AddTransformation(queryir.Transformation{Op: queryir.Cast{Type: t}})
		return nil
	}

	switch name {
	case "range":
		return l.rangeStage(c)
	case "filter":
		return l.filter(c)
	case "aggregateWindow":
		return l.aggregateWindow(c)
	case "window":
		return l.window(c)
	case "quantile":
		q, _ := numberArg(c, "q")
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Percentile(q * 100), Column: stringArg(c, "column")})
	case "top", "bottom", "sample":
		n, _ := numberArg(c, "n")
		fn := queryir.TopK(int64(n))
		switch name {
		case "bottom":
			fn = queryir.BottomK(int64(n))
		case "sample":
			fn = queryir.Sample(int64(n))
		}
		l.plan.AddAggregation(queryir.Aggregation{Function: fn, Column: firstString(c, "column", "columns")})
	case "distinct", "unique":
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Custom(name), Column: stringArg(c, "column")})
	case "group":
		l.group(c)
	case "sort":
		desc := boolArg(c, "desc")
		cols := stringsArg(c, "columns")
		if len(cols) == 0 {
			cols = []string{"_value"}
		}
		for _, col := range cols {
			l.plan.AddOrderBy(col, !desc)
		}
	case "limit", "tail":
		if n, ok := numberArg(c, "n"); ok {
			l.plan.SetLimit(int64(n))
		}
		if off, ok := numberArg(c, "offset"); ok && off > 0 {
			l.plan.SetOffset(int64(off))
		}
		if name == "tail" {
			l.plan.Hints.SetCustom("tail", "true")
		}
	case "fill":
		l.fill(c)
	case "derivative":
		l.transform(queryir.Derivative{UnitMs: durationArg(c, "unit"), NonNegative: boolArg(c, "nonNegative")})
	case "difference":
		l.transform(queryir.Difference{NonNegative: boolArg(c, "nonNegative")})
	case "movingAverage":
		n, _ := numberArg(c, "n")
		l.transform(queryir.MovingAverage{Points: int64(n)})
	case "cumulativeSum":
		l.transform(queryir.CumulativeSum{})
	case "elapsed":
		l.transform(queryir.Elapsed{UnitMs: durationArg(c, "unit")})
	case "keep", "drop":
		for _, col := range stringsArg(c, "columns") {
			l.plan.Hints.SetCustom(name, col)
		}
	case "yield":
		l.plan.Hints.SetCustom("yield", stringArg(c, "name"))
	case "map":
		if m, ok := valueMap(c); ok {
			l.transform(m)
			return nil
		}
		l.plan.Hints.SetCustom("unmapped", c.name)
	default:
		l.plan.Hints.SetCustom("unmapped", c.name)
	}
	return nil
}

func (l *lowering) transform(op queryir.TransformOp) {
	l.plan.AddTransformation(queryir.Transformation{Op: op})
}

func (l *lowering) rangeStage(c callExpr) error {
	start, ok := c.args["start"]
	if !ok {
		return l.errorf(c.at, "range() requires start")
	}
	var tb queryir.TimeBounds
	if !l.dashboardVar(start) {
		lo, err := l.timeArg(start)
		if err != nil {
			return err
		}
		tb.SetLower(lo)
	}
	if stop, ok := c.args["stop"]; ok && !l.dashboardVar(stop) {
		hi, err := l.timeArg(stop)
		if err != nil {
			return err
		}
		tb.SetUpper(hi)
	}
	l.plan.TimeRange = tb.Range()
	return nil
}

// dashboardVar records bounds such as v.timeRangeStart, which are bound
// by the caller at execution time.
func (l *lowering) dashboardVar(e expr) bool {
	m, ok := e.(member)
	if !ok {
		return false
	}
	l.plan.Hints.SetCustom("range_var", m.object+"."+m.field)
	return true
}

// timeArg evaluates a range bound: a (negative) duration, now(), a
// date-time literal, a time string, time(v:) or an epoch number.
func (l *lowering) timeArg(e expr) (queryir.Bound, error) {
	switch v := e.(type) {
	case durLit:
		return queryir.Bound{Ms: v.ms, Relative: true}, nil
	case numLit:
		return queryir.Bound{Ms: timeexpr.EpochToMs(int64(v.val))}, nil
	case timeLit:
		ms, err := timeexpr.ParseTime(v.text)
		if err != nil {
			return queryir.Bound{}, l.errorf(v.at, "invalid time %s", v.text)
		}
		return queryir.Bound{Ms: ms}, nil
	case strLit:
		ms, err := timeexpr.ParseTime(v.val)
		if err != nil {
			return queryir.Bound{}, l.errorf(v.at, "invalid time %q", v.val)
		}
		return queryir.Bound{Ms: ms}, nil
	case callExpr:
		switch v.name {
		case "now":
			return queryir.Now, nil
		case "time":
			if s, ok := v.args["v"]; ok {
				return l.timeArg(s)
			}
		}
	}
	return queryir.Bound{}, l.errorf(e.pos(), "unsupported range bound")
}

func (l *lowering) filter(c callExpr) error {
	fn, ok := c.args["fn"].(fnLit)
	if !ok {
		return l.errorf(c.at, "filter() requires fn")
	}
	row := "r"
	if len(fn.params) > 0 {
		row = fn.params[0]
	}
	l.conjuncts(fn.body, func(e expr) {
		if l.measurement(e, row) || l.field(e, row) {
			return
		}
		if cond := condition(e, row); cond != nil {
			l.plan.AddFilter(cond)
			return
		}
		l.plan.Hints.SetCustom("filter", render(e))
	})
	return nil
}

func (l *lowering) conjuncts(e expr, fn func(expr)) {
	if b, ok := e.(binary); ok && b.op == "and" {
		l.conjuncts(b.l, fn)
		l.conjuncts(b.r, fn)
		return
	}
	fn(e)
}

// measurement handles r._measurement == "x", also inside an or-chain of
// such comparisons (several sources).
func (l *lowering) measurement(e expr, row string) bool {
	names, ok := equalities(e, row, "_measurement")
	if !ok {
		return false
	}
	for _, n := range names {
		l.addSource(n)
	}
	return true
}

func (l *lowering) field(e expr, row string) bool {
	names, ok := equalities(e, row, "_field")
	if !ok {
		return false
	}
	for _, n := range names {
		l.plan.AddColumn(n)
	}
	return true
}

func (l *lowering) addSource(name string) {
	for _, s := range l.plan.Sources {
		if s.Name == name {
			return
		}
	}
	l.plan.AddSource(queryir.DataSource{Name: name, Database: l.plan.Database, Kind: queryir.SourceMeasurement})
}

// equalities matches `r.col == "a" or r.col == "b" ...`.
func equalities(e expr, row, col string) ([]string, bool) {
	switch b := e.(type) {
	case binary:
		switch b.op {
		case "or":
			l, ok := equalities(b.l, row, col)
			if !ok {
				return nil, false
			}
			r, ok := equalities(b.r, row, col)
			if !ok {
				return nil, false
			}
			return append(l, r...), true
		case "==":
			m, ok := b.l.(member)
			s, ok2 := b.r.(strLit)
			if ok && ok2 && m.object == row && m.field == col {
				return []string{s.val}, true
			}
		}
	}
	return nil, false
}

var compareOps = map[string]queryir.CompareOp{
	"==": queryir.OpEq,
	"!=": queryir.OpNotEq,
	"<":  queryir.OpLt,
	"<=": queryir.OpLtEq,
	">":  queryir.OpGt,
	">=": queryir.OpGtEq,
}

// condition converts a predicate over row. It returns nil when any part
// has no structural mapping.
func condition(e expr, row string) queryir.Condition {
	switch v := e.(type) {
	case unary:
		if v.op != "not" {
			return nil
		}
		if x := condition(v.x, row); x != nil {
			return queryir.Not{Condition: x}
		}
		return nil
	case callExpr:
		if v.name == "exists" {
			if m, ok := v.args["v"].(member); ok && m.object == row {
				return queryir.IsNull{Column: m.field, Negated: true}
			}
		}
		return nil
	case binary:
		switch v.op {
		case "and", "or":
			l, r := condition(v.l, row), condition(v.r, row)
			if l == nil || r == nil {
				return nil
			}
			if v.op == "and" {
				return queryir.And{Conditions: []queryir.Condition{l, r}}
			}
			return queryir.Or{Conditions: []queryir.Condition{l, r}}
		case "=~", "!~":
			m, ok := v.l.(member)
			re, ok2 := v.r.(regexLit)
			if !ok || !ok2 || m.object != row {
				return nil
			}
			return queryir.Regex{Column: m.field, Pattern: re.pattern, Negated: v.op == "!~"}
		}
		op, ok := compareOps[v.op]
		if !ok {
			return nil
		}
		if m, ok := v.l.(member); ok && m.object == row {
			if val, ok := value(v.r); ok {
				return queryir.Comparison{Column: m.field, Op: op, Value: val}
			}
		}
		if m, ok := v.r.(member); ok && m.object == row {
			if val, ok := value(v.l); ok {
				return queryir.Comparison{Column: m.field, Op: op.Flip(), Value: val}
			}
		}
	}
	return nil
}

func value(e expr) (queryir.Value, bool) {
	switch v := e.(type) {
	case strLit:
		return queryir.StringValue(v.val), true
	case numLit:
		if v.val == float64(int64(v.val)) {
			return queryir.IntValue(int64(v.val)), true
		}
		return queryir.FloatValue(v.val), true
	case durLit:
		return queryir.DurationValue(v.ms), true
	case timeLit:
		ms, err := timeexpr.ParseTime(v.text)
		if err != nil {
			return nil, false
		}
		return queryir.TimestampValue(ms), true
	case ident:
		switch v.name {
		case "true":
			return queryir.BoolValue(true), true
		case "false":
			return queryir.BoolValue(false), true
		}
	}
	return nil, false
}

func (l *lowering) aggregateWindow(c callExpr) error {
	every := durationArg(c, "every")
	if every == 0 {
		return l.errorf(c.at, "aggregateWindow() requires every")
	}
	w := queryir.Window{Kind: queryir.IntervalWindow{DurationMs: every, OffsetMs: durationArg(c, "offset")}}
	if ce, ok := c.args["createEmpty"].(ident); ok {
		if ce.name == "false" {
			w.Fill = queryir.NewFill(queryir.FillNone)
		} else {
			w.Fill = queryir.NewFill(queryir.FillNull)
		}
	}
	l.plan.AddWindow(w)

	switch fn := c.args["fn"].(type) {
	case ident:
		if kind, ok := aggregateCalls[fn.name]; ok {
			l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Fn(kind), Column: stringArg(c, "column")})
			return nil
		}
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Custom(fn.name), Column: stringArg(c, "column")})
	case fnLit:
		// (column, tables=<-) => tables |> quantile(q: 0.99, column: column)
		if body, ok := fn.body.(callExpr); ok && body.name == "quantile" {
			q, _ := numberArg(body, "q")
			l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Percentile(q * 100)})
			return nil
		}
		l.plan.AddAggregation(queryir.Aggregation{Function: queryir.Custom("fn")})
	default:
		return l.errorf(c.at, "aggregateWindow() requires fn")
	}
	return nil
}

func (l *lowering) window(c callExpr) error {
	every := durationArg(c, "every")
	period := durationArg(c, "period")
	if every == 0 && period == 0 {
		return l.errorf(c.at, "window() requires every or period")
	}
	w := queryir.IntervalWindow{DurationMs: every, OffsetMs: durationArg(c, "offset")}
	if period != 0 && period != every {
		w.DurationMs = period
		if every != 0 {
			w.SlidingMs = queryir.Int64Ptr(every)
		}
	}
	l.plan.AddWindow(queryir.Window{Kind: w})
	return nil
}

func (l *lowering) group(c callExpr) {
	cols := stringsArg(c, "columns")
	if stringArg(c, "mode") == "except" {
		l.plan.Hints.SetCustom("group_except", strings.Join(cols, ","))
		return
	}
	if len(cols) == 0 {
		l.plan.Hints.SetCustom("group", "none")
		return
	}
	for _, col := range cols {
		l.plan.AddGroupBy(queryir.GroupTag{Name: col})
	}
}

func (l *lowering) fill(c callExpr) {
	var f *queryir.Fill
	switch {
	case boolArg(c, "usePrevious"):
		f = queryir.NewFill(queryir.FillPrevious)
	default:
		v, ok := value(c.args["value"])
		if !ok {
			f = queryir.NewFill(queryir.FillNull)
			break
		}
		f = queryir.NewFill(queryir.FillValue)
		f.Value = v
	}
	if n := len(l.plan.Windows); n > 0 {
		l.plan.Windows[n-1].Fill = f
		return
	}
	l.plan.Hints.SetCustom("fill", f.Mode.String())
}

func stringArg(c callExpr, key string) string {
	if s, ok := c.args[key].(strLit); ok {
		return s.val
	}
	return ""
}

func firstString(c callExpr, keys ...string) string {
	for _, k := range keys {
		if s := stringArg(c, k); s != "" {
			return s
		}
		if ss := stringsArg(c, k); len(ss) > 0 {
			return ss[0]
		}
	}
	return ""
}

func stringsArg(c callExpr, key string) []string {
	a, ok := c.args[key].(array)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(a.elems))
	for _, e := range a.elems {
		if s, ok := e.(strLit); ok {
			out = append(out, s.val)
		}
	}
	return out
}

func numberArg(c callExpr, key string) (float64, bool) {
	n, ok := c.args[key].(numLit)
	return n.val, ok
}

func boolArg(c callExpr, key string) bool {
	id, ok := c.args[key].(ident)
	return ok && id.name == "true"
}

func durationArg(c callExpr, key string) int64 {
	switch v := c.args[key].(type) {
	case durLit:
		return v.ms
	case strLit:
		ms, err := timeexpr.ParseDuration(v.val)
		if err == nil {
			return ms
		}
	case numLit:
		return int64(v.val)
	}
	return 0
}

var mathCalls = map[string]queryir.MathFunc{
	"math.abs":   queryir.MathAbs,
	"math.ceil":  queryir.MathCeil,
	"math.floor": queryir.MathFloor,
	"math.round": queryir.MathRound,
	"math.sqrt":  queryir.MathSqrt,
	"math.exp":   queryir.MathExp,
	"math.log":   queryir.MathLog,
}

// valueMap recognizes map(fn: (r) => ({r with _value: f(r._value)})) where
// f is a math.* call or arithmetic with a constant.
func valueMap(c callExpr) (queryir.Math, bool) {
	fn, ok := c.args["fn"].(fnLit)
	if !ok || len(fn.params) == 0 {
		return queryir.Math{}, false
	}
	row := fn.params[0]
	rec, ok := fn.body.(record)
	if !ok || rec.base != row || len(rec.fields) != 1 {
		return queryir.Math{}, false
	}
	isValue := func(e expr) bool {
		m, ok := e.(member)
		return ok && m.object == row && m.field == "_value"
	}
	switch v := rec.fields["_value"].(type) {
	case callExpr:
		if !isValue(v.args["x"]) {
			return queryir.Math{}, false
		}
		switch v.name {
		case "math.log10":
			return queryir.MathOf(queryir.MathLog, 10), true
		case "math.log2":
			return queryir.MathOf(queryir.MathLog, 2), true
		case "math.pow":
			if y, ok := v.args["y"].(numLit); ok {
				return queryir.MathOf(queryir.MathPow, y.val), true
			}
			return queryir.Math{}, false
		}
		if f, ok := mathCalls[v.name]; ok {
			return queryir.Math{Func: f}, true
		}
	case binary:
		n, ok := v.r.(numLit)
		if !ok || !isValue(v.l) {
			return queryir.Math{}, false
		}
		switch v.op {
		case "*":
			return queryir.MathOf(queryir.MathScale, n.val), true
		case "/":
			if n.val != 0 {
				return queryir.MathOf(queryir.MathScale, 1/n.val), true
			}
		case "+":
			return queryir.MathOf(queryir.MathShift, n.val), true
		case "-":
			return queryir.MathOf(queryir.MathShift, -n.val), true
		}
	}
	return queryir.Math{}, false
}
