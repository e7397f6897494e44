package influxql

import (
	"strings"

	influx "github.com/influxdata/influxql"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

var aggregates = map[string]queryir.AggKind{
	"count":    queryir.AggCount,
	"sum":      queryir.AggSum,
	"mean":     queryir.AggAvg,
	"median":   queryir.AggMedian,
	"mode":     queryir.AggMode,
	"spread":   queryir.AggSpread,
	"stddev":   queryir.AggStddev,
	"min":      queryir.AggMin,
	"max":      queryir.AggMax,
	"first":    queryir.AggFirst,
	"last":     queryir.AggLast,
	"integral": queryir.AggIntegral,
}

var mathFuncs = map[string]queryir.MathFunc{
	"abs":   queryir.MathAbs,
	"ceil":  queryir.MathCeil,
	"floor": queryir.MathFloor,
	"round": queryir.MathRound,
	"sqrt":  queryir.MathSqrt,
	"exp":   queryir.MathExp,
	"ln":    queryir.MathLog,
	"log":   queryir.MathLog,
	"pow":   queryir.MathPow,
}

func field(plan *queryir.QueryPlan, f *influx.Field) {
	switch e := unparen(f.Expr).(type) {
	case *influx.VarRef:
		plan.AddColumn(e.Val)
	case *influx.Wildcard:
		plan.AddColumn("*")
	case *influx.Call:
		call(plan, e, f.Alias)
	case *influx.BinaryExpr:
		arith(plan, e, f.Alias)
	default:
		plan.Hints.SetCustom("field", f.String())
	}
}

// call walks a function call inner-first and returns the column it reads.
func call(plan *queryir.QueryPlan, c *influx.Call, alias string) string {
	name := strings.ToLower(c.Name)
	col := ""
	if len(c.Args) > 0 {
		col = argument(plan, c.Args[0])
	}

	if name == "count" && len(c.Args) == 1 {
		if inner, ok := unparen(c.Args[0]).(*influx.Call); ok && strings.EqualFold(inner.Name, "distinct") {
			// distinct was recorded as a custom aggregate by argument();
			// count(distinct(x)) collapses to one function.
			plan.Aggregations = plan.Aggregations[:len(plan.Aggregations)-1]
			plan.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggCountDistinct), Column: col, Alias: alias})
			return col
		}
	}
	if kind, ok := aggregates[name]; ok {
		agg := queryir.Aggregation{Function: queryir.Fn(kind), Column: col, Alias: alias}
		agg.Args = literals(c.Args[min(1, len(c.Args)):])
		plan.AddAggregation(agg)
		return col
	}

	var fn queryir.AggFunction
	found := true
	switch name {
	case "percentile":
		fn = queryir.Percentile(number(lastArg(c)))
	case "sample":
		fn = queryir.Sample(int64(number(lastArg(c))))
	case "top":
		fn = queryir.TopK(int64(number(lastArg(c))))
	case "bottom":
		fn = queryir.BottomK(int64(number(lastArg(c))))
	case "distinct":
		fn = queryir.Custom("distinct")
	default:
		found = false
	}
	if found {
		plan.AddAggregation(queryir.Aggregation{Function: fn, Column: col, Alias: alias})
		return col
	}

	var op queryir.TransformOp
	switch name {
	case "derivative", "non_negative_derivative":
		op = queryir.Derivative{UnitMs: unitArg(c), NonNegative: name == "non_negative_derivative"}
	case "difference", "non_negative_difference":
		op = queryir.Difference{NonNegative: name == "non_negative_difference"}
	case "moving_average":
		op = queryir.MovingAverage{Points: int64(number(lastArg(c)))}
	case "cumulative_sum":
		op = queryir.CumulativeSum{}
	case "elapsed":
		op = queryir.Elapsed{UnitMs: unitArg(c)}
	case "log2":
		op = queryir.MathOf(queryir.MathLog, 2)
	case "log10":
		op = queryir.MathOf(queryir.MathLog, 10)
	default:
		if mf, ok := mathFuncs[name]; ok {
			m := queryir.Math{Func: mf}
			if len(c.Args) > 1 {
				m = queryir.MathOf(mf, number(c.Args[1]))
			}
			op = m
		} else {
			op = queryir.CustomTransform{Name: name, Args: literals(c.Args[min(1, len(c.Args)):])}
		}
	}
	plan.AddTransformation(queryir.Transformation{Op: op, Alias: alias})
	return col
}

// argument records a call's first argument: a column reference or a
// nested call walked first.
func argument(plan *queryir.QueryPlan, e influx.Expr) string {
	switch a := unparen(e).(type) {
	case *influx.VarRef:
		return a.Val
	case *influx.Wildcard:
		return "*"
	case *influx.Call:
		return call(plan, a, "")
	case *influx.RegexLiteral:
		return "/" + a.Val.String() + "/"
	}
	return ""
}

// arith handles `f(x) <op> n`, mapping scalar multiply and add to math.
func arith(plan *queryir.QueryPlan, b *influx.BinaryExpr, alias string) {
	lhs, rhs := unparen(b.LHS), unparen(b.RHS)
	if c, ok := lhs.(*influx.Call); ok {
		call(plan, c, "")
	} else if v, ok := lhs.(*influx.VarRef); ok {
		plan.AddColumn(v.Val)
	}
	n, ok := numeric(rhs)
	if !ok {
		plan.Hints.SetCustom("field", b.String())
		return
	}
	var op queryir.TransformOp
	switch b.Op {
	case influx.MUL:
		op = queryir.MathOf(queryir.MathScale, n)
	case influx.DIV:
		if n == 0 {
			plan.Hints.SetCustom("field", b.String())
			return
		}
		op = queryir.MathOf(queryir.MathScale, 1/n)
	case influx.ADD:
		op = queryir.MathOf(queryir.MathShift, n)
	case influx.SUB:
		op = queryir.MathOf(queryir.MathShift, -n)
	default:
		plan.Hints.SetCustom("field", b.String())
		return
	}
	plan.AddTransformation(queryir.Transformation{Op: op, Alias: alias})
}

func lastArg(c *influx.Call) influx.Expr {
	if len(c.Args) < 2 {
		return nil
	}
	return c.Args[len(c.Args)-1]
}

func unitArg(c *influx.Call) int64 {
	if len(c.Args) < 2 {
		return 0
	}
	if d, ok := unparen(c.Args[1]).(*influx.DurationLiteral); ok {
		return durationMs(d.Val)
	}
	return 0
}

func number(e influx.Expr) float64 {
	n, _ := numeric(e)
	return n
}

func numeric(e influx.Expr) (float64, bool) {
	switch l := unparen(e).(type) {
	case *influx.NumberLiteral:
		return l.Val, true
	case *influx.IntegerLiteral:
		return float64(l.Val), true
	case *influx.UnsignedLiteral:
		return float64(l.Val), true
	}
	return 0, false
}

func literals(args []influx.Expr) []queryir.Value {
	var out []queryir.Value
	for _, a := range args {
		if v, ok := literal(a); ok {
			out = append(out, v)
		}
	}
	return out
}

func literal(e influx.Expr) (queryir.Value, bool) {
	switch l := unparen(e).(type) {
	case *influx.StringLiteral:
		return queryir.StringValue(l.Val), true
	case *influx.NumberLiteral:
		return queryir.FloatValue(l.Val), true
	case *influx.IntegerLiteral:
		return queryir.IntValue(l.Val), true
	case *influx.UnsignedLiteral:
		return queryir.UIntValue(l.Val), true
	case *influx.BooleanLiteral:
		return queryir.BoolValue(l.Val), true
	case *influx.DurationLiteral:
		return queryir.DurationValue(durationMs(l.Val)), true
	case *influx.TimeLiteral:
		return queryir.TimestampValue(l.Val.UnixMilli()), true
	case *influx.NilLiteral:
		return queryir.NullValue{}, true
	}
	return nil, false
}

func unparen(e influx.Expr) influx.Expr {
	for {
		p, ok := e.(*influx.ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

// conjuncts calls fn for each top-level AND operand of e.
func conjuncts(e influx.Expr, fn func(influx.Expr)) {
	if b, ok := unparen(e).(*influx.BinaryExpr); ok && b.Op == influx.AND {
		conjuncts(b.LHS, fn)
		conjuncts(b.RHS, fn)
		return
	}
	fn(unparen(e))
}

var compareOps = map[influx.Token]queryir.CompareOp{
	influx.EQ:  queryir.OpEq,
	influx.NEQ: queryir.OpNotEq,
	influx.LT:  queryir.OpLt,
	influx.LTE: queryir.OpLtEq,
	influx.GT:  queryir.OpGt,
	influx.GTE: queryir.OpGtEq,
}

func isTime(e influx.Expr) bool {
	v, ok := unparen(e).(*influx.VarRef)
	return ok && strings.EqualFold(v.Val, "time")
}

// timeBound records `time <op> t` (either operand order) into tb.
func timeBound(e influx.Expr, tb *queryir.TimeBounds) bool {
	b, ok := e.(*influx.BinaryExpr)
	if !ok {
		return false
	}
	op, ok := compareOps[b.Op]
	if !ok {
		return false
	}
	var other influx.Expr
	switch {
	case isTime(b.LHS):
		other = b.RHS
	case isTime(b.RHS):
		other, op = b.LHS, op.Flip()
	default:
		return false
	}
	bound, ok := timeValue(other)
	if !ok {
		return false
	}
	switch op {
	case queryir.OpGt, queryir.OpGtEq:
		tb.SetLower(bound)
	case queryir.OpLt, queryir.OpLtEq:
		tb.SetUpper(bound)
	case queryir.OpEq:
		tb.SetLower(bound)
		tb.SetUpper(bound)
	default:
		return false
	}
	return true
}

func timeValue(e influx.Expr) (queryir.Bound, bool) {
	switch v := unparen(e).(type) {
	case *influx.Call:
		if strings.EqualFold(v.Name, "now") && len(v.Args) == 0 {
			return queryir.Now, true
		}
	case *influx.BinaryExpr:
		if v.Op != influx.ADD && v.Op != influx.SUB {
			return queryir.Bound{}, false
		}
		base, ok := timeValue(v.LHS)
		if !ok {
			return queryir.Bound{}, false
		}
		d, ok := unparen(v.RHS).(*influx.DurationLiteral)
		if !ok {
			return queryir.Bound{}, false
		}
		if v.Op == influx.SUB {
			base.Ms -= durationMs(d.Val)
		} else {
			base.Ms += durationMs(d.Val)
		}
		return base, true
	case *influx.StringLiteral:
		ms, err := timeexpr.ParseTime(v.Val)
		if err != nil {
			return queryir.Bound{}, false
		}
		return queryir.Bound{Ms: ms}, true
	case *influx.TimeLiteral:
		return queryir.Bound{Ms: v.Val.UnixMilli()}, true
	case *influx.IntegerLiteral:
		return queryir.Bound{Ms: timeexpr.EpochToMs(v.Val)}, true
	}
	return queryir.Bound{}, false
}

// condition converts a non-time predicate. It returns nil when any part
// has no structural mapping.
func condition(e influx.Expr) queryir.Condition {
	b, ok := unparen(e).(*influx.BinaryExpr)
	if !ok {
		return nil
	}
	switch b.Op {
	case influx.AND, influx.OR:
		l, r := condition(b.LHS), condition(b.RHS)
		if l == nil || r == nil {
			return nil
		}
		if b.Op == influx.AND {
			return queryir.And{Conditions: []queryir.Condition{l, r}}
		}
		return queryir.Or{Conditions: []queryir.Condition{l, r}}
	case influx.EQREGEX, influx.NEQREGEX:
		col, ok := unparen(b.LHS).(*influx.VarRef)
		re, ok2 := unparen(b.RHS).(*influx.RegexLiteral)
		if !ok || !ok2 || re.Val == nil {
			return nil
		}
		return queryir.Regex{Column: col.Val, Pattern: re.Val.String(), Negated: b.Op == influx.NEQREGEX}
	}

	op, ok := compareOps[b.Op]
	if !ok {
		return nil
	}
	if col, ok := unparen(b.LHS).(*influx.VarRef); ok {
		if v, ok := literal(b.RHS); ok {
			return queryir.Comparison{Column: col.Val, Op: op, Value: v}
		}
	}
	if col, ok := unparen(b.RHS).(*influx.VarRef); ok {
		if v, ok := literal(b.LHS); ok {
			return queryir.Comparison{Column: col.Val, Op: op.Flip(), Value: v}
		}
	}
	return nil
}

// showPlan maps metadata statements to pseudo-sources.
func showPlan(plan *queryir.QueryPlan, stmt influx.Statement) {
	var (
		name    string
		db      string
		sources influx.Sources
		cond    influx.Expr
	)
	switch s := stmt.(type) {
	case *influx.ShowMeasurementsStatement:
		name, db, cond = "_measurements", s.Database, s.Condition
	case *influx.ShowTagKeysStatement:
		name, db, sources, cond = "_tag_keys", s.Database, s.Sources, s.Condition
	case *influx.ShowTagValuesStatement:
		name, db, sources, cond = "_tag_values", s.Database, s.Sources, s.Condition
	case *influx.ShowFieldKeysStatement:
		name, db, sources = "_field_keys", s.Database, s.Sources
	case *influx.ShowSeriesStatement:
		name, db, sources, cond = "_series", s.Database, s.Sources, s.Condition
	case *influx.ShowDatabasesStatement:
		name = "_databases"
	case *influx.ShowRetentionPoliciesStatement:
		name, db = "_retention_policies", s.Database
	default:
		plan.Hints.SetCustom("statement", stmt.String())
		return
	}

	plan.AddSource(queryir.DataSource{Name: name, Database: db, Kind: queryir.SourceMeasurement})
	plan.Database = db
	for _, src := range sources {
		if m, ok := src.(*influx.Measurement); ok {
			plan.Hints.SetCustom("from", m.Name)
		}
	}
	if cond != nil {
		conjuncts(cond, func(e influx.Expr) {
			if c := condition(e); c != nil {
				plan.AddFilter(c)
			}
		})
	}
}
