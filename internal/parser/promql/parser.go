// Package promql parses Prometheus query expressions into query plans.
//
// The expression is parsed with the upstream PromQL parser and its AST is
// walked innermost first, so
//
//	sum by (job) (rate(http_requests_total{code="500"}[5m]))
//
// yields one Metric source, a code == "500" filter, a Range window of
// 300000ms, and aggregations [rate, sum] grouped by the job tag.
package promql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/prometheus/pkg/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/roach88/polyql/internal/queryir"
)

// MaxDepth bounds expression nesting. Deeper input is rejected with a
// positioned ParseError before the upstream parser sees it.
const MaxDepth = 64

// Parser is the PromQL front end. The zero value is ready to use and safe
// for concurrent use.
type Parser struct{}

// New returns a PromQL parser.
func New() *Parser { return &Parser{} }

// Dialect returns queryir.PromQL.
func (*Parser) Dialect() queryir.Dialect { return queryir.PromQL }

// Parse converts a PromQL expression to a plan.
func (p *Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	return ParseAs(queryir.PromQL, text)
}

// ParseAs parses text as PromQL and tags the plan with dialect d. MetricsQL
// uses it for expressions that need none of its extensions.
func ParseAs(d queryir.Dialect, text string) (plan *queryir.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(d, "internal parser failure: %v", r)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(d, "empty expression")
	}
	if off, ok := DepthExceeded(text, MaxDepth); ok {
		return nil, queryir.ParseErrorAt(d, text, off, "expression nesting exceeds maximum depth %d", MaxDepth)
	}

	expr, perr := parser.ParseExpr(text)
	if perr != nil {
		return nil, convertError(d, text, perr)
	}

	plan = queryir.NewPlan(d, text)
	w := &walker{plan: plan, dialect: d}
	if err := w.walk(expr); err != nil {
		return nil, err
	}
	return plan, nil
}

func convertError(d queryir.Dialect, text string, err error) *queryir.ParseError {
	var errs parser.ParseErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return queryir.ParseErrorAt(d, text, int(errs[0].PositionRange.Start), "%v", errs[0].Err)
	}
	var one *parser.ParseErr
	if errors.As(err, &one) {
		return queryir.ParseErrorAt(d, text, int(one.PositionRange.Start), "%v", one.Err)
	}
	return queryir.NewParseError(d, "%v", err)
}

// DepthExceeded scans bracket nesting outside string literals and returns
// the offset where depth first exceeds limit.
func DepthExceeded(text string, limit int) (int, bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			depth++
			if depth > limit {
				return i, true
			}
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return 0, false
}

type walker struct {
	plan    *queryir.QueryPlan
	dialect queryir.Dialect
}

func (w *walker) walk(expr parser.Expr) error {
	switch e := expr.(type) {
	case *parser.ParenExpr:
		return w.walk(e.Expr)
	case *parser.StepInvariantExpr:
		return w.walk(e.Expr)
	case *parser.VectorSelector:
		w.selector(e, 0)
		return nil
	case *parser.MatrixSelector:
		vs, ok := e.VectorSelector.(*parser.VectorSelector)
		if !ok {
			return queryir.NewParseError(w.dialect, "range applied to non-selector %s", e.VectorSelector)
		}
		rangeMs := durationMs(e.Range)
		w.selector(vs, rangeMs)
		w.plan.AddWindow(queryir.Window{Kind: queryir.RangeWindow{DurationMs: rangeMs}})
		return nil
	case *parser.SubqueryExpr:
		return w.subquery(e)
	case *parser.Call:
		return w.call(e)
	case *parser.AggregateExpr:
		return w.aggregate(e)
	case *parser.BinaryExpr:
		return w.binary(e)
	case *parser.UnaryExpr:
		if err := w.walk(e.Expr); err != nil {
			return err
		}
		if e.Op == parser.SUB {
			w.plan.AddTransformation(queryir.Transformation{Op: queryir.MathOf(queryir.MathScale, -1)})
		}
		return nil
	case *parser.NumberLiteral:
		w.plan.Hints.SetCustom("scalar", queryir.FormatFloat(e.Val))
		return nil
	case *parser.StringLiteral:
		w.plan.Hints.SetCustom("string", e.Val)
		return nil
	default:
		w.plan.Hints.SetCustom("unmapped", expr.String())
		return nil
	}
}

func (w *walker) selector(vs *parser.VectorSelector, rangeMs int64) {
	name := vs.Name
	for _, m := range vs.LabelMatchers {
		if m.Name == labels.MetricName && m.Type == labels.MatchEqual {
			if name == "" {
				name = m.Value
			}
			continue
		}
		w.plan.AddFilter(matcherCondition(m))
	}
	if name != "" && !w.hasSource(name) {
		w.plan.AddSource(queryir.DataSource{Name: name, Kind: queryir.SourceMetric})
	}
	if vs.OriginalOffset != 0 {
		w.plan.Hints.SetCustom("offset_ms", fmt.Sprint(durationMs(vs.OriginalOffset)))
	}
	w.at(vs.Timestamp, vs.StartOrEnd, rangeMs)
}

func (w *walker) at(ts *int64, startOrEnd parser.ItemType, rangeMs int64) {
	switch {
	case ts != nil:
		w.plan.TimeRange = queryir.Absolute{StartMs: *ts - rangeMs, EndMs: *ts}
	case startOrEnd == parser.START:
		w.plan.Hints.SetCustom("at", "start()")
	case startOrEnd == parser.END:
		w.plan.Hints.SetCustom("at", "end()")
	}
}

func (w *walker) hasSource(name string) bool {
	for _, s := range w.plan.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}

func matcherCondition(m *labels.Matcher) queryir.Condition {
	switch m.Type {
	case labels.MatchNotEqual:
		return queryir.Comparison{Column: m.Name, Op: queryir.OpNotEq, Value: queryir.StringValue(m.Value)}
	case labels.MatchRegexp:
		return queryir.Regex{Column: m.Name, Pattern: m.Value}
	case labels.MatchNotRegexp:
		return queryir.Regex{Column: m.Name, Pattern: m.Value, Negated: true}
	default:
		return queryir.Comparison{Column: m.Name, Op: queryir.OpEq, Value: queryir.StringValue(m.Value)}
	}
}

func (w *walker) subquery(e *parser.SubqueryExpr) error {
	if err := w.walk(e.Expr); err != nil {
		return err
	}
	rangeMs := durationMs(e.Range)
	w.plan.AddWindow(queryir.Window{Kind: queryir.RangeWindow{DurationMs: rangeMs}})
	if e.Step != 0 {
		w.plan.Hints.StepMs = queryir.Int64Ptr(durationMs(e.Step))
	}
	if e.OriginalOffset != 0 {
		w.plan.Hints.SetCustom("offset_ms", fmt.Sprint(durationMs(e.OriginalOffset)))
	}
	w.at(e.Timestamp, e.StartOrEnd, rangeMs)
	return nil
}

func (w *walker) call(e *parser.Call) error {
	name := e.Func.Name
	if kind, ok := RangeFunctions[name]; ok {
		if len(e.Args) == 0 {
			return queryir.NewParseError(w.dialect, "%s: missing argument", name)
		}
		if err := w.walk(e.Args[0]); err != nil {
			return err
		}
		agg := queryir.Aggregation{Function: queryir.Fn(kind)}
		for _, extra := range e.Args[1:] {
			if v, ok := literal(extra); ok {
				agg.Args = append(agg.Args, v)
			}
		}
		w.plan.AddAggregation(agg)
		return nil
	}
	if kind, ok := OverTimeFunctions[name]; ok {
		if err := w.walk(e.Args[0]); err != nil {
			return err
		}
		w.plan.AddAggregation(queryir.Aggregation{Function: queryir.Fn(kind)})
		return nil
	}
	if m, ok := MathFunctions[name]; ok {
		if err := w.walk(e.Args[0]); err != nil {
			return err
		}
		if name == "round" && len(e.Args) > 1 {
			if n, ok := e.Args[1].(*parser.NumberLiteral); ok {
				m = queryir.MathOf(queryir.MathRound, n.Val)
			}
		}
		w.plan.AddTransformation(queryir.Transformation{Op: m})
		return nil
	}

	switch name {
	case "quantile_over_time":
		if err := w.walk(e.Args[1]); err != nil {
			return err
		}
		fn := queryir.Custom(name)
		if phi, ok := w.number(name, e.Args[0]); ok {
			fn = queryir.Percentile(phi * 100)
		}
		w.plan.AddAggregation(queryir.Aggregation{Function: fn})
		return nil
	case "histogram_quantile":
		if err := w.walk(e.Args[1]); err != nil {
			return err
		}
		fn := queryir.Custom(name)
		if phi, ok := w.number(name, e.Args[0]); ok {
			fn = queryir.HistogramQuantile(phi)
		}
		w.plan.AddAggregation(queryir.Aggregation{Function: fn})
		return nil
	case "label_replace":
		if err := w.walk(e.Args[0]); err != nil {
			return err
		}
		s := stringArgs(e.Args[1:])
		if len(s) == 4 {
			w.plan.AddTransformation(queryir.Transformation{Op: queryir.LabelReplace{
				Dst: s[0], Replacement: s[1], Src: s[2], Regex: s[3],
			}})
		}
		return nil
	case "label_join":
		if err := w.walk(e.Args[0]); err != nil {
			return err
		}
		s := stringArgs(e.Args[1:])
		if len(s) >= 2 {
			w.plan.AddTransformation(queryir.Transformation{Op: queryir.LabelJoin{
				Dst: s[0], Separator: s[1], Src: s[2:],
			}})
		}
		return nil
	}

	// Unknown to the plan model: walk the first vector argument and keep
	// the function as a custom transform.
	custom := queryir.CustomTransform{Name: name}
	walked := false
	for _, arg := range e.Args {
		if v, ok := literal(arg); ok {
			custom.Args = append(custom.Args, v)
			continue
		}
		if !walked {
			if err := w.walk(arg); err != nil {
				return err
			}
			walked = true
		}
	}
	w.plan.AddTransformation(queryir.Transformation{Op: custom})
	return nil
}

func (w *walker) aggregate(e *parser.AggregateExpr) error {
	if err := w.walk(e.Expr); err != nil {
		return err
	}
	var fn queryir.AggFunction
	switch e.Op {
	case parser.TOPK, parser.BOTTOMK:
		n, ok := w.number(e.Op.String(), e.Param)
		switch {
		case !ok:
			fn = queryir.Custom(e.Op.String())
		case e.Op == parser.TOPK:
			fn = queryir.TopK(int64(n))
		default:
			fn = queryir.BottomK(int64(n))
		}
	case parser.QUANTILE:
		fn = queryir.Custom("quantile")
		if phi, ok := w.number("quantile", e.Param); ok {
			fn = queryir.Percentile(phi * 100)
		}
	case parser.COUNT_VALUES:
		fn = queryir.Custom("count_values")
	case parser.GROUP:
		fn = queryir.Custom("group")
	default:
		kind, ok := AggregateOperators[e.Op]
		if !ok {
			fn = queryir.Custom(e.Op.String())
		} else {
			fn = queryir.Fn(kind)
		}
	}
	agg := queryir.Aggregation{Function: fn}
	if s, ok := e.Param.(*parser.StringLiteral); ok {
		agg.Args = append(agg.Args, queryir.StringValue(s.Val))
	}
	w.plan.AddAggregation(agg)

	if e.Without {
		w.plan.Hints.SetCustom("without", strings.Join(e.Grouping, ","))
		return nil
	}
	for _, label := range e.Grouping {
		w.plan.AddGroupBy(queryir.GroupTag{Name: label})
	}
	return nil
}

func (w *walker) binary(e *parser.BinaryExpr) error {
	lhsNum, lhsIsNum := unparen(e.LHS).(*parser.NumberLiteral)
	rhsNum, rhsIsNum := unparen(e.RHS).(*parser.NumberLiteral)

	switch {
	case rhsIsNum && !lhsIsNum:
		if err := w.walk(e.LHS); err != nil {
			return err
		}
		if op, ok := scalarOp(e.Op, rhsNum.Val, false); ok {
			w.plan.AddTransformation(queryir.Transformation{Op: op})
			return nil
		}
	case lhsIsNum && !rhsIsNum:
		if err := w.walk(e.RHS); err != nil {
			return err
		}
		if op, ok := scalarOp(e.Op, lhsNum.Val, true); ok {
			w.plan.AddTransformation(queryir.Transformation{Op: op})
			return nil
		}
	default:
		if err := w.walk(e.LHS); err != nil {
			return err
		}
	}
	w.plan.Hints.SetCustom("binary", e.String())
	return nil
}

// scalarOp maps vector <op> scalar (or scalar <op> vector when
// scalarLeft) to a point-wise transform.
func scalarOp(op parser.ItemType, v float64, scalarLeft bool) (queryir.TransformOp, bool) {
	switch op {
	case parser.MUL:
		return queryir.MathOf(queryir.MathScale, v), true
	case parser.ADD:
		return queryir.MathOf(queryir.MathShift, v), true
	case parser.DIV:
		if scalarLeft || v == 0 {
			return nil, false
		}
		return queryir.MathOf(queryir.MathScale, 1/v), true
	case parser.SUB:
		if scalarLeft {
			return nil, false
		}
		return queryir.MathOf(queryir.MathShift, -v), true
	case parser.POW:
		if scalarLeft {
			return nil, false
		}
		return queryir.MathOf(queryir.MathPow, v), true
	}
	return nil, false
}

// number returns a literal numeric parameter of fn. Any other expression
// is kept as the fn_param hint and ok is false.
func (w *walker) number(fn string, e parser.Expr) (float64, bool) {
	if n, ok := unparen(e).(*parser.NumberLiteral); ok {
		return n.Val, true
	}
	w.plan.Hints.SetCustom(fn+"_param", e.String())
	return 0, false
}

func unparen(e parser.Expr) parser.Expr {
	for {
		switch p := e.(type) {
		case *parser.ParenExpr:
			e = p.Expr
		case *parser.StepInvariantExpr:
			e = p.Expr
		default:
			return e
		}
	}
}

func literal(e parser.Expr) (queryir.Value, bool) {
	switch l := unparen(e).(type) {
	case *parser.NumberLiteral:
		return queryir.FloatValue(l.Val), true
	case *parser.StringLiteral:
		return queryir.StringValue(l.Val), true
	}
	return nil, false
}

func stringArgs(args parser.Expressions) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := unparen(a).(*parser.StringLiteral); ok {
			out = append(out, s.Val)
		}
	}
	return out
}

// durationMs converts d to milliseconds, rounding a sub-millisecond
// remainder up so no non-zero duration becomes zero.
func durationMs(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if d%time.Millisecond > 0 {
		ms++
	}
	return ms
}
