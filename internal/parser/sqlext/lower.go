package sqlext

import (
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// commonAggregates are the aggregate names every dialect shares.
var commonAggregates = map[string]queryir.AggKind{
	"count":       queryir.AggCount,
	"sum":         queryir.AggSum,
	"avg":         queryir.AggAvg,
	"mean":        queryir.AggAvg,
	"min":         queryir.AggMin,
	"max":         queryir.AggMax,
	"stddev":      queryir.AggStddev,
	"stddev_pop":  queryir.AggStddevPop,
	"stddev_samp": queryir.AggStddevSamp,
	"variance":    queryir.AggVariance,
	"var_pop":     queryir.AggVarPop,
	"var_samp":    queryir.AggVarSamp,
	"median":      queryir.AggMedian,
	"mode":        queryir.AggMode,
	"first":       queryir.AggFirst,
	"last":        queryir.AggLast,
	"first_value": queryir.AggFirst,
	"last_value":  queryir.AggLast,
}

type lowering struct {
	h       *hooks
	text    string
	plan    *queryir.QueryPlan
	st      *statement
	bounds  queryir.TimeBounds
	buckets map[string]bool
	// fill is requested by a select function (locf, interpolate) and
	// attached to the first interval window.
	fill *queryir.Fill
}

func lowerStatement(h *hooks, text string, st *statement) (*queryir.QueryPlan, error) {
	l := &lowering{
		h:       h,
		text:    text,
		plan:    queryir.NewPlan(h.dialect, text),
		st:      st,
		buckets: map[string]bool{},
	}
	if err := l.statement(); err != nil {
		return nil, err
	}
	return l.plan, nil
}

func (l *lowering) errorf(at int, format string, args ...any) *queryir.ParseError {
	return queryir.ParseErrorAt(l.h.dialect, l.text, at, format, args...)
}

func (l *lowering) statement() error {
	st := l.st
	if err := l.sources(); err != nil {
		return err
	}
	if len(st.ctes) > 0 {
		l.plan.Hints.SetCustom("with", strings.Join(st.ctes, ","))
	}
	if st.distinct {
		l.plan.Hints.SetCustom("distinct", "true")
	}
	for _, it := range st.items {
		if err := l.item(it.x, it.alias); err != nil {
			return err
		}
	}
	if st.prewhere != nil {
		l.plan.Hints.SetCustom("prewhere", render(st.prewhere))
		if err := l.where(st.prewhere); err != nil {
			return err
		}
	}
	if st.where != nil {
		if err := l.where(st.where); err != nil {
			return err
		}
	}
	for _, g := range st.groupBy {
		if err := l.group(g); err != nil {
			return err
		}
	}
	for _, g := range st.partition {
		if id, ok := g.(identExpr); ok {
			l.plan.AddGroupBy(queryir.GroupTag{Name: id.column()})
			continue
		}
		l.plan.AddGroupBy(queryir.GroupExpression{Text: render(g)})
	}
	if st.having != nil {
		l.plan.Hints.SetCustom("having", render(st.having))
	}
	for _, o := range st.orderBy {
		l.plan.OrderBy = append(l.plan.OrderBy, queryir.OrderBy{
			Column:     l.orderName(o.x),
			Ascending:  !o.desc,
			NullsFirst: o.nullsFirst,
		})
	}
	if st.limit != nil {
		l.plan.SetLimit(*st.limit)
	}
	if st.offset != nil {
		l.plan.SetOffset(*st.offset)
	}
	for _, step := range st.deferred {
		if err := step(l); err != nil {
			return err
		}
	}
	if l.fill != nil {
		l.attachFill(l.fill)
	}
	l.plan.TimeRange = l.bounds.Range()

	keys := make([]string, 0, len(st.hints))
	for k := range st.hints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		l.plan.Hints.SetCustom(k, st.hints[k])
	}
	return nil
}

func (l *lowering) sources() error {
	for _, ref := range l.st.from {
		var src queryir.DataSource
		if ref.sub != nil {
			sub, err := lowerStatement(l.h, l.text, ref.sub)
			if err != nil {
				return err
			}
			name := ref.alias
			if inner, ok := sub.PrimarySource(); ok && name == "" {
				name = inner.Name
			}
			src = queryir.DataSource{Name: name, Alias: ref.alias, Kind: queryir.SourceSubquery, Subquery: sub}
		} else {
			db, name := splitName(ref.parts)
			src = queryir.DataSource{Name: name, Database: db, Alias: ref.alias, Kind: queryir.SourceTable}
		}
		if ref.join != "" {
			l.plan.Hints.SetCustom("join", ref.join+" "+src.Name)
			if ref.on != nil {
				l.plan.Hints.SetCustom("join_on", render(ref.on))
			}
		}
		l.plan.AddSource(src)
	}
	if first, ok := l.plan.PrimarySource(); ok {
		l.plan.Database = first.Database
	}
	return nil
}

// attachFill sets f on the first interval-like window, or records it as a
// hint when the plan has none.
func (l *lowering) attachFill(f *queryir.Fill) {
	for i, w := range l.plan.Windows {
		switch w.Kind.(type) {
		case queryir.IntervalWindow, queryir.SampleByWindow:
			l.plan.Windows[i].Fill = f
			return
		}
	}
	l.plan.Hints.SetCustom("fill", f.Mode.String())
}

func (l *lowering) isTime(col string) bool {
	col = strings.ToLower(col)
	for _, t := range l.h.timeColumns {
		if col == t {
			return true
		}
	}
	return false
}

func (l *lowering) isTimeExpr(e expr) bool {
	switch x := e.(type) {
	case identExpr:
		return l.isTime(x.column())
	case castExpr:
		return l.isTimeExpr(x.x)
	}
	return false
}

// addBucket adds a time-bucket window once per distinct expression.
func (l *lowering) addBucket(key string, w queryir.Window) {
	if l.buckets[key] {
		return
	}
	l.buckets[key] = true
	l.plan.AddWindow(w)
}

func (l *lowering) bucketOf(c callExpr) (queryir.Window, string, bool) {
	if l.h.bucket != nil {
		if w, col, ok := l.h.bucket(l, c); ok {
			return w, col, true
		}
	}
	switch c.name {
	case "date_trunc":
		if len(c.args) == 2 {
			if unit, ok := c.args[0].(strExpr); ok {
				if ms, ok := timeexpr.UnitMs(unit.val); ok {
					return interval(ms), columnOf(c.args[1]), true
				}
			}
		}
	case "date_bin":
		if len(c.args) >= 2 {
			if ms, ok := l.durationOf(c.args[0]); ok {
				return interval(ms), columnOf(c.args[1]), true
			}
		}
	}
	return queryir.Window{}, "", false
}

func interval(ms int64) queryir.Window {
	return queryir.Window{Kind: queryir.IntervalWindow{DurationMs: ms}}
}

// columnOf returns the first column an expression references.
func columnOf(e expr) string {
	switch x := e.(type) {
	case identExpr:
		return x.column()
	case starExpr:
		return "*"
	case castExpr:
		return columnOf(x.x)
	case callExpr:
		for _, a := range x.args {
			if c := columnOf(a); c != "" {
				return c
			}
		}
	case binExpr:
		if c := columnOf(x.l); c != "" {
			return c
		}
		return columnOf(x.r)
	case unaryExpr:
		return columnOf(x.x)
	}
	return ""
}

func (l *lowering) item(e expr, alias string) error {
	switch x := e.(type) {
	case starExpr:
		return nil
	case identExpr:
		if !l.isTime(x.column()) {
			l.plan.AddColumn(x.column())
		}
		return nil
	case callExpr:
		if w, _, ok := l.bucketOf(x); ok {
			l.addBucket(render(x), w)
			if alias != "" {
				l.buckets[alias] = true
			}
			return nil
		}
		agg, ok, err := l.aggregation(x)
		if err != nil {
			return err
		}
		if ok {
			agg.Alias = alias
			l.plan.AddAggregation(agg)
			return nil
		}
		tr, ok, err := l.transformation(x)
		if err != nil {
			return err
		}
		if ok {
			tr.Alias = alias
			l.plan.AddTransformation(tr)
			return nil
		}
	case binExpr:
		if op, inner, ok := scalarArith(x); ok {
			if err := l.item(inner, ""); err != nil {
				return err
			}
			l.plan.AddTransformation(queryir.Transformation{Op: op, Alias: alias})
			return nil
		}
	case castExpr:
		if typ, ok := castType(x.typ); ok {
			if err := l.item(x.x, ""); err != nil {
				return err
			}
			l.plan.AddTransformation(queryir.Transformation{Op: queryir.Cast{Type: typ}, Column: columnOf(x.x), Alias: alias})
			return nil
		}
	}
	l.plan.Hints.SetCustom("select", render(e))
	return nil
}

func castType(t string) (queryir.DataType, bool) {
	switch t {
	case "int", "integer", "bigint", "smallint", "int32", "int64", "long":
		return queryir.TypeInt, true
	case "float", "double", "real", "float32", "float64", "numeric", "decimal", "double precision":
		return queryir.TypeFloat, true
	case "text", "varchar", "string", "char", "symbol":
		return queryir.TypeString, true
	case "bool", "boolean":
		return queryir.TypeBool, true
	case "timestamp", "timestamptz", "datetime", "datetime64":
		return queryir.TypeTimestamp, true
	}
	return "", false
}

// scalarArith recognizes expr <op> number and number <op> expr.
func scalarArith(b binExpr) (queryir.TransformOp, expr, bool) {
	if n, ok := number(b.r); ok {
		switch b.op {
		case "*":
			return queryir.MathOf(queryir.MathScale, n), b.l, true
		case "/":
			if n != 0 {
				return queryir.MathOf(queryir.MathScale, 1/n), b.l, true
			}
		case "+":
			return queryir.MathOf(queryir.MathShift, n), b.l, true
		case "-":
			return queryir.MathOf(queryir.MathShift, -n), b.l, true
		}
		return nil, nil, false
	}
	if n, ok := number(b.l); ok {
		switch b.op {
		case "*":
			return queryir.MathOf(queryir.MathScale, n), b.r, true
		case "+":
			return queryir.MathOf(queryir.MathShift, n), b.r, true
		}
	}
	return nil, nil, false
}

func number(e expr) (float64, bool) {
	n, ok := e.(numExpr)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.text, 64)
	return f, err == nil
}

// aggregation lowers an aggregate call. ok is false for non-aggregates.
func (l *lowering) aggregation(c callExpr) (queryir.Aggregation, bool, error) {
	if l.h.aggregate != nil {
		agg, ok, err := l.h.aggregate(l, c)
		if err != nil || ok {
			return agg, ok, err
		}
	}
	switch c.name {
	case "percentile_cont", "percentile_disc":
		if c.within == nil || len(c.args) != 1 {
			return queryir.Aggregation{}, false, nil
		}
		p, ok := number(c.args[0])
		if !ok {
			return queryir.Aggregation{}, false, l.errorf(c.at, "%s: expected a numeric fraction", c.name)
		}
		return queryir.Aggregation{Function: queryir.Percentile(p * 100), Column: columnOf(c.within)}, true, nil
	}
	kind, ok := l.h.aggregates[c.name]
	if !ok {
		kind, ok = commonAggregates[c.name]
	}
	if !ok || c.over {
		return queryir.Aggregation{}, false, nil
	}
	agg := queryir.Aggregation{Function: queryir.Fn(kind)}
	if kind == queryir.AggCount && c.distinct {
		agg.Function = queryir.Fn(queryir.AggCountDistinct)
	} else {
		agg.Distinct = c.distinct
	}
	if kind == queryir.AggCount && len(c.args) == 0 {
		agg.Column = "*"
	}
	for i, a := range c.args {
		if i == 0 {
			agg.Column = columnOf(a)
			continue
		}
		if v, ok := literal(a); ok {
			agg.Args = append(agg.Args, v)
		}
	}
	return agg, true, nil
}

// numberArg returns argument i of c as a number.
func (l *lowering) numberArg(c callExpr, i int) (float64, error) {
	if i < len(c.args) {
		if n, ok := number(c.args[i]); ok {
			return n, nil
		}
	}
	return 0, l.errorf(c.at, "%s: argument %d must be a number", c.name, i+1)
}

var mathFunctions = map[string]queryir.MathFunc{
	"abs":     queryir.MathAbs,
	"ceil":    queryir.MathCeil,
	"ceiling": queryir.MathCeil,
	"floor":   queryir.MathFloor,
	"round":   queryir.MathRound,
	"sqrt":    queryir.MathSqrt,
	"ln":      queryir.MathLog,
	"log":     queryir.MathLog,
	"log2":    queryir.MathLog,
	"log10":   queryir.MathLog,
	"exp":     queryir.MathExp,
	"pow":     queryir.MathPow,
	"power":   queryir.MathPow,
}

// transformation lowers a row function; an aggregate argument is added
// first and the transform applies to its result.
func (l *lowering) transformation(c callExpr) (queryir.Transformation, bool, error) {
	if l.h.transform != nil {
		if tr, ok := l.h.transform(l, c); ok {
			return tr, true, l.innerAggregate(c, &tr)
		}
	}
	fn, ok := mathFunctions[c.name]
	if !ok || len(c.args) == 0 || c.toUnit != "" {
		return queryir.Transformation{}, false, nil
	}
	m := queryir.Math{Func: fn}
	switch c.name {
	case "log2":
		m = queryir.MathOf(fn, 2)
	case "log10":
		m = queryir.MathOf(fn, 10)
	case "log", "round", "pow", "power":
		if len(c.args) > 1 {
			if n, ok := number(c.args[1]); ok {
				m = queryir.MathOf(fn, n)
			}
		}
	}
	tr := queryir.Transformation{Op: m}
	return tr, true, l.innerAggregate(c, &tr)
}

// innerAggregate lowers an aggregate first argument of c, or sets the
// transform column from it.
func (l *lowering) innerAggregate(c callExpr, tr *queryir.Transformation) error {
	if len(c.args) == 0 {
		return nil
	}
	if inner, ok := c.args[0].(callExpr); ok {
		agg, ok, err := l.aggregation(inner)
		if err != nil {
			return err
		}
		if ok {
			l.plan.AddAggregation(agg)
			return nil
		}
	}
	if tr.Column == "" {
		tr.Column = columnOf(c.args[0])
	}
	return nil
}

func (l *lowering) where(e expr) error {
	for _, c := range conjuncts(e) {
		if l.h.predicate != nil {
			ok, err := l.h.predicate(l, c)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
		}
		if l.timeBound(c) {
			continue
		}
		if cond, ok := l.condition(c); ok {
			l.plan.AddFilter(cond)
			continue
		}
		l.plan.Hints.SetCustom("where", render(c))
	}
	return nil
}

func conjuncts(e expr) []expr {
	if b, ok := e.(binExpr); ok && b.op == "AND" {
		return append(conjuncts(b.l), conjuncts(b.r)...)
	}
	return []expr{e}
}

var compareOps = map[string]queryir.CompareOp{
	"=":  queryir.OpEq,
	"!=": queryir.OpNotEq,
	"<":  queryir.OpLt,
	"<=": queryir.OpLtEq,
	">":  queryir.OpGt,
	">=": queryir.OpGtEq,
}

// timeBound folds a comparison of the time column into the time range.
func (l *lowering) timeBound(e expr) bool {
	switch x := e.(type) {
	case binExpr:
		op, ok := compareOps[x.op]
		if !ok || op == queryir.OpNotEq {
			return false
		}
		val := x.r
		if !l.isTimeExpr(x.l) {
			if !l.isTimeExpr(x.r) {
				return false
			}
			val, op = x.l, op.Flip()
		}
		b, ok := l.timeValue(val)
		if !ok {
			return false
		}
		switch op {
		case queryir.OpGt, queryir.OpGtEq:
			l.bounds.SetLower(b)
		case queryir.OpLt, queryir.OpLtEq:
			l.bounds.SetUpper(b)
		case queryir.OpEq:
			l.bounds.SetLower(b)
			l.bounds.SetUpper(b)
		}
		return true
	case betweenExpr:
		if x.not || !l.isTimeExpr(x.x) {
			return false
		}
		lo, ok1 := l.timeValue(x.lo)
		hi, ok2 := l.timeValue(x.hi)
		if !ok1 || !ok2 {
			return false
		}
		l.bounds.SetLower(lo)
		l.bounds.SetUpper(hi)
		return true
	}
	return false
}

var nowFunctions = map[string]bool{
	"now": true, "current_timestamp": true, "localtimestamp": true,
	"sysdate": true, "systimestamp": true, "getdate": true, "now64": true,
	"today": true, "current_date": true,
}

// timeValue evaluates a time expression: now(), now() - interval, a
// timestamp string or an epoch number.
func (l *lowering) timeValue(e expr) (queryir.Bound, bool) {
	if l.h.timeValue != nil {
		if b, ok := l.h.timeValue(l, e); ok {
			return b, true
		}
	}
	switch x := e.(type) {
	case callExpr:
		if nowFunctions[x.name] {
			return queryir.Now, true
		}
		switch x.name {
		case "to_timestamp", "todatetime", "todatetime64", "timestamp", "parsedatetimebesteffort":
			if len(x.args) > 0 {
				if s, ok := x.args[0].(strExpr); ok {
					return absolute(s.val)
				}
			}
		}
	case identExpr:
		if len(x.parts) == 1 && nowFunctions[strings.ToLower(x.parts[0])] {
			return queryir.Now, true
		}
	case strExpr:
		return absolute(x.val)
	case numExpr:
		n, err := strconv.ParseInt(x.text, 10, 64)
		if err != nil {
			return queryir.Bound{}, false
		}
		return queryir.Bound{Ms: timeexpr.EpochToMs(n)}, true
	case castExpr:
		return l.timeValue(x.x)
	case binExpr:
		if x.op != "+" && x.op != "-" {
			return queryir.Bound{}, false
		}
		base, ok := l.timeValue(x.l)
		if !ok {
			return queryir.Bound{}, false
		}
		d, ok := l.durationOf(x.r)
		if !ok {
			return queryir.Bound{}, false
		}
		if x.op == "-" {
			d = -d
		}
		return queryir.Bound{Ms: base.Ms + d, Relative: base.Relative}, true
	}
	return queryir.Bound{}, false
}

func absolute(s string) (queryir.Bound, bool) {
	ms, err := timeexpr.ParseTime(s)
	if err != nil {
		return queryir.Bound{}, false
	}
	return queryir.Bound{Ms: ms}, true
}

// durationOf evaluates an interval expression in milliseconds.
func (l *lowering) durationOf(e expr) (int64, bool) {
	switch x := e.(type) {
	case intervalExpr:
		return x.ms, true
	case durExpr:
		return x.ms, true
	case strExpr:
		ms, err := timeexpr.ParseDuration(x.val)
		return ms, err == nil
	case castExpr:
		if x.typ == "interval" {
			return l.durationOf(x.x)
		}
	case unaryExpr:
		if x.op == "-" {
			d, ok := l.durationOf(x.x)
			return -d, ok
		}
	case callExpr:
		// ClickHouse toIntervalHour(1)
		if strings.HasPrefix(x.name, "tointerval") && len(x.args) == 1 {
			unit, ok := timeexpr.UnitMs(strings.TrimPrefix(x.name, "tointerval"))
			n, isNum := number(x.args[0])
			if ok && isNum {
				return int64(n * float64(unit)), true
			}
		}
	}
	return 0, false
}

// condition lowers a predicate to a plan condition.
func (l *lowering) condition(e expr) (queryir.Condition, bool) {
	switch x := e.(type) {
	case binExpr:
		switch x.op {
		case "AND", "OR":
			lc, ok1 := l.condition(x.l)
			rc, ok2 := l.condition(x.r)
			if !ok1 || !ok2 {
				return nil, false
			}
			if x.op == "AND" {
				return queryir.And{Conditions: flatten(true, lc, rc)}, true
			}
			return queryir.Or{Conditions: flatten(false, lc, rc)}, true
		}
		return l.comparison(x)
	case unaryExpr:
		if x.op != "NOT" {
			return nil, false
		}
		inner, ok := l.condition(x.x)
		if !ok {
			return nil, false
		}
		return queryir.Not{Condition: inner}, true
	case inExpr:
		col, ok := x.x.(identExpr)
		if !ok || x.sub != nil {
			return nil, false
		}
		vals := make([]queryir.Value, 0, len(x.list))
		for _, item := range x.list {
			v, ok := literal(item)
			if !ok {
				return nil, false
			}
			vals = append(vals, v)
		}
		return queryir.In{Column: col.column(), Values: vals, Negated: x.not}, true
	case betweenExpr:
		col, ok := x.x.(identExpr)
		lo, ok1 := literal(x.lo)
		hi, ok2 := literal(x.hi)
		if !ok || !ok1 || !ok2 {
			return nil, false
		}
		return queryir.Between{Column: col.column(), Low: lo, High: hi, Negated: x.not}, true
	case isNullExpr:
		col, ok := x.x.(identExpr)
		if !ok {
			return nil, false
		}
		return queryir.IsNull{Column: col.column(), Negated: x.not}, true
	case callExpr:
		switch x.name {
		case "match", "regexp_like", "regexp_matches":
			if len(x.args) == 2 {
				col, ok1 := x.args[0].(identExpr)
				pat, ok2 := x.args[1].(strExpr)
				if ok1 && ok2 {
					return queryir.Regex{Column: col.column(), Pattern: pat.val}, true
				}
			}
		}
	}
	return nil, false
}

// flatten splices nested conditions of the same connective.
func flatten(and bool, conds ...queryir.Condition) []queryir.Condition {
	var out []queryir.Condition
	for _, c := range conds {
		switch v := c.(type) {
		case queryir.And:
			if and {
				out = append(out, v.Conditions...)
				continue
			}
		case queryir.Or:
			if !and {
				out = append(out, v.Conditions...)
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func (l *lowering) comparison(b binExpr) (queryir.Condition, bool) {
	colExpr, valExpr, flipped := b.l, b.r, false
	if _, ok := colExpr.(identExpr); !ok {
		colExpr, valExpr, flipped = b.r, b.l, true
	}
	col, ok := colExpr.(identExpr)
	if !ok {
		return nil, false
	}
	if op, ok := compareOps[b.op]; ok {
		v, ok := literal(valExpr)
		if !ok {
			return nil, false
		}
		if flipped {
			op = op.Flip()
		}
		return queryir.Comparison{Column: col.column(), Op: op, Value: v}, true
	}
	if flipped {
		return nil, false
	}
	pat, ok := valExpr.(strExpr)
	if !ok {
		return nil, false
	}
	switch b.op {
	case "LIKE", "ILIKE":
		return queryir.Comparison{Column: col.column(), Op: queryir.OpLike, Value: queryir.StringValue(pat.val)}, true
	case "NOT LIKE", "NOT ILIKE":
		return queryir.Comparison{Column: col.column(), Op: queryir.OpNotLike, Value: queryir.StringValue(pat.val)}, true
	case "~", "~*", "REGEXP":
		return queryir.Regex{Column: col.column(), Pattern: pat.val}, true
	case "!~", "!~*", "NOT REGEXP":
		return queryir.Regex{Column: col.column(), Pattern: pat.val, Negated: true}, true
	}
	return nil, false
}

func literal(e expr) (queryir.Value, bool) {
	switch x := e.(type) {
	case numExpr:
		return queryir.ParseNumber(x.text)
	case strExpr:
		return queryir.StringValue(x.val), true
	case keywordExpr:
		switch x.word {
		case "NULL":
			return queryir.NullValue{}, true
		case "TRUE":
			return queryir.BoolValue(true), true
		case "FALSE":
			return queryir.BoolValue(false), true
		}
	case durExpr:
		return queryir.DurationValue(x.ms), true
	case intervalExpr:
		return queryir.DurationValue(x.ms), true
	}
	return nil, false
}

func (l *lowering) group(g expr) error {
	switch x := g.(type) {
	case numExpr:
		n, err := strconv.Atoi(x.text)
		if err != nil || n < 1 || n > len(l.st.items) {
			return l.errorf(x.at, "GROUP BY position %s is not in the select list", x.text)
		}
		item := l.st.items[n-1]
		if l.buckets[render(item.x)] {
			return nil
		}
		return l.group(item.x)
	case identExpr:
		if l.buckets[x.name()] {
			return nil
		}
		l.plan.AddGroupBy(queryir.GroupColumn{Name: x.column()})
		return nil
	case callExpr:
		if w, _, ok := l.bucketOf(x); ok {
			l.addBucket(render(x), w)
			return nil
		}
	}
	l.plan.AddGroupBy(queryir.GroupExpression{Text: render(g)})
	return nil
}

// orderName resolves an ORDER BY key to a column or alias name.
func (l *lowering) orderName(e expr) string {
	switch x := e.(type) {
	case identExpr:
		return x.column()
	case numExpr:
		if n, err := strconv.Atoi(x.text); err == nil && n >= 1 && n <= len(l.st.items) {
			item := l.st.items[n-1]
			if item.alias != "" {
				return item.alias
			}
			return l.orderName(item.x)
		}
	}
	text := render(e)
	for _, it := range l.st.items {
		if it.alias != "" && render(it.x) == text {
			return it.alias
		}
	}
	return text
}
