package translate

import (
	"strconv"
	"strings"

	influx "github.com/influxdata/influxql"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// InfluxQL renders plans as InfluxQL SELECT statements.
type InfluxQL struct{}

// NewInfluxQL returns the InfluxQL translator.
func NewInfluxQL() *InfluxQL { return &InfluxQL{} }

// Target implements Translator.
func (*InfluxQL) Target() queryir.Dialect { return queryir.InfluxQL }

var influxAggregates = map[queryir.AggKind]string{
	queryir.AggCount:      "count",
	queryir.AggSum:        "sum",
	queryir.AggAvg:        "mean",
	queryir.AggMin:        "min",
	queryir.AggMax:        "max",
	queryir.AggStddev:     "stddev",
	queryir.AggStddevPop:  "stddev",
	queryir.AggStddevSamp: "stddev",
	queryir.AggMedian:     "median",
	queryir.AggMode:       "mode",
	queryir.AggSpread:     "spread",
	queryir.AggFirst:      "first",
	queryir.AggFirstRow:   "first",
	queryir.AggLast:       "last",
	queryir.AggLastRow:    "last",
	queryir.AggIntegral:   "integral",
}

// Translate implements Translator.
func (q *InfluxQL) Translate(plan *queryir.QueryPlan) (string, error) {
	src, err := primarySource(queryir.InfluxQL, plan)
	if err != nil {
		return "", err
	}
	from, err := q.source(src)
	if err != nil {
		return "", err
	}
	for _, extra := range plan.Sources[1:] {
		s, err := q.source(extra)
		if err != nil {
			return "", err
		}
		from += ", " + s
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.fields(plan), ", "))
	b.WriteString(" FROM ")
	b.WriteString(from)

	where := make([]string, 0, len(plan.Filters)+2)
	for _, f := range plan.Filters {
		where = append(where, influxCondition(f.Condition))
	}
	s := timeSpan(plan)
	if s.lower != nil {
		where = append(where, "time > "+influxBound(*s.lower))
	}
	if s.upper != nil {
		where = append(where, "time <= "+influxBound(*s.upper))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	var group []string
	bk, hasBucket := bucketOf(plan)
	if hasBucket {
		t := "time(" + influxDuration(bk.ms)
		if bk.offsetMs != 0 {
			t += ", " + influxDuration(bk.offsetMs)
		}
		group = append(group, t+")")
	}
	for _, g := range plan.GroupBy {
		switch k := g.Expr.(type) {
		case queryir.GroupTag:
			group = append(group, influxIdent(k.Name))
		case queryir.GroupColumn:
			group = append(group, influxIdent(k.Name))
		case queryir.AllTags:
			group = append(group, "*")
		}
	}
	if len(group) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(group, ", "))
	}
	if hasBucket {
		if f := influxFill(bk.fill); f != "" {
			b.WriteString(" FILL(" + f + ")")
		}
	}

	for _, o := range plan.OrderBy {
		if isTimeColumn(o.Column) {
			if o.Ascending {
				b.WriteString(" ORDER BY time ASC")
			} else {
				b.WriteString(" ORDER BY time DESC")
			}
			break
		}
	}
	if plan.Limit != nil {
		b.WriteString(" LIMIT " + strconv.FormatInt(*plan.Limit, 10))
	}
	if plan.Offset != nil {
		b.WriteString(" OFFSET " + strconv.FormatInt(*plan.Offset, 10))
	}
	if v, ok := plan.Hints.CustomValue("slimit"); ok && isDigits(v) {
		b.WriteString(" SLIMIT " + v)
	}
	if v, ok := plan.Hints.CustomValue("soffset"); ok && isDigits(v) {
		b.WriteString(" SOFFSET " + v)
	}
	if v, ok := plan.Hints.CustomValue("tz"); ok {
		b.WriteString(" tz(" + influx.QuoteString(v) + ")")
	}
	return b.String(), nil
}

func (q *InfluxQL) source(src queryir.DataSource) (string, error) {
	if src.Kind == queryir.SourceSubquery && src.Subquery != nil {
		inner, err := q.Translate(src.Subquery)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	}
	name := src.Name
	if !(len(name) > 1 && strings.HasPrefix(name, "/") && strings.HasSuffix(name, "/")) {
		name = influxIdent(name)
	}
	switch {
	case src.Database != "":
		return influxIdent(src.Database) + "." + influxRP(src.RetentionPolicy) + "." + name, nil
	case src.RetentionPolicy != "":
		return influxIdent(src.RetentionPolicy) + "." + name, nil
	}
	return name, nil
}

func influxRP(rp string) string {
	if rp == "" {
		return ""
	}
	return influxIdent(rp)
}

// fields builds the select list. Chained aggregations and column-less
// transformations nest around the previous field.
func (q *InfluxQL) fields(plan *queryir.QueryPlan) []string {
	var fields []string
	for i, a := range plan.Aggregations {
		var inner string
		if chained(plan.Aggregations, i) && len(fields) > 0 {
			inner, _ = splitAlias(fields[len(fields)-1])
			fields = fields[:len(fields)-1]
		} else {
			inner = influxIdent(valueColumn(a.Column))
			if a.Column == "*" {
				inner = "*"
			}
		}
		expr, ok := influxAggregate(a, inner)
		if !ok {
			expr = inner
		}
		if a.Alias != "" {
			expr += " AS " + influxIdent(a.Alias)
		}
		fields = append(fields, expr)
	}
	for _, tr := range plan.Transformations {
		if tr.Column != "" || len(fields) == 0 {
			fields = append(fields, influxIdent(valueColumn(tr.Column)))
		}
		last := fields[len(fields)-1]
		base, alias := splitAlias(last)
		if x, ok := influxTransform(tr.Op, base); ok {
			base = x
		}
		if tr.Alias != "" {
			alias = " AS " + influxIdent(tr.Alias)
		}
		fields[len(fields)-1] = base + alias
	}
	if len(fields) == 0 {
		for _, c := range plan.Columns {
			if c == "*" {
				fields = append(fields, "*")
				continue
			}
			fields = append(fields, influxIdent(c))
		}
	}
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	return fields
}

func splitAlias(field string) (string, string) {
	if i := strings.LastIndex(field, " AS "); i >= 0 {
		return field[:i], field[i:]
	}
	return field, ""
}

func influxAggregate(a queryir.Aggregation, x string) (string, bool) {
	fn := a.Function
	if name, ok := influxAggregates[fn.Kind]; ok {
		return name + "(" + x + ")", true
	}
	n := strconv.FormatInt(fn.N, 10)
	switch fn.Kind {
	case queryir.AggCountDistinct:
		return "count(distinct(" + x + "))", true
	case queryir.AggPercentile, queryir.AggApercentile:
		return "percentile(" + x + ", " + queryir.FormatFloat(fn.Param) + ")", true
	case queryir.AggTopK:
		return "top(" + x + ", " + n + ")", true
	case queryir.AggBottomK:
		return "bottom(" + x + ", " + n + ")", true
	case queryir.AggSample:
		return "sample(" + x + ", " + n + ")", true
	case queryir.AggRate, queryir.AggIrate, queryir.AggDeriv:
		return "derivative(" + x + ", 1s)", true
	case queryir.AggIncrease:
		return "non_negative_difference(" + x + ")", true
	case queryir.AggDelta, queryir.AggIdelta:
		return "difference(" + x + ")", true
	case queryir.AggCustom:
		if fn.Name == "distinct" {
			return "distinct(" + x + ")", true
		}
	}
	return "", false
}

func influxTransform(op queryir.TransformOp, x string) (string, bool) {
	switch o := op.(type) {
	case queryir.Math:
		return influxMath(o, x), true
	case queryir.Derivative:
		fn := "derivative"
		if o.NonNegative {
			fn = "non_negative_derivative"
		}
		if o.UnitMs > 0 {
			return fn + "(" + x + ", " + influxDuration(o.UnitMs) + ")", true
		}
		return fn + "(" + x + ")", true
	case queryir.Difference:
		if o.NonNegative {
			return "non_negative_difference(" + x + ")", true
		}
		return "difference(" + x + ")", true
	case queryir.MovingAverage:
		return "moving_average(" + x + ", " + strconv.FormatInt(o.Points, 10) + ")", true
	case queryir.CumulativeSum:
		return "cumulative_sum(" + x + ")", true
	case queryir.Elapsed:
		if o.UnitMs > 0 {
			return "elapsed(" + x + ", " + influxDuration(o.UnitMs) + ")", true
		}
		return "elapsed(" + x + ")", true
	}
	return x, false
}

func influxMath(m queryir.Math, x string) string {
	switch m.Func {
	case queryir.MathLog:
		switch {
		case m.Arg == nil:
			return "ln(" + x + ")"
		case *m.Arg == 2:
			return "log2(" + x + ")"
		case *m.Arg == 10:
			return "log10(" + x + ")"
		}
		return "log(" + x + ", " + queryir.FormatFloat(*m.Arg) + ")"
	case queryir.MathRound:
		// InfluxQL's round takes no precision.
		return "round(" + x + ")"
	case queryir.MathPow:
		return "pow(" + x + ", " + mathArg(m) + ")"
	case queryir.MathScale:
		return paren(x) + " * " + mathArg(m)
	case queryir.MathShift:
		if m.Arg != nil && *m.Arg < 0 {
			return paren(x) + " - " + queryir.FormatFloat(-*m.Arg)
		}
		return paren(x) + " + " + mathArg(m)
	}
	return m.Func.String() + "(" + x + ")"
}

func mathArg(m queryir.Math) string {
	if m.Arg == nil {
		return "0"
	}
	return queryir.FormatFloat(*m.Arg)
}

var influxOps = map[queryir.CompareOp]string{
	queryir.OpEq:    "=",
	queryir.OpNotEq: "!=",
	queryir.OpLt:    "<",
	queryir.OpLtEq:  "<=",
	queryir.OpGt:    ">",
	queryir.OpGtEq:  ">=",
}

func influxCondition(c queryir.Condition) string {
	switch v := c.(type) {
	case queryir.Comparison:
		switch v.Op {
		case queryir.OpLike:
			return influxIdent(v.Column) + " =~ " + influxRegex(likeToRegex(plainString(v.Value)))
		case queryir.OpNotLike:
			return influxIdent(v.Column) + " !~ " + influxRegex(likeToRegex(plainString(v.Value)))
		}
		return influxIdent(v.Column) + " " + influxOps[v.Op] + " " + influxValue(v.Value)
	case queryir.Regex:
		op := " =~ "
		if v.Negated {
			op = " !~ "
		}
		return influxIdent(v.Column) + op + influxRegex(v.Pattern)
	case queryir.In:
		parts := make([]queryir.Condition, len(v.Values))
		for i, val := range v.Values {
			op := queryir.OpEq
			if v.Negated {
				op = queryir.OpNotEq
			}
			parts[i] = queryir.Comparison{Column: v.Column, Op: op, Value: val}
		}
		if v.Negated {
			return influxCondition(queryir.And{Conditions: parts})
		}
		return influxCondition(queryir.Or{Conditions: parts})
	case queryir.Between:
		if v.Negated {
			return influxCondition(queryir.Or{Conditions: []queryir.Condition{
				queryir.Comparison{Column: v.Column, Op: queryir.OpLt, Value: v.Low},
				queryir.Comparison{Column: v.Column, Op: queryir.OpGt, Value: v.High},
			}})
		}
		return influxCondition(queryir.And{Conditions: []queryir.Condition{
			queryir.Comparison{Column: v.Column, Op: queryir.OpGtEq, Value: v.Low},
			queryir.Comparison{Column: v.Column, Op: queryir.OpLtEq, Value: v.High},
		}})
	case queryir.IsNull:
		// Tags are never null in InfluxDB; a missing tag reads as ''.
		if v.Negated {
			return influxIdent(v.Column) + " != ''"
		}
		return influxIdent(v.Column) + " = ''"
	case queryir.And:
		return influxJunction(v.Conditions, " AND ")
	case queryir.Or:
		return influxJunction(v.Conditions, " OR ")
	case queryir.Not:
		return influxCondition(negate(v.Condition))
	}
	return "true"
}

func influxJunction(conds []queryir.Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = influxCondition(c)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func influxValue(v queryir.Value) string {
	switch x := v.(type) {
	case nil, queryir.NullValue:
		return "''"
	case queryir.StringValue:
		return influx.QuoteString(string(x))
	case queryir.TimestampValue:
		return influx.QuoteString(timeexpr.FormatRFC3339(int64(x)))
	case queryir.DurationValue:
		return influxDuration(int64(x))
	case queryir.BytesValue:
		return influx.QuoteString(string(x))
	case queryir.ListValue:
		return influx.QuoteString(x.String())
	}
	return v.String()
}

func influxBound(b queryir.Bound) string {
	if !b.Relative {
		return influx.QuoteString(timeexpr.FormatRFC3339(b.Ms))
	}
	switch {
	case b.Ms == 0:
		return "now()"
	case b.Ms < 0:
		return "now() - " + influxDuration(-b.Ms)
	}
	return "now() + " + influxDuration(b.Ms)
}

func influxDuration(ms int64) string { return timeexpr.FormatShort(ms, "ms") }

// influxIdent always double-quotes, so keywords and odd characters need no
// special casing.
func influxIdent(name string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
}

func influxRegex(pattern string) string {
	return "/" + strings.ReplaceAll(pattern, "/", `\/`) + "/"
}

func influxFill(f *queryir.Fill) string {
	if f == nil {
		return ""
	}
	switch f.Mode {
	case queryir.FillNone:
		return "none"
	case queryir.FillNull:
		return "null"
	case queryir.FillPrevious:
		return "previous"
	case queryir.FillLinear:
		return "linear"
	case queryir.FillValue:
		if f.Value != nil {
			return f.Value.String()
		}
	}
	return ""
}

func isTimeColumn(col string) bool {
	switch strings.ToLower(col) {
	case "time", "_time", "timestamp", "ts", "bucket", "__time", "_wstart":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
