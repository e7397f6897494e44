package translate

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// Flux renders plans as Flux pipelines. Plan columns become _field filters
// and aggregates run over _value.
type Flux struct {
	// DefaultBucket is used when the plan names no database.
	DefaultBucket string
}

// NewFlux returns the Flux translator.
func NewFlux() *Flux { return &Flux{DefaultBucket: "default"} }

// Target implements Translator.
func (*Flux) Target() queryir.Dialect { return queryir.Flux }

const fluxStageSep = "\n    |> "

var fluxAggregates = map[queryir.AggKind]string{
	queryir.AggAvg:      "mean",
	queryir.AggSum:      "sum",
	queryir.AggCount:    "count",
	queryir.AggMin:      "min",
	queryir.AggMax:      "max",
	queryir.AggMedian:   "median",
	queryir.AggMode:     "mode",
	queryir.AggSpread:   "spread",
	queryir.AggStddev:   "stddev",
	queryir.AggFirst:    "first",
	queryir.AggFirstRow: "first",
	queryir.AggLast:     "last",
	queryir.AggLastRow:  "last",
	queryir.AggIntegral: "integral",
	queryir.AggIncrease: "increase",
}

// Translate implements Translator.
func (f *Flux) Translate(plan *queryir.QueryPlan) (string, error) {
	src, err := primarySource(queryir.Flux, plan)
	if err != nil {
		return "", err
	}
	if src.Kind == queryir.SourceSubquery {
		return "", queryir.Unsupported(queryir.Flux, "subquery", "flux pipelines have no subquery source")
	}
	bucketName := plan.Database
	if bucketName == "" {
		bucketName = src.Database
	}
	if bucketName == "" {
		bucketName = f.DefaultBucket
	}

	stages := []string{"from(bucket: " + fluxString(bucketName) + ")", fluxRange(plan)}

	var names []string
	for _, s := range plan.Sources {
		if s.Name != "" && s.Kind != queryir.SourceSubquery {
			names = append(names, s.Name)
		}
	}
	stages = append(stages, fluxEquals("_measurement", names))
	if fields := fluxFields(plan); len(fields) > 0 {
		stages = append(stages, fluxEquals("_field", fields))
	}
	if len(plan.Filters) > 0 {
		conds := make([]string, len(plan.Filters))
		for i, flt := range plan.Filters {
			conds[i] = fluxCondition(flt.Condition)
		}
		stages = append(stages, "filter(fn: (r) => "+strings.Join(conds, " and ")+")")
	}

	var keys []string
	for _, g := range plan.GroupBy {
		if name, ok := queryir.GroupName(g.Expr); ok {
			keys = append(keys, fluxString(name))
		}
	}
	if len(keys) > 0 {
		stages = append(stages, "group(columns: ["+strings.Join(keys, ", ")+"])")
	}

	stages = append(stages, f.aggregationStages(plan)...)

	needsMath := false
	for _, tr := range plan.Transformations {
		stage, usesMath, ok := fluxTransform(tr.Op)
		if !ok {
			continue
		}
		needsMath = needsMath || usesMath
		stages = append(stages, stage)
	}

	if len(plan.OrderBy) > 0 {
		cols := make([]string, len(plan.OrderBy))
		for i, o := range plan.OrderBy {
			cols[i] = fluxString(fluxColumn(o.Column))
		}
		sort := "sort(columns: [" + strings.Join(cols, ", ") + "]"
		if !plan.OrderBy[0].Ascending {
			sort += ", desc: true"
		}
		stages = append(stages, sort+")")
	}
	if plan.Limit != nil {
		limit := "limit(n: " + strconv.FormatInt(*plan.Limit, 10)
		if plan.Offset != nil && *plan.Offset > 0 {
			limit += ", offset: " + strconv.FormatInt(*plan.Offset, 10)
		}
		stages = append(stages, limit+")")
	}

	out := strings.Join(stages, fluxStageSep)
	if needsMath {
		out = "import \"math\"\n\n" + out
	}
	return out, nil
}

// aggregationStages renders the first aggregation as aggregateWindow when
// the plan is bucketed and the rest as plain stages.
func (f *Flux) aggregationStages(plan *queryir.QueryPlan) []string {
	var stages []string
	b, hasBucket := bucketOf(plan)
	windowed := false
	if hasBucket && b.sliding != nil {
		stages = append(stages, "window(every: "+fluxDuration(*b.sliding)+", period: "+fluxDuration(b.ms)+")")
		windowed = true
	}
	for _, a := range plan.Aggregations {
		if hasBucket && !windowed {
			if fn, ok := fluxWindowFn(a.Function); ok {
				stages = append(stages, fluxAggregateWindow(b, fn))
				if fill := fluxFill(b.fill); fill != "" {
					stages = append(stages, fill)
				}
				windowed = true
				continue
			}
		}
		stages = append(stages, fluxAggregate(a.Function)...)
	}
	if hasBucket && !windowed {
		stages = append(stages, "window(every: "+fluxDuration(b.ms)+")")
	}
	return stages
}

func fluxWindowFn(fn queryir.AggFunction) (string, bool) {
	if name, ok := fluxAggregates[fn.Kind]; ok {
		return name, true
	}
	switch fn.Kind {
	case queryir.AggPercentile, queryir.AggApercentile:
		return "(column, tables=<-) => tables |> quantile(q: " + fraction(fn.Param) + ", column: column)", true
	}
	return "", false
}

func fluxAggregateWindow(b bucket, fn string) string {
	s := "aggregateWindow(every: " + fluxDuration(b.ms)
	if b.offsetMs != 0 {
		s += ", offset: " + fluxDuration(b.offsetMs)
	}
	s += ", fn: " + fn
	if b.fill != nil {
		if b.fill.Mode == queryir.FillNone {
			s += ", createEmpty: false"
		} else {
			s += ", createEmpty: true"
		}
	}
	return s + ")"
}

func fluxFill(f *queryir.Fill) string {
	if f == nil {
		return ""
	}
	switch f.Mode {
	case queryir.FillPrevious:
		return "fill(usePrevious: true)"
	case queryir.FillValue:
		if n, ok := queryir.NumberOf(f.Value); ok {
			return "fill(value: " + fluxFloat(n) + ")"
		}
	}
	return ""
}

func fluxAggregate(fn queryir.AggFunction) []string {
	if name, ok := fluxAggregates[fn.Kind]; ok {
		return []string{name + "()"}
	}
	n := strconv.FormatInt(fn.N, 10)
	switch fn.Kind {
	case queryir.AggPercentile, queryir.AggApercentile:
		return []string{"quantile(q: " + fraction(fn.Param) + ")"}
	case queryir.AggTopK:
		return []string{"top(n: " + n + ")"}
	case queryir.AggBottomK:
		return []string{"bottom(n: " + n + ")"}
	case queryir.AggSample:
		return []string{"sample(n: " + n + ")"}
	case queryir.AggCountDistinct:
		return []string{"distinct()", "count()"}
	case queryir.AggRate, queryir.AggIrate:
		return []string{"derivative(unit: 1s, nonNegative: true)"}
	case queryir.AggDeriv:
		return []string{"derivative(unit: 1s)"}
	case queryir.AggDelta, queryir.AggIdelta:
		return []string{"difference()"}
	case queryir.AggCustom:
		switch fn.Name {
		case "distinct", "unique":
			return []string{fn.Name + "()"}
		}
	}
	return nil
}

// fluxTransform returns the stage for op and whether it needs the math
// package.
func fluxTransform(op queryir.TransformOp) (string, bool, bool) {
	switch o := op.(type) {
	case queryir.Math:
		expr, usesMath := fluxMath(o)
		return "map(fn: (r) => ({r with _value: " + expr + "}))", usesMath, true
	case queryir.Derivative:
		unit := o.UnitMs
		if unit == 0 {
			unit = timeexpr.Second
		}
		s := "derivative(unit: " + fluxDuration(unit)
		if o.NonNegative {
			s += ", nonNegative: true"
		}
		return s + ")", false, true
	case queryir.Difference:
		if o.NonNegative {
			return "difference(nonNegative: true)", false, true
		}
		return "difference()", false, true
	case queryir.MovingAverage:
		return "movingAverage(n: " + strconv.FormatInt(o.Points, 10) + ")", false, true
	case queryir.CumulativeSum:
		return "cumulativeSum()", false, true
	case queryir.Elapsed:
		if o.UnitMs > 0 {
			return "elapsed(unit: " + fluxDuration(o.UnitMs) + ")", false, true
		}
		return "elapsed()", false, true
	case queryir.Cast:
		switch o.Type {
		case queryir.TypeInt:
			return "toInt()", false, true
		case queryir.TypeFloat:
			return "toFloat()", false, true
		case queryir.TypeString:
			return "toString()", false, true
		case queryir.TypeBool:
			return "toBool()", false, true
		case queryir.TypeTimestamp:
			return "toTime()", false, true
		}
	}
	return "", false, false
}

func fluxMath(m queryir.Math) (string, bool) {
	const v = "r._value"
	switch m.Func {
	case queryir.MathScale:
		return v + " * " + fluxFloat(mathValue(m)), false
	case queryir.MathShift:
		if n := mathValue(m); n < 0 {
			return v + " - " + fluxFloat(-n), false
		}
		return v + " + " + fluxFloat(mathValue(m)), false
	case queryir.MathPow:
		return "math.pow(x: " + v + ", y: " + fluxFloat(mathValue(m)) + ")", true
	case queryir.MathLog:
		switch {
		case m.Arg == nil:
			return "math.log(x: " + v + ")", true
		case *m.Arg == 10:
			return "math.log10(x: " + v + ")", true
		case *m.Arg == 2:
			return "math.log2(x: " + v + ")", true
		}
		// Other bases scale the natural log; a slash would lex as a regex.
		return "math.log(x: " + v + ") * " + fluxFloat(1/math.Log(*m.Arg)), true
	}
	return "math." + m.Func.String() + "(x: " + v + ")", true
}

func mathValue(m queryir.Math) float64 {
	if m.Arg == nil {
		return 0
	}
	return *m.Arg
}

// fluxFloat always renders a decimal point; Flux will not mix int and
// float operands.
func fluxFloat(f float64) string {
	s := queryir.FormatFloat(f)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func fluxRange(plan *queryir.QueryPlan) string {
	s := timeSpan(plan)
	if s.empty() {
		return "range(start: -1h)"
	}
	start := "0"
	if s.lower != nil {
		start = fluxBound(*s.lower)
	}
	out := "range(start: " + start
	if s.upper != nil {
		out += ", stop: " + fluxBound(*s.upper)
	}
	return out + ")"
}

func fluxBound(b queryir.Bound) string {
	if !b.Relative {
		return "time(v: " + fluxString(timeexpr.FormatRFC3339(b.Ms)) + ")"
	}
	if b.Ms == 0 {
		return "now()"
	}
	return fluxDuration(b.Ms)
}

// fluxFields lists the _field values the plan reads.
func fluxFields(plan *queryir.QueryPlan) []string {
	seen := map[string]bool{}
	var out []string
	add := func(c string) {
		if c == "" || c == "*" || c == "_value" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}
	for _, c := range plan.Columns {
		add(c)
	}
	for _, a := range plan.Aggregations {
		add(a.Column)
	}
	return out
}

func fluxEquals(col string, vals []string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = "r." + col + " == " + fluxString(v)
	}
	return "filter(fn: (r) => " + strings.Join(parts, " or ") + ")"
}

var fluxOps = map[queryir.CompareOp]string{
	queryir.OpEq:    "==",
	queryir.OpNotEq: "!=",
	queryir.OpLt:    "<",
	queryir.OpLtEq:  "<=",
	queryir.OpGt:    ">",
	queryir.OpGtEq:  ">=",
}

func fluxCondition(c queryir.Condition) string {
	switch v := c.(type) {
	case queryir.Comparison:
		switch v.Op {
		case queryir.OpLike:
			return fluxMember(v.Column) + " =~ " + fluxRegex(likeToRegex(plainString(v.Value)))
		case queryir.OpNotLike:
			return fluxMember(v.Column) + " !~ " + fluxRegex(likeToRegex(plainString(v.Value)))
		}
		return fluxMember(v.Column) + " " + fluxOps[v.Op] + " " + fluxValue(v.Value)
	case queryir.Regex:
		op := " =~ "
		if v.Negated {
			op = " !~ "
		}
		return fluxMember(v.Column) + op + fluxRegex(v.Pattern)
	case queryir.In:
		parts := make([]string, len(v.Values))
		for i, val := range v.Values {
			if v.Negated {
				parts[i] = fluxMember(v.Column) + " != " + fluxValue(val)
			} else {
				parts[i] = fluxMember(v.Column) + " == " + fluxValue(val)
			}
		}
		if v.Negated {
			return "(" + strings.Join(parts, " and ") + ")"
		}
		return "(" + strings.Join(parts, " or ") + ")"
	case queryir.Between:
		col := fluxMember(v.Column)
		if v.Negated {
			return "(" + col + " < " + fluxValue(v.Low) + " or " + col + " > " + fluxValue(v.High) + ")"
		}
		return "(" + col + " >= " + fluxValue(v.Low) + " and " + col + " <= " + fluxValue(v.High) + ")"
	case queryir.IsNull:
		if v.Negated {
			return "exists " + fluxMember(v.Column)
		}
		return "not exists " + fluxMember(v.Column)
	case queryir.And:
		return fluxJunction(v.Conditions, " and ")
	case queryir.Or:
		return fluxJunction(v.Conditions, " or ")
	case queryir.Not:
		return "not (" + fluxCondition(v.Condition) + ")"
	}
	return "true"
}

func fluxJunction(conds []queryir.Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = fluxCondition(c)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func fluxMember(col string) string {
	if isIdent(col) {
		return "r." + col
	}
	return "r[" + fluxString(col) + "]"
}

func fluxValue(v queryir.Value) string {
	switch x := v.(type) {
	case nil, queryir.NullValue:
		return `""`
	case queryir.StringValue:
		return fluxString(string(x))
	case queryir.TimestampValue:
		return fluxString(timeexpr.FormatRFC3339(int64(x)))
	case queryir.DurationValue:
		return fluxDuration(int64(x))
	case queryir.BytesValue, queryir.ListValue:
		return fluxString(plainString(v))
	}
	return v.String()
}

func fluxColumn(col string) string {
	if isTimeColumn(col) {
		return "_time"
	}
	return col
}

func fluxDuration(ms int64) string { return timeexpr.FormatShort(ms, "ms") }

func fluxRegex(pattern string) string {
	return "/" + strings.ReplaceAll(pattern, "/", `\/`) + "/"
}

// fluxString quotes s; ${ would start an interpolation.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}
