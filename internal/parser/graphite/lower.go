package graphite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

type lowering struct {
	plan *queryir.QueryPlan
	fill *queryir.Fill
	text string
}

// lowerTarget applies root to plan. text is the target source, used for
// error positions.
func lowerTarget(plan *queryir.QueryPlan, root node, text string) error {
	l := &lowering{plan: plan, text: text}
	if err := l.node(root); err != nil {
		return err
	}
	if l.fill != nil {
		if len(plan.Windows) > 0 {
			plan.Windows[0].Fill = l.fill
		} else {
			plan.Hints.SetCustom("fill", l.fill.Mode.String())
		}
	}
	return nil
}

func (l *lowering) node(n node) error {
	switch x := n.(type) {
	case pathNode:
		l.plan.AddSource(queryir.DataSource{Name: x.path, Kind: queryir.SourceMetric})
		return nil
	case callNode:
		return l.call(x)
	}
	return nil
}

// call lowers series arguments first so inner functions are recorded
// before the functions that wrap them.
func (l *lowering) call(c callNode) error {
	a := args{call: c, text: l.text}
	for _, arg := range c.args {
		if isSeries(arg) {
			if err := l.node(arg); err != nil {
				return err
			}
			continue
		}
		a.lits = append(a.lits, arg)
	}
	name := strings.ToLower(c.name)
	if kind, ok := seriesAggregates[name]; ok {
		l.aggregate(queryir.Fn(kind))
		return nil
	}
	if fn, ok := functions[name]; ok {
		return fn(l, a)
	}
	switch {
	case strings.HasPrefix(name, "highest"), strings.HasPrefix(name, "lowest"):
		return l.rank(name, a)
	case strings.HasSuffix(name, "serieswithwildcards"):
		kind, ok := seriesAggregates[strings.TrimSuffix(name, "withwildcards")]
		if !ok {
			break
		}
		l.aggregate(queryir.Fn(kind))
		l.plan.Hints.SetCustom("wildcard_nodes", a.joined(0))
		return nil
	}
	l.plan.AddTransformation(queryir.Transformation{Op: queryir.CustomTransform{Name: c.name, Args: a.values()}})
	return nil
}

func (l *lowering) aggregate(fn queryir.AggFunction) {
	l.plan.AddAggregation(queryir.Aggregation{Function: fn})
}

func (l *lowering) transform(op queryir.TransformOp) {
	l.plan.AddTransformation(queryir.Transformation{Op: op})
}

// seriesAggregates combine a series list point by point.
var seriesAggregates = map[string]queryir.AggKind{
	"sumseries":     queryir.AggSum,
	"sum":           queryir.AggSum,
	"averageseries": queryir.AggAvg,
	"avg":           queryir.AggAvg,
	"minseries":     queryir.AggMin,
	"min":           queryir.AggMin,
	"maxseries":     queryir.AggMax,
	"max":           queryir.AggMax,
	"countseries":   queryir.AggCount,
	"count":         queryir.AggCount,
	"stddevseries":  queryir.AggStddev,
	"rangeseries":   queryir.AggSpread,
	"rangeofseries": queryir.AggSpread,
	"medianseries":  queryir.AggMedian,
}

// aggregateNames are the consolidation names accepted by summarize,
// aggregate and the groupBy callbacks.
var aggregateNames = map[string]queryir.AggKind{
	"sum":     queryir.AggSum,
	"total":   queryir.AggSum,
	"avg":     queryir.AggAvg,
	"average": queryir.AggAvg,
	"min":     queryir.AggMin,
	"max":     queryir.AggMax,
	"count":   queryir.AggCount,
	"last":    queryir.AggLast,
	"current": queryir.AggLast,
	"first":   queryir.AggFirst,
	"median":  queryir.AggMedian,
	"stddev":  queryir.AggStddev,
	"range":   queryir.AggSpread,
	"rangeof": queryir.AggSpread,
}

var percentileFunc = regexp.MustCompile(`^p(\d+(?:\.\d+)?)$`)

func aggregateByName(name string) queryir.AggFunction {
	name = strings.ToLower(name)
	if kind, ok := aggregateNames[strings.TrimSuffix(name, "series")]; ok {
		return queryir.Fn(kind)
	}
	if m := percentileFunc.FindStringSubmatch(name); m != nil {
		p, _ := strconv.ParseFloat(m[1], 64)
		return queryir.Percentile(p)
	}
	return queryir.Custom(name)
}

type lowerFunc func(l *lowering, a args) error

var functions = map[string]lowerFunc{
	"summarize":             summarize,
	"smartsummarize":        summarize,
	"aggregate":             aggregateFunc,
	"percentileofseries":    percentileOfSeries,
	"alias":                 alias,
	"aliasbynode":           alias,
	"aliasbytags":           alias,
	"aliasbymetric":         alias,
	"aliassub":              alias,
	"scale":                 mathArg(queryir.MathScale, "factor"),
	"offset":                mathArg(queryir.MathShift, "factor"),
	"pow":                   mathArg(queryir.MathPow, "factor"),
	"absolute":              mathOnly(queryir.MathAbs),
	"squareroot":            mathOnly(queryir.MathSqrt),
	"logarithm":             logarithm,
	"log":                   logarithm,
	"derivative":            derivative(queryir.Derivative{}),
	"nonnegativederivative": derivative(queryir.Derivative{NonNegative: true}),
	"persecond":             derivative(queryir.Derivative{UnitMs: timeexpr.Second, NonNegative: true}),
	"integral":              integral,
	"movingaverage":         movingAverage,
	"keeplastvalue":         keepLastValue,
	"transformnull":         transformNull,
	"groupbynode":           groupByNode,
	"groupbynodes":          groupByNodes,
	"groupbytags":           groupByTags,
	"limit":                 limit,
	"sortby":                sortBy,
	"sortbymaxima":          sortFixed("max", false),
	"sortbyminima":          sortFixed("min", true),
	"sortbytotal":           sortFixed("total", false),
	"sortbyname":            sortByName,
	"seriesbytag":           seriesByTag,
	"timeshift":             timeShift,
	"grep":                  grep(false),
	"exclude":               grep(true),
	"consolidateby":         consolidateBy,
}

// summarize(series, interval, func="sum", alignToFrom=false)
func summarize(l *lowering, a args) error {
	raw, ok := a.str(0, "intervalString")
	if !ok {
		return a.errorf("%s requires an interval", a.call.name)
	}
	ms, err := Duration(raw)
	if err != nil || ms <= 0 {
		return a.errorf("invalid %s interval %q", a.call.name, raw)
	}
	l.plan.AddWindow(queryir.Window{Kind: queryir.IntervalWindow{DurationMs: ms}})
	fn := "sum"
	if s, ok := a.str(1, "func"); ok {
		fn = s
	}
	l.aggregate(aggregateByName(fn))
	if align, ok := a.boolean(2, "alignToFrom"); ok && align {
		l.plan.Hints.SetCustom("align_to_from", "true")
	}
	return nil
}

// aggregate(series, func, xFilesFactor=None)
func aggregateFunc(l *lowering, a args) error {
	fn, ok := a.str(0, "func")
	if !ok {
		return a.errorf("aggregate requires a function name")
	}
	l.aggregate(aggregateByName(fn))
	return nil
}

func percentileOfSeries(l *lowering, a args) error {
	n, ok := a.num(0, "n")
	if !ok {
		return a.errorf("percentileOfSeries requires a percentile")
	}
	l.aggregate(queryir.Percentile(n))
	return nil
}

// alias keeps the naming function and its arguments in output options.
func alias(l *lowering, a args) error {
	if len(a.lits) == 0 && !strings.EqualFold(a.call.name, "aliasByMetric") {
		return a.errorf("%s requires an argument", a.call.name)
	}
	p := l.plan
	if p.OutputFormat == nil {
		p.OutputFormat = &queryir.OutputFormat{}
	}
	if p.OutputFormat.Options == nil {
		p.OutputFormat.Options = map[string]string{}
	}
	p.OutputFormat.Options["alias"] = a.joined(0)
	if !strings.EqualFold(a.call.name, "alias") {
		p.OutputFormat.Options["alias_function"] = a.call.name
	}
	return nil
}

func mathArg(fn queryir.MathFunc, kw string) lowerFunc {
	return func(l *lowering, a args) error {
		n, ok := a.num(0, kw)
		if !ok {
			return a.errorf("%s requires a numeric argument", a.call.name)
		}
		l.transform(queryir.MathOf(fn, n))
		return nil
	}
}

func mathOnly(fn queryir.MathFunc) lowerFunc {
	return func(l *lowering, a args) error {
		l.transform(queryir.Math{Func: fn})
		return nil
	}
}

// logarithm(series, base=10)
func logarithm(l *lowering, a args) error {
	base := 10.0
	if n, ok := a.num(0, "base"); ok {
		base = n
	}
	l.transform(queryir.MathOf(queryir.MathLog, base))
	return nil
}

func derivative(op queryir.Derivative) lowerFunc {
	return func(l *lowering, a args) error {
		l.transform(op)
		if v, ok := a.str(0, "maxValue"); ok {
			l.plan.Hints.SetCustom("max_value", v)
		}
		return nil
	}
}

func integral(l *lowering, _ args) error {
	l.aggregate(queryir.Fn(queryir.AggIntegral))
	return nil
}

// movingAverage(series, windowSize, xFilesFactor=None). A point count maps
// to MovingAverage; a time window such as '5min' has no plan equivalent.
func movingAverage(l *lowering, a args) error {
	if n, ok := a.num(0, "windowSize"); ok {
		if n < 1 {
			return a.errorf("movingAverage window must be positive")
		}
		l.transform(queryir.MovingAverage{Points: int64(n)})
		return nil
	}
	if _, ok := a.str(0, "windowSize"); !ok {
		return a.errorf("movingAverage requires a window size")
	}
	l.transform(queryir.CustomTransform{Name: a.call.name, Args: a.values()})
	return nil
}

func keepLastValue(l *lowering, a args) error {
	l.fill = queryir.NewFill(queryir.FillPrevious)
	if n, ok := a.str(0, "limit"); ok {
		l.plan.Hints.SetCustom("fill_limit", n)
	}
	return nil
}

// transformNull(series, default=0)
func transformNull(l *lowering, a args) error {
	v := queryir.Value(queryir.IntValue(0))
	if n, ok := a.get(0, "default"); ok {
		v = literalValue(n)
	}
	l.fill = &queryir.Fill{Mode: queryir.FillValue, Value: v}
	return nil
}

// groupByNode(series, nodeNum, callback="average")
func groupByNode(l *lowering, a args) error {
	n, ok := a.str(0, "nodeNum")
	if !ok {
		return a.errorf("groupByNode requires a node")
	}
	l.plan.AddGroupBy(queryir.GroupExpression{Text: "node(" + n + ")"})
	callback := "average"
	if s, ok := a.str(1, "callback"); ok {
		callback = s
	}
	l.aggregate(aggregateByName(callback))
	return nil
}

// groupByNodes(series, callback, *nodes)
func groupByNodes(l *lowering, a args) error {
	callback, ok := a.str(0, "callback")
	if !ok {
		return a.errorf("groupByNodes requires a callback")
	}
	for i := 1; i < len(a.lits); i++ {
		if s, ok := a.str(i, ""); ok {
			l.plan.AddGroupBy(queryir.GroupExpression{Text: "node(" + s + ")"})
		}
	}
	l.aggregate(aggregateByName(callback))
	return nil
}

// groupByTags(series, callback, *tags)
func groupByTags(l *lowering, a args) error {
	callback, ok := a.str(0, "callback")
	if !ok {
		return a.errorf("groupByTags requires a callback")
	}
	if len(a.lits) < 2 {
		return a.errorf("groupByTags requires at least one tag")
	}
	for i := 1; i < len(a.lits); i++ {
		if s, ok := a.str(i, ""); ok {
			l.plan.AddGroupBy(queryir.GroupTag{Name: s})
		}
	}
	l.aggregate(aggregateByName(callback))
	return nil
}

// rank handles highestX and lowestX: highestMax(series, n=1) and the
// generic highest(series, n=1, func="average").
func (l *lowering) rank(name string, a args) error {
	n := int64(1)
	if v, ok := a.num(0, "n"); ok {
		n = int64(v)
	}
	by := strings.TrimPrefix(strings.TrimPrefix(name, "highest"), "lowest")
	if s, ok := a.str(1, "func"); ok {
		by = s
	}
	if by == "" {
		by = "average"
	}
	if strings.HasPrefix(name, "highest") {
		l.aggregate(queryir.TopK(n))
	} else {
		l.aggregate(queryir.BottomK(n))
	}
	l.plan.Hints.SetCustom("rank_by", strings.ToLower(by))
	return nil
}

func limit(l *lowering, a args) error {
	n, ok := a.num(0, "n")
	if !ok || n < 0 {
		return a.errorf("limit requires a non-negative count")
	}
	l.plan.SetLimit(int64(n))
	return nil
}

// sortBy(series, func="average", reverse=false)
func sortBy(l *lowering, a args) error {
	fn := "average"
	if s, ok := a.str(0, "func"); ok {
		fn = s
	}
	reverse, _ := a.boolean(1, "reverse")
	l.plan.AddOrderBy(fn, !reverse)
	return nil
}

func sortFixed(column string, ascending bool) lowerFunc {
	return func(l *lowering, _ args) error {
		l.plan.AddOrderBy(column, ascending)
		return nil
	}
}

// sortByName(series, natural=false, reverse=false)
func sortByName(l *lowering, a args) error {
	reverse, _ := a.boolean(1, "reverse")
	l.plan.AddOrderBy("name", !reverse)
	return nil
}

// seriesByTag('name=cpu.load', 'host=~web.*', 'dc!=lga'). The name tag
// selects the source; other expressions become filters.
func seriesByTag(l *lowering, a args) error {
	if len(a.lits) == 0 {
		return a.errorf("seriesByTag requires at least one tag expression")
	}
	source := ""
	for i := range a.lits {
		expr, ok := a.str(i, "")
		if !ok {
			return a.errorf("seriesByTag arguments must be strings")
		}
		cond, err := TagExpression(expr)
		if err != nil {
			return a.errorf("%v", err)
		}
		if cmp, ok := cond.(queryir.Comparison); ok && cmp.Column == "name" && cmp.Op == queryir.OpEq && source == "" {
			if s, ok := cmp.Value.(queryir.StringValue); ok {
				source = string(s)
				continue
			}
		}
		l.plan.AddFilter(cond)
	}
	if source == "" {
		source = "*"
	}
	l.plan.AddSource(queryir.DataSource{Name: source, Kind: queryir.SourceMetric})
	return nil
}

// TagExpression parses one seriesByTag expression: tag=value, tag!=value,
// tag=~regex or tag!=~regex.
func TagExpression(expr string) (queryir.Condition, error) {
	i := strings.IndexByte(expr, '=')
	if i <= 0 {
		return nil, fmt.Errorf("invalid tag expression %q", expr)
	}
	tag, rest := expr[:i], expr[i+1:]
	negated := strings.HasSuffix(tag, "!")
	tag = strings.TrimSpace(strings.TrimSuffix(tag, "!"))
	if tag == "" {
		return nil, fmt.Errorf("invalid tag expression %q", expr)
	}
	if strings.HasPrefix(rest, "~") {
		return queryir.Regex{Column: tag, Pattern: rest[1:], Negated: negated}, nil
	}
	op := queryir.OpEq
	if negated {
		op = queryir.OpNotEq
	}
	return queryir.Comparison{Column: tag, Op: op, Value: queryir.StringValue(rest)}, nil
}

// timeShift(series, "1d") shifts back by the offset; "+1d" shifts forward.
func timeShift(l *lowering, a args) error {
	raw, ok := a.str(0, "timeShift")
	if !ok {
		return a.errorf("timeShift requires an offset")
	}
	s := strings.TrimSpace(raw)
	sign := int64(1)
	switch {
	case strings.HasPrefix(s, "+"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "-"):
		s = s[1:]
	}
	ms, err := Duration(s)
	if err != nil {
		return a.errorf("invalid timeShift %q", raw)
	}
	l.plan.Hints.SetCustom("offset_ms", strconv.FormatInt(sign*ms, 10))
	return nil
}

func grep(exclude bool) lowerFunc {
	return func(l *lowering, a args) error {
		pattern, ok := a.str(0, "pattern")
		if !ok {
			return a.errorf("%s requires a pattern", a.call.name)
		}
		l.plan.AddFilter(queryir.Regex{Column: "name", Pattern: pattern, Negated: exclude})
		return nil
	}
}

func consolidateBy(l *lowering, a args) error {
	fn, ok := a.str(0, "consolidationFunc")
	if !ok {
		return a.errorf("consolidateBy requires a function")
	}
	l.plan.Hints.SetCustom("consolidate_by", fn)
	return nil
}

// args gives access to a call's literal arguments by position (counting
// only literals) or keyword.
type args struct {
	call callNode
	lits []node
	text string
}

func (a args) errorf(format string, v ...any) error {
	return queryir.ParseErrorAt(queryir.Graphite, a.text, a.call.at, format, v...)
}

func (a args) get(i int, kw string) (node, bool) {
	if kw != "" {
		if n, ok := a.call.kwargs[kw]; ok {
			return n, true
		}
	}
	if i < len(a.lits) {
		return a.lits[i], true
	}
	return nil, false
}

func (a args) str(i int, kw string) (string, bool) {
	n, ok := a.get(i, kw)
	if !ok {
		return "", false
	}
	switch x := n.(type) {
	case stringNode:
		return x.val, true
	case numberNode:
		return x.text, true
	case boolNode:
		return strconv.FormatBool(x.val), true
	}
	return "", false
}

func (a args) num(i int, kw string) (float64, bool) {
	n, ok := a.get(i, kw)
	if !ok {
		return 0, false
	}
	switch x := n.(type) {
	case numberNode:
		return x.val, true
	case stringNode:
		f, err := strconv.ParseFloat(strings.TrimSpace(x.val), 64)
		return f, err == nil
	}
	return 0, false
}

func (a args) boolean(i int, kw string) (bool, bool) {
	n, ok := a.get(i, kw)
	if !ok {
		return false, false
	}
	switch x := n.(type) {
	case boolNode:
		return x.val, true
	case stringNode:
		b, err := strconv.ParseBool(x.val)
		return b, err == nil
	case numberNode:
		return x.val != 0, true
	}
	return false, false
}

// joined renders literals from position i on, separated by commas.
func (a args) joined(i int) string {
	var parts []string
	for ; i < len(a.lits); i++ {
		if s, ok := a.str(i, ""); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ",")
}

func (a args) values() []queryir.Value {
	var out []queryir.Value
	for _, n := range a.lits {
		out = append(out, literalValue(n))
	}
	return out
}

func literalValue(n node) queryir.Value {
	switch x := n.(type) {
	case stringNode:
		return queryir.StringValue(x.val)
	case numberNode:
		if v, ok := queryir.ParseNumber(x.text); ok {
			return v
		}
		return queryir.FloatValue(x.val)
	case boolNode:
		return queryir.BoolValue(x.val)
	}
	return queryir.NullValue{}
}
