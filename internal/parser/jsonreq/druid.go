package jsonreq

import (
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// DruidNative parses Druid native JSON queries (timeseries, topN, groupBy,
// scan, search, timeBoundary, segmentMetadata).
type DruidNative struct{}

// NewDruidNative returns the Druid native parser.
func NewDruidNative() *DruidNative { return &DruidNative{} }

// Dialect returns queryir.DruidNative.
func (*DruidNative) Dialect() queryir.Dialect { return queryir.DruidNative }

// Parse converts a native query to a plan. queryType and dataSource are
// required.
func (*DruidNative) Parse(text string) (plan *queryir.QueryPlan, err error) {
	const d = queryir.DruidNative
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(d, "internal parser failure: %v", r)
		}
	}()
	doc, err := document(d, text)
	if err != nil {
		return nil, err
	}
	return druidQuery(doc, text, 0)
}

// druidGranularities are the simple granularity names.
var druidGranularities = map[string]int64{
	"second":         timeexpr.Second,
	"minute":         timeexpr.Minute,
	"five_minute":    5 * timeexpr.Minute,
	"ten_minute":     10 * timeexpr.Minute,
	"fifteen_minute": 15 * timeexpr.Minute,
	"thirty_minute":  30 * timeexpr.Minute,
	"hour":           timeexpr.Hour,
	"six_hour":       6 * timeexpr.Hour,
	"eight_hour":     8 * timeexpr.Hour,
	"day":            timeexpr.Day,
	"week":           timeexpr.Week,
	"month":          timeexpr.Month,
	"quarter":        3 * timeexpr.Month,
	"year":           timeexpr.Year,
}

type druid struct {
	plan  *queryir.QueryPlan
	depth int
}

func (q *druid) errorf(format string, args ...any) error {
	return queryir.NewParseError(queryir.DruidNative, format, args...)
}

func druidQuery(doc *fastjson.Value, text string, depth int) (*queryir.QueryPlan, error) {
	if depth > MaxDepth {
		return nil, queryir.NewParseError(queryir.DruidNative, "query nesting exceeds maximum depth %d", MaxDepth)
	}
	q := &druid{plan: queryir.NewPlan(queryir.DruidNative, text), depth: depth}
	p := q.plan

	queryType, _ := str(doc.Get("queryType"))
	if queryType == "" {
		return nil, q.errorf("queryType is required")
	}
	p.Hints.SetCustom("query_type", queryType)

	ds := doc.Get("dataSource")
	if ds == nil {
		return nil, q.errorf("dataSource is required")
	}
	if err := q.dataSource(ds); err != nil {
		return nil, err
	}
	if err := q.granularity(doc.Get("granularity")); err != nil {
		return nil, err
	}
	if err := q.intervals(doc.Get("intervals")); err != nil {
		return nil, err
	}
	if f := doc.Get("filter"); f != nil && f.Type() != fastjson.TypeNull {
		cond, err := q.filter(f, 0)
		if err != nil {
			return nil, err
		}
		p.AddFilter(cond)
	}
	for i, a := range doc.GetArray("aggregations") {
		if err := q.aggregation(a, i); err != nil {
			return nil, err
		}
	}
	for _, dim := range doc.GetArray("dimensions") {
		if name := dimensionName(dim); name != "" {
			p.AddGroupBy(queryir.GroupColumn{Name: name})
		}
	}
	if dim := doc.Get("dimension"); dim != nil {
		if name := dimensionName(dim); name != "" {
			p.AddGroupBy(queryir.GroupColumn{Name: name})
		}
	}
	q.topN(doc)
	q.limits(doc)
	for _, c := range stringList(doc.Get("columns")) {
		p.AddColumn(c)
	}
	if desc, ok := boolean(doc.Get("descending")); ok && desc {
		p.AddOrderBy("__time", false)
	}
	for _, key := range []string{"postAggregations", "having", "virtualColumns", "searchDimensions", "query", "resultFormat", "bound"} {
		if v := doc.Get(key); v != nil {
			p.Hints.SetCustom(key, compact(v))
		}
	}
	q.context(doc.Get("context"))
	return p, nil
}

func (q *druid) dataSource(v *fastjson.Value) error {
	p := q.plan
	if name, ok := str(v); ok {
		if name == "" {
			return q.errorf("dataSource is required")
		}
		p.AddSource(queryir.DataSource{Name: name, Kind: queryir.SourceTable})
		return nil
	}
	if v.Type() != fastjson.TypeObject {
		return q.errorf("dataSource must be a string or an object, found %s", v.Type())
	}
	kind, _ := str(v.Get("type"))
	switch kind {
	case "table", "":
		name, _ := str(v.Get("name"))
		if name == "" {
			return q.errorf("dataSource name is required")
		}
		p.AddSource(queryir.DataSource{Name: name, Kind: queryir.SourceTable})
	case "query":
		inner := v.Get("query")
		if inner == nil || inner.Type() != fastjson.TypeObject {
			return q.errorf("query dataSource requires a query object")
		}
		sub, err := druidQuery(inner, inner.String(), q.depth+1)
		if err != nil {
			return err
		}
		p.AddSource(queryir.DataSource{Name: "subquery", Kind: queryir.SourceSubquery, Subquery: sub})
	case "union":
		names := stringList(v.Get("dataSources"))
		if len(names) == 0 {
			return q.errorf("union dataSource requires dataSources")
		}
		for _, n := range names {
			p.AddSource(queryir.DataSource{Name: n, Kind: queryir.SourceTable})
		}
	case "inline", "lookup", "join":
		name, _ := str(v.Get("name"))
		if name == "" {
			name = kind
		}
		p.AddSource(queryir.DataSource{Name: name, Kind: queryir.SourceTable})
		p.Hints.SetCustom("datasource_type", kind)
	default:
		return q.errorf("unknown dataSource type %q", kind)
	}
	return nil
}

func (q *druid) granularity(v *fastjson.Value) error {
	if v == nil {
		return nil
	}
	p := q.plan
	if name, ok := str(v); ok {
		name = strings.ToLower(name)
		switch name {
		case "all":
			return nil
		case "none":
			p.Hints.SetCustom("granularity", name)
			return nil
		}
		ms, ok := druidGranularities[name]
		if !ok {
			return q.errorf("unknown granularity %q", name)
		}
		p.AddWindow(queryir.Window{Kind: queryir.IntervalWindow{DurationMs: ms}})
		return nil
	}
	kind, _ := str(v.Get("type"))
	var w queryir.IntervalWindow
	switch kind {
	case "period":
		period, _ := str(v.Get("period"))
		ms, err := timeexpr.ParseISO8601(period)
		if err != nil {
			return q.errorf("invalid granularity period %q", period)
		}
		w.DurationMs = ms
		if tz, ok := str(v.Get("timeZone")); ok {
			p.Hints.SetCustom("timezone", tz)
		}
	case "duration":
		ms, ok := integer(v.Get("duration"))
		if !ok || ms <= 0 {
			return q.errorf("duration granularity requires a positive duration")
		}
		w.DurationMs = ms
	default:
		return q.errorf("unknown granularity type %q", kind)
	}
	if origin, ok := str(v.Get("origin")); ok {
		p.Hints.SetCustom("origin", origin)
	}
	p.AddWindow(queryir.Window{Kind: w})
	return nil
}

// intervals reads the first ISO 8601 interval: start/end, start/period or
// period/end. Further intervals are kept in hints.
func (q *druid) intervals(v *fastjson.Value) error {
	list := stringList(v)
	if len(list) == 0 {
		if v != nil {
			list = stringList(v.Get("intervals"))
		}
		if len(list) == 0 {
			return nil
		}
	}
	tr, err := druidInterval(list[0])
	if err != nil {
		return q.errorf("invalid interval %q: %v", list[0], err)
	}
	q.plan.TimeRange = tr
	if len(list) > 1 {
		q.plan.Hints.SetCustom("intervals", strings.Join(list[1:], ","))
	}
	return nil
}

func druidInterval(s string) (queryir.TimeRange, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return nil, strconv.ErrSyntax
	}
	isPeriod := func(x string) bool { return strings.HasPrefix(x, "P") || strings.HasPrefix(x, "p") }
	switch {
	case isPeriod(start):
		d, err := timeexpr.ParseISO8601(start)
		if err != nil {
			return nil, err
		}
		e, err := timeexpr.ParseTime(end)
		if err != nil {
			return nil, err
		}
		return queryir.Absolute{StartMs: e - d, EndMs: e}, nil
	case isPeriod(end):
		st, err := timeexpr.ParseTime(start)
		if err != nil {
			return nil, err
		}
		d, err := timeexpr.ParseISO8601(end)
		if err != nil {
			return nil, err
		}
		return queryir.Absolute{StartMs: st, EndMs: st + d}, nil
	}
	st, err := timeexpr.ParseTime(start)
	if err != nil {
		return nil, err
	}
	e, err := timeexpr.ParseTime(end)
	if err != nil {
		return nil, err
	}
	return queryir.Absolute{StartMs: st, EndMs: e}, nil
}

func (q *druid) filter(v *fastjson.Value, depth int) (queryir.Condition, error) {
	if depth > MaxDepth {
		return nil, q.errorf("filter nesting exceeds maximum depth %d", MaxDepth)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, q.errorf("filter must be an object, found %s", v.Type())
	}
	kind, _ := str(v.Get("type"))
	dim, _ := str(v.Get("dimension"))
	if dim == "" {
		dim, _ = str(v.Get("column"))
	}
	switch kind {
	case "selector", "equals":
		raw := v.Get("value")
		if kind == "equals" {
			raw = v.Get("matchValue")
		}
		val, ok := value(raw)
		if !ok || isNull(val) {
			return queryir.IsNull{Column: dim}, nil
		}
		return queryir.Comparison{Column: dim, Op: queryir.OpEq, Value: val}, nil
	case "null":
		return queryir.IsNull{Column: dim}, nil
	case "in":
		var values []queryir.Value
		for _, item := range v.GetArray("values") {
			if val, ok := value(item); ok {
				values = append(values, val)
			}
		}
		return queryir.In{Column: dim, Values: values}, nil
	case "bound", "range":
		return q.bound(v, dim, kind)
	case "regex":
		pattern, _ := str(v.Get("pattern"))
		return queryir.Regex{Column: dim, Pattern: pattern}, nil
	case "like":
		pattern, _ := str(v.Get("pattern"))
		return queryir.Comparison{Column: dim, Op: queryir.OpLike, Value: queryir.StringValue(pattern)}, nil
	case "interval":
		q.plan.Hints.SetCustom("filter", compact(v))
		return nil, nil
	case "and", "or":
		var conds []queryir.Condition
		for _, f := range v.GetArray("fields") {
			c, err := q.filter(f, depth+1)
			if err != nil {
				return nil, err
			}
			if c != nil {
				conds = append(conds, c)
			}
		}
		switch {
		case len(conds) == 0:
			return nil, nil
		case len(conds) == 1:
			return conds[0], nil
		case kind == "and":
			return queryir.And{Conditions: conds}, nil
		}
		return queryir.Or{Conditions: conds}, nil
	case "not":
		field := v.Get("field")
		if field == nil {
			return nil, q.errorf("not filter requires a field")
		}
		c, err := q.filter(field, depth+1)
		if err != nil || c == nil {
			return nil, err
		}
		return queryir.Not{Condition: c}, nil
	}
	q.plan.Hints.SetCustom("filter", compact(v))
	return nil, nil
}

// bound reads bound filters (lower, upper, lowerStrict, upperStrict) and
// range filters (lower, upper, lowerOpen, upperOpen).
func (q *druid) bound(v *fastjson.Value, dim, kind string) (queryir.Condition, error) {
	strictLower, strictUpper := "lowerStrict", "upperStrict"
	if kind == "range" {
		strictLower, strictUpper = "lowerOpen", "upperOpen"
	}
	lower, hasLower := value(v.Get("lower"))
	upper, hasUpper := value(v.Get("upper"))
	hasLower = hasLower && !isNull(lower)
	hasUpper = hasUpper && !isNull(upper)
	if ordering, _ := str(v.Get("ordering")); ordering == "numeric" {
		lower, upper = numeric(lower), numeric(upper)
	}
	ls, _ := boolean(v.Get(strictLower))
	us, _ := boolean(v.Get(strictUpper))

	if hasLower && hasUpper && !ls && !us {
		return queryir.Between{Column: dim, Low: lower, High: upper}, nil
	}
	var conds []queryir.Condition
	if hasLower {
		op := queryir.OpGtEq
		if ls {
			op = queryir.OpGt
		}
		conds = append(conds, queryir.Comparison{Column: dim, Op: op, Value: lower})
	}
	if hasUpper {
		op := queryir.OpLtEq
		if us {
			op = queryir.OpLt
		}
		conds = append(conds, queryir.Comparison{Column: dim, Op: op, Value: upper})
	}
	switch len(conds) {
	case 0:
		return nil, q.errorf("%s filter on %q requires lower or upper", kind, dim)
	case 1:
		return conds[0], nil
	}
	return queryir.And{Conditions: conds}, nil
}

func isNull(v queryir.Value) bool {
	_, ok := v.(queryir.NullValue)
	return ok
}

// numeric converts a string bound compared with numeric ordering.
func numeric(v queryir.Value) queryir.Value {
	if s, ok := v.(queryir.StringValue); ok {
		if n, ok := queryir.ParseNumber(string(s)); ok {
			return n
		}
	}
	return v
}

// druidAggregators maps aggregator type suffixes to kinds.
var druidAggregators = []struct {
	suffix string
	kind   queryir.AggKind
}{
	{"Sum", queryir.AggSum},
	{"Min", queryir.AggMin},
	{"Max", queryir.AggMax},
	{"First", queryir.AggFirst},
	{"Last", queryir.AggLast},
	{"Any", queryir.AggFirst},
}

func (q *druid) aggregation(v *fastjson.Value, i int) error {
	if v.Type() != fastjson.TypeObject {
		return q.errorf("aggregations[%d]: expected an object", i)
	}
	kind, _ := str(v.Get("type"))
	if kind == "" {
		return q.errorf("aggregations[%d]: type is required", i)
	}
	name, _ := str(v.Get("name"))
	field, _ := str(v.Get("fieldName"))
	if field == "" {
		if names := stringList(v.Get("fieldNames")); len(names) > 0 {
			field = names[0]
		} else if names := stringList(v.Get("fields")); len(names) > 0 {
			field = names[0]
		}
	}

	if kind == "filtered" {
		inner := v.Get("aggregator")
		if inner == nil {
			return q.errorf("aggregations[%d]: filtered aggregator requires an aggregator", i)
		}
		if f := v.Get("filter"); f != nil {
			q.plan.Hints.SetCustom("aggregation_filter", compact(f))
		}
		if err := q.aggregation(inner, i); err != nil {
			return err
		}
		if name != "" {
			q.plan.Aggregations[len(q.plan.Aggregations)-1].Alias = name
		}
		return nil
	}

	agg := queryir.Aggregation{Column: field, Alias: name}
	switch {
	case kind == "count":
		agg.Function, agg.Column = queryir.Fn(queryir.AggCount), "*"
	case kind == "hyperUnique", kind == "cardinality", kind == "thetaSketch",
		strings.HasPrefix(kind, "HLLSketch"):
		agg.Function = queryir.Fn(queryir.AggHyperLogLog)
	case kind == "quantilesDoublesSketch":
		agg.Function = queryir.Custom(kind)
	default:
		agg.Function = queryir.Custom(kind)
		for _, a := range druidAggregators {
			if strings.HasSuffix(kind, a.suffix) {
				agg.Function = queryir.Fn(a.kind)
				break
			}
		}
	}
	q.plan.AddAggregation(agg)
	return nil
}

func dimensionName(v *fastjson.Value) string {
	if s, ok := str(v); ok {
		return s
	}
	if v.Type() != fastjson.TypeObject {
		return ""
	}
	if name, ok := str(v.Get("dimension")); ok {
		return name
	}
	name, _ := str(v.Get("outputName"))
	return name
}

// topN maps threshold and metric to a limit and ordering.
func (q *druid) topN(doc *fastjson.Value) {
	p := q.plan
	if n, ok := integer(doc.Get("threshold")); ok {
		p.SetLimit(n)
	}
	m := doc.Get("metric")
	if m == nil {
		return
	}
	if name, ok := str(m); ok {
		p.AddOrderBy(name, false)
		return
	}
	kind, _ := str(m.Get("type"))
	switch kind {
	case "inverted":
		if name, ok := str(m.Get("metric")); ok {
			p.AddOrderBy(name, true)
		}
	case "numeric":
		if name, ok := str(m.Get("metric")); ok {
			p.AddOrderBy(name, false)
		}
	case "dimension", "lexicographic", "alphaNumeric":
		if len(p.GroupBy) > 0 {
			if name, ok := queryir.GroupName(p.GroupBy[0].Expr); ok {
				p.AddOrderBy(name, true)
			}
		}
	default:
		p.Hints.SetCustom("metric", compact(m))
	}
}

// limits reads limit, offset and the groupBy limitSpec.
func (q *druid) limits(doc *fastjson.Value) {
	p := q.plan
	if n, ok := integer(doc.Get("limit")); ok {
		p.SetLimit(n)
	}
	if n, ok := integer(doc.Get("offset")); ok {
		p.SetOffset(n)
	}
	spec := doc.Get("limitSpec")
	if spec == nil {
		return
	}
	if n, ok := integer(spec.Get("limit")); ok {
		p.SetLimit(n)
	}
	if n, ok := integer(spec.Get("offset")); ok {
		p.SetOffset(n)
	}
	for _, c := range spec.GetArray("columns") {
		if name, ok := str(c); ok {
			p.AddOrderBy(name, true)
			continue
		}
		name, _ := str(c.Get("dimension"))
		if name == "" {
			continue
		}
		dir, _ := str(c.Get("direction"))
		p.AddOrderBy(name, !strings.EqualFold(dir, "descending"))
	}
}

func (q *druid) context(ctx *fastjson.Value) {
	if ctx == nil || ctx.Type() != fastjson.TypeObject {
		return
	}
	h := &q.plan.Hints
	if n, ok := integer(ctx.Get("timeout")); ok {
		h.TimeoutMs = queryir.Int64Ptr(n)
	}
	if b, ok := boolean(ctx.Get("useCache")); ok {
		h.UseCache = queryir.BoolPtr(b)
	}
	if id, ok := str(ctx.Get("queryId")); ok {
		h.SetCustom("query_id", id)
	}
	if n, ok := integer(ctx.Get("priority")); ok {
		h.SetCustom("priority", strconv.FormatInt(n, 10))
	}
}

// compact returns the JSON text of v.
func compact(v *fastjson.Value) string {
	if s, ok := str(v); ok && v.Type() == fastjson.TypeString {
		return s
	}
	return v.String()
}
