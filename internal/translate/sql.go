package translate

import (
	"strconv"
	"strings"
	"time"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// SQLTranslator renders plans in one SQL flavour. The flavours share the
// statement builder and differ in the spellings they plug into it.
type SQLTranslator struct {
	dialect    queryir.Dialect
	timeColumn string
	quoteChar  byte
	keywords   map[string]bool
	// bucketAlias names the bucket expression; empty repeats the
	// expression in GROUP BY.
	bucketAlias   string
	nullsOrder    bool
	partitionTags bool
	castTypes     map[queryir.DataType]string
	functions     map[queryir.AggKind]string

	now        func(offsetMs int64) string
	timestamp  func(ms int64) string
	interval   func(ms int64) string
	regex      func(col, pattern string, negated bool) string
	percentile func(arg string, p float64) string

	// Optional hooks.
	aggregate     func(t *SQLTranslator, a queryir.Aggregation, c aggContext) (string, bool)
	bucketExpr    func(t *SQLTranslator, b bucket) string
	wrapAggregate func(expr string, b bucket) string
	transform     func(t *SQLTranslator, op queryir.TransformOp, x string) (string, bool)
	windows       func(t *SQLTranslator, st *statement, plan *queryir.QueryPlan, b bucket, hasBucket bool)
	finish        func(t *SQLTranslator, st *statement, plan *queryir.QueryPlan)
}

// aggContext is what an aggregate spelling may need besides the
// aggregation itself.
type aggContext struct {
	arg      string
	timeCol  string
	windowMs int64
}

// statement collects the clauses of one SELECT.
type statement struct {
	selects []string
	from    string
	where   []string
	// clauses sit between WHERE and GROUP BY (PARTITION BY, INTERVAL,
	// SAMPLE BY).
	clauses   []string
	groupBy   []string
	modifiers []string
	orderBy   []string
	limit     *int64
	offset    *int64
	trailer   []string
}

func (st *statement) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(st.selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(st.from)
	if len(st.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(st.where, " AND "))
	}
	for _, c := range st.clauses {
		b.WriteByte(' ')
		b.WriteString(c)
	}
	if len(st.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(st.groupBy, ", "))
	}
	for _, m := range st.modifiers {
		b.WriteByte(' ')
		b.WriteString(m)
	}
	if len(st.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(st.orderBy, ", "))
	}
	if st.limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.FormatInt(*st.limit, 10))
	}
	if st.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatInt(*st.offset, 10))
	}
	for _, t := range st.trailer {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	return b.String()
}

type selectItem struct {
	expr  string
	alias string
}

// Target implements Translator.
func (t *SQLTranslator) Target() queryir.Dialect { return t.dialect }

// Translate implements Translator.
func (t *SQLTranslator) Translate(plan *queryir.QueryPlan) (string, error) {
	src, err := primarySource(t.dialect, plan)
	if err != nil {
		return "", err
	}
	from, err := t.source(src)
	if err != nil {
		return "", err
	}
	st := &statement{from: from}

	b, hasBucket := bucketOf(plan)
	timeCol := t.timeColumn
	if hasBucket && b.column != "" {
		timeCol = b.column
	}
	b.column = timeCol

	if hasBucket && t.bucketExpr != nil {
		expr := t.bucketExpr(t, b)
		if t.bucketAlias != "" {
			st.selects = append(st.selects, expr+" AS "+t.bucketAlias)
			st.groupBy = append(st.groupBy, t.bucketAlias)
		} else {
			st.selects = append(st.selects, expr)
			st.groupBy = append(st.groupBy, expr)
		}
	}

	var partition []string
	for _, g := range plan.GroupBy {
		switch k := g.Expr.(type) {
		case queryir.GroupTag:
			st.selects = append(st.selects, t.quote(k.Name))
			if t.partitionTags {
				partition = append(partition, t.quote(k.Name))
			} else {
				st.groupBy = append(st.groupBy, t.quote(k.Name))
			}
		case queryir.GroupColumn:
			st.selects = append(st.selects, t.quote(k.Name))
			st.groupBy = append(st.groupBy, t.quote(k.Name))
		}
	}

	items := t.selectItems(plan, b, hasBucket, timeCol)
	for _, it := range items {
		if it.alias != "" {
			st.selects = append(st.selects, it.expr+" AS "+t.quote(it.alias))
		} else {
			st.selects = append(st.selects, it.expr)
		}
	}
	if len(st.selects) == 0 {
		st.selects = t.columns(plan)
	}

	for _, f := range plan.Filters {
		st.where = append(st.where, t.condition(f.Condition))
	}
	st.where = append(st.where, t.timeBounds(plan, timeCol)...)

	if len(partition) > 0 {
		st.clauses = append(st.clauses, "PARTITION BY "+strings.Join(partition, ", "))
	}
	if t.windows != nil {
		t.windows(t, st, plan, b, hasBucket)
	}

	for _, o := range plan.OrderBy {
		st.orderBy = append(st.orderBy, t.orderKey(o))
	}
	st.limit, st.offset = plan.Limit, plan.Offset
	if t.finish != nil {
		t.finish(t, st, plan)
	}
	return st.String(), nil
}

func (t *SQLTranslator) source(src queryir.DataSource) (string, error) {
	if src.Kind == queryir.SourceSubquery && src.Subquery != nil {
		inner, err := t.Translate(src.Subquery)
		if err != nil {
			return "", err
		}
		alias := src.Alias
		if alias == "" {
			alias = "sub"
		}
		return "(" + inner + ") AS " + t.quote(alias), nil
	}
	name := t.quote(src.Name)
	if src.Database != "" {
		name = t.quote(src.Database) + "." + name
	}
	if src.Alias != "" {
		name += " AS " + t.quote(src.Alias)
	}
	return name, nil
}

func (t *SQLTranslator) selectItems(plan *queryir.QueryPlan, b bucket, hasBucket bool, timeCol string) []selectItem {
	var items []selectItem
	windowMs := rateWindow(plan, b, hasBucket)
	for i, a := range plan.Aggregations {
		if chained(plan.Aggregations, i) {
			continue
		}
		arg := t.quote(valueColumn(a.Column))
		if a.Distinct {
			arg = "DISTINCT " + arg
		}
		expr, ok := t.aggregation(a, aggContext{arg: arg, timeCol: timeCol, windowMs: windowMs})
		if !ok {
			continue
		}
		if hasBucket && t.wrapAggregate != nil {
			expr = t.wrapAggregate(expr, b)
		}
		items = append(items, selectItem{expr: expr, alias: a.Alias})
	}
	for _, tr := range plan.Transformations {
		if tr.Column != "" || len(items) == 0 {
			items = append(items, selectItem{expr: t.quote(valueColumn(tr.Column))})
		}
		last := &items[len(items)-1]
		if x, ok := t.transformation(tr.Op, last.expr); ok {
			last.expr = x
		}
		if tr.Alias != "" {
			last.alias = tr.Alias
		}
	}
	return items
}

func (t *SQLTranslator) columns(plan *queryir.QueryPlan) []string {
	var out []string
	for _, c := range plan.Columns {
		out = append(out, t.quote(c))
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

// rateWindow is the span a SQL rate divides by: the bucket, else the
// lookback, else a relative time range.
func rateWindow(plan *queryir.QueryPlan, b bucket, hasBucket bool) int64 {
	if hasBucket {
		return b.ms
	}
	if d, ok := lookback(plan); ok {
		return d
	}
	if r, ok := plan.TimeRange.(queryir.Relative); ok {
		return r.DurationMs
	}
	return 0
}

var sqlAggregates = map[queryir.AggKind]string{
	queryir.AggCount:      "count",
	queryir.AggSum:        "sum",
	queryir.AggAvg:        "avg",
	queryir.AggMin:        "min",
	queryir.AggMax:        "max",
	queryir.AggStddev:     "stddev",
	queryir.AggStddevPop:  "stddev_pop",
	queryir.AggStddevSamp: "stddev_samp",
	queryir.AggVariance:   "variance",
	queryir.AggVarPop:     "var_pop",
	queryir.AggVarSamp:    "var_samp",
}

func (t *SQLTranslator) aggregation(a queryir.Aggregation, c aggContext) (string, bool) {
	if t.aggregate != nil {
		if s, ok := t.aggregate(t, a, c); ok {
			return s, true
		}
	}
	kind := a.Function.Kind
	if name, ok := t.functions[kind]; ok {
		return name + "(" + c.arg + ")", true
	}
	switch kind {
	case queryir.AggCount:
		if a.Column == "" || a.Column == "*" {
			return "count(*)", true
		}
	case queryir.AggCountDistinct:
		return "count(DISTINCT " + t.quote(valueColumn(a.Column)) + ")", true
	case queryir.AggSpread, queryir.AggIncrease, queryir.AggDelta:
		return "max(" + c.arg + ") - min(" + c.arg + ")", true
	case queryir.AggRate:
		diff := "max(" + c.arg + ") - min(" + c.arg + ")"
		if c.windowMs < timeexpr.Second {
			return diff, true
		}
		return "(" + diff + ") / " + strconv.FormatInt(c.windowMs/timeexpr.Second, 10), true
	case queryir.AggMedian:
		return t.percentile(c.arg, 50), true
	case queryir.AggPercentile, queryir.AggApercentile:
		return t.percentile(c.arg, a.Function.Param), true
	case queryir.AggCustom:
		if isIdent(a.Function.Name) {
			return a.Function.Name + "(" + c.arg + ")", true
		}
		return "", false
	}
	if name, ok := sqlAggregates[kind]; ok {
		return name + "(" + c.arg + ")", true
	}
	return "", false
}

var defaultCastTypes = map[queryir.DataType]string{
	queryir.TypeInt:       "BIGINT",
	queryir.TypeFloat:     "DOUBLE",
	queryir.TypeString:    "VARCHAR",
	queryir.TypeBool:      "BOOLEAN",
	queryir.TypeTimestamp: "TIMESTAMP",
}

func (t *SQLTranslator) transformation(op queryir.TransformOp, x string) (string, bool) {
	if t.transform != nil {
		if s, ok := t.transform(t, op, x); ok {
			return s, true
		}
	}
	switch o := op.(type) {
	case queryir.Math:
		return sqlMath(o, x), true
	case queryir.Cast:
		typ, ok := t.castTypes[o.Type]
		if !ok {
			typ = defaultCastTypes[o.Type]
		}
		if typ == "" {
			return x, false
		}
		return "CAST(" + x + " AS " + typ + ")", true
	}
	return x, false
}

func sqlMath(m queryir.Math, x string) string {
	arg := func() string {
		if m.Arg == nil {
			return "0"
		}
		return queryir.FormatFloat(*m.Arg)
	}
	switch m.Func {
	case queryir.MathRound:
		if m.Arg != nil {
			return "round(" + x + ", " + arg() + ")"
		}
		return "round(" + x + ")"
	case queryir.MathLog:
		switch {
		case m.Arg == nil:
			return "ln(" + x + ")"
		case *m.Arg == 10:
			return "log10(" + x + ")"
		case *m.Arg == 2:
			return "log2(" + x + ")"
		}
		return "ln(" + x + ") / ln(" + arg() + ")"
	case queryir.MathPow:
		return "power(" + x + ", " + arg() + ")"
	case queryir.MathScale:
		return paren(x) + " * " + arg()
	case queryir.MathShift:
		if m.Arg != nil && *m.Arg < 0 {
			return paren(x) + " - " + queryir.FormatFloat(-*m.Arg)
		}
		return paren(x) + " + " + arg()
	}
	return m.Func.String() + "(" + x + ")"
}

// paren wraps x when it is not a single term.
func paren(x string) string {
	if strings.ContainsAny(x, " ") && !(strings.HasPrefix(x, "(") && strings.HasSuffix(x, ")")) {
		return "(" + x + ")"
	}
	return x
}

var sqlOps = map[queryir.CompareOp]string{
	queryir.OpEq:      "=",
	queryir.OpNotEq:   "!=",
	queryir.OpLt:      "<",
	queryir.OpLtEq:    "<=",
	queryir.OpGt:      ">",
	queryir.OpGtEq:    ">=",
	queryir.OpLike:    "LIKE",
	queryir.OpNotLike: "NOT LIKE",
}

func (t *SQLTranslator) condition(c queryir.Condition) string {
	switch v := c.(type) {
	case queryir.Comparison:
		return t.quote(v.Column) + " " + sqlOps[v.Op] + " " + t.value(v.Value)
	case queryir.Regex:
		return t.regex(t.quote(v.Column), v.Pattern, v.Negated)
	case queryir.In:
		vals := make([]string, len(v.Values))
		for i, val := range v.Values {
			vals[i] = t.value(val)
		}
		op := " IN ("
		if v.Negated {
			op = " NOT IN ("
		}
		return t.quote(v.Column) + op + strings.Join(vals, ", ") + ")"
	case queryir.Between:
		op := " BETWEEN "
		if v.Negated {
			op = " NOT BETWEEN "
		}
		return t.quote(v.Column) + op + t.value(v.Low) + " AND " + t.value(v.High)
	case queryir.IsNull:
		if v.Negated {
			return t.quote(v.Column) + " IS NOT NULL"
		}
		return t.quote(v.Column) + " IS NULL"
	case queryir.And:
		return t.junction(v.Conditions, " AND ")
	case queryir.Or:
		return t.junction(v.Conditions, " OR ")
	case queryir.Not:
		return "NOT (" + t.condition(v.Condition) + ")"
	}
	return "TRUE"
}

func (t *SQLTranslator) junction(conds []queryir.Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = t.condition(c)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (t *SQLTranslator) value(v queryir.Value) string {
	switch x := v.(type) {
	case nil, queryir.NullValue:
		return "NULL"
	case queryir.BoolValue:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case queryir.StringValue:
		return sqlString(string(x))
	case queryir.TimestampValue:
		return t.timestamp(int64(x))
	case queryir.DurationValue:
		return t.interval(int64(x))
	case queryir.BytesValue:
		return sqlString(x.String())
	case queryir.ListValue:
		parts := make([]string, len(x))
		for i, elem := range x {
			parts[i] = t.value(elem)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return v.String()
}

func (t *SQLTranslator) timeBounds(plan *queryir.QueryPlan, timeCol string) []string {
	s := timeSpan(plan)
	var out []string
	col := t.quote(timeCol)
	if s.lower != nil {
		out = append(out, col+" >= "+t.bound(*s.lower))
	}
	if s.upper != nil {
		out = append(out, col+" <= "+t.bound(*s.upper))
	}
	return out
}

func (t *SQLTranslator) bound(b queryir.Bound) string {
	if b.Relative {
		return t.now(b.Ms)
	}
	return t.timestamp(b.Ms)
}

func (t *SQLTranslator) orderKey(o queryir.OrderBy) string {
	key := t.quote(o.Column)
	if !o.Ascending {
		key += " DESC"
	}
	if t.nullsOrder && o.NullsFirst != nil {
		if *o.NullsFirst {
			key += " NULLS FIRST"
		} else {
			key += " NULLS LAST"
		}
	}
	return key
}

// sqlReserved holds the words the statement parser will not read as bare
// identifiers.
var sqlReserved = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"having": true, "order": true, "limit": true, "offset": true, "union": true,
	"join": true, "on": true, "as": true, "and": true, "or": true, "not": true,
	"inner": true, "left": true, "right": true, "full": true, "outer": true,
	"cross": true, "asof": true, "splice": true, "prewhere": true, "final": true,
	"settings": true, "format": true, "partition": true, "with": true,
	"into": true, "in": true, "is": true, "between": true, "like": true,
	"ilike": true, "asc": true, "desc": true, "nulls": true, "when": true,
	"then": true, "else": true, "end": true, "case": true, "except": true,
	"intersect": true, "using": true, "window": true, "fill": true,
	"natural": true, "regexp": true, "rlike": true, "distinct": true,
	"null": true, "true": true, "false": true, "interval": true,
	"key": true, "index": true, "range": true, "table": true, "values": true,
}

func (t *SQLTranslator) quote(name string) string {
	if name == "*" {
		return name
	}
	lower := strings.ToLower(name)
	if isIdent(name) && !sqlReserved[lower] && !t.keywords[lower] {
		return name
	}
	q := string(t.quoteChar)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func keywordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// sqlDateTime renders ms as 'YYYY-MM-DD hh:mm:ss[.mmm]' in UTC.
func sqlDateTime(ms int64) string {
	layout := "2006-01-02 15:04:05"
	if ms%timeexpr.Second != 0 {
		layout += ".000"
	}
	return sqlString(time.UnixMilli(ms).UTC().Format(layout))
}

// fraction renders p in [0, 100] as a fraction in [0, 1].
func fraction(p float64) string {
	return queryir.FormatFloat(p / 100)
}

// NewSQL returns the generic (MySQL-flavoured) SQL translator.
func NewSQL() *SQLTranslator {
	return &SQLTranslator{
		dialect:     queryir.SQL,
		timeColumn:  "time",
		quoteChar:   '`',
		bucketAlias: "bucket",
		now: func(off int64) string {
			if off == 0 {
				return "NOW()"
			}
			return "NOW() " + sign(off) + " " + mysqlInterval(abs(off))
		},
		timestamp: sqlDateTime,
		interval:  mysqlInterval,
		regex: func(col, pattern string, negated bool) string {
			if negated {
				return col + " NOT REGEXP " + sqlString(pattern)
			}
			return col + " REGEXP " + sqlString(pattern)
		},
		percentile: withinGroup,
		bucketExpr: func(t *SQLTranslator, b bucket) string {
			return "time_bucket(" + sqlString(timeexpr.FormatInterval(b.ms)) + ", " + t.quote(b.column) + ")"
		},
	}
}

// mysqlInterval renders INTERVAL n UNIT; MySQL has no millisecond unit.
func mysqlInterval(ms int64) string {
	n, word := timeexpr.IntervalUnit(ms)
	if word == "millisecond" {
		n, word = n*1000, "microsecond"
	}
	return "INTERVAL " + strconv.FormatInt(n, 10) + " " + strings.ToUpper(word)
}

func withinGroup(arg string, p float64) string {
	return "percentile_cont(" + fraction(p) + ") WITHIN GROUP (ORDER BY " + arg + ")"
}

// NewTimescale returns the TimescaleDB translator.
func NewTimescale() *SQLTranslator {
	return &SQLTranslator{
		dialect:     queryir.TimescaleDB,
		timeColumn:  "time",
		quoteChar:   '"',
		bucketAlias: "bucket",
		nullsOrder:  true,
		castTypes: map[queryir.DataType]string{
			queryir.TypeInt:       "bigint",
			queryir.TypeFloat:     "float8",
			queryir.TypeString:    "text",
			queryir.TypeBool:      "boolean",
			queryir.TypeTimestamp: "timestamptz",
		},
		now: func(off int64) string {
			if off == 0 {
				return "NOW()"
			}
			return "NOW() " + sign(off) + " " + pgInterval(abs(off))
		},
		timestamp: func(ms int64) string { return sqlString(timeexpr.FormatRFC3339(ms)) },
		interval:  pgInterval,
		regex: func(col, pattern string, negated bool) string {
			if negated {
				return col + " !~ " + sqlString(pattern)
			}
			return col + " ~ " + sqlString(pattern)
		},
		percentile: withinGroup,
		aggregate: func(t *SQLTranslator, a queryir.Aggregation, c aggContext) (string, bool) {
			switch a.Function.Kind {
			case queryir.AggFirst, queryir.AggFirstRow:
				return "first(" + c.arg + ", " + t.quote(c.timeCol) + ")", true
			case queryir.AggLast, queryir.AggLastRow:
				return "last(" + c.arg + ", " + t.quote(c.timeCol) + ")", true
			}
			return "", false
		},
		bucketExpr: func(t *SQLTranslator, b bucket) string {
			fn := "time_bucket"
			if b.fill != nil {
				fn = "time_bucket_gapfill"
			}
			expr := fn + "(" + sqlString(timeexpr.FormatInterval(b.ms)) + ", " + t.quote(b.column)
			if b.offsetMs != 0 && b.fill == nil {
				expr += ", " + pgInterval(b.offsetMs)
			}
			return expr + ")"
		},
		wrapAggregate: func(expr string, b bucket) string {
			if b.fill == nil {
				return expr
			}
			switch b.fill.Mode {
			case queryir.FillPrevious:
				return "locf(" + expr + ")"
			case queryir.FillLinear:
				return "interpolate(" + expr + ")"
			}
			return expr
		},
	}
}

func pgInterval(ms int64) string {
	return "INTERVAL " + sqlString(timeexpr.FormatInterval(ms))
}

// NewDruidSQL returns the Druid SQL translator.
func NewDruidSQL() *SQLTranslator {
	return &SQLTranslator{
		dialect:    queryir.DruidSQL,
		timeColumn: "__time",
		quoteChar:  '"',
		functions: map[queryir.AggKind]string{
			queryir.AggFirst:       "EARLIEST",
			queryir.AggFirstRow:    "EARLIEST",
			queryir.AggLast:        "LATEST",
			queryir.AggLastRow:     "LATEST",
			queryir.AggHyperLogLog: "APPROX_COUNT_DISTINCT",
		},
		now: func(off int64) string {
			if off == 0 {
				return "CURRENT_TIMESTAMP"
			}
			return "CURRENT_TIMESTAMP " + sign(off) + " " + druidInterval(abs(off))
		},
		timestamp: func(ms int64) string { return "TIME_PARSE(" + sqlString(timeexpr.FormatRFC3339(ms)) + ")" },
		interval:  druidInterval,
		regex: func(col, pattern string, negated bool) string {
			expr := "REGEXP_LIKE(" + col + ", " + sqlString(pattern) + ")"
			if negated {
				return "NOT " + expr
			}
			return expr
		},
		percentile: func(arg string, p float64) string {
			return "APPROX_QUANTILE_DS(" + arg + ", " + fraction(p) + ")"
		},
		bucketExpr: func(t *SQLTranslator, b bucket) string {
			return "TIME_FLOOR(" + t.quote(b.column) + ", " + sqlString(timeexpr.FormatISO8601(b.ms)) + ")"
		},
	}
}

// druidInterval renders INTERVAL 'n' UNIT; sub-second spans use a
// fractional SECOND.
func druidInterval(ms int64) string {
	n, word := timeexpr.IntervalUnit(ms)
	if word == "millisecond" {
		return "INTERVAL " + sqlString(queryir.FormatFloat(float64(ms)/1000)) + " SECOND"
	}
	return "INTERVAL " + sqlString(strconv.FormatInt(n, 10)) + " " + strings.ToUpper(word)
}

func sign(off int64) string {
	if off < 0 {
		return "-"
	}
	return "+"
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
