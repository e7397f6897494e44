package sqlext

import (
	"strings"

	"github.com/alecthomas/units"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// NewClickHouse returns the ClickHouse parser.
func NewClickHouse() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.ClickHouse,
		timeColumns: []string{"timestamp", "time", "ts", "event_time", "date", "event_date"},
		keywords:    []string{"sample", "array"},
		clause:      clickhouseClause,
		bucket:      clickhouseBucket,
		aggregate:   clickhouseAggregate,
		aggregates: map[string]queryir.AggKind{
			"uniq":           queryir.AggCountDistinct,
			"uniqexact":      queryir.AggCountDistinct,
			"uniqcombined":   queryir.AggCountDistinct,
			"uniqcombined64": queryir.AggCountDistinct,
			"uniqhll12":      queryir.AggCountDistinct,
			"uniqtheta":      queryir.AggCountDistinct,
			"any":            queryir.AggFirst,
			"anylast":        queryir.AggLast,
			"argmin":         queryir.AggFirst,
			"argmax":         queryir.AggLast,
			"varpop":         queryir.AggVarPop,
			"varsamp":        queryir.AggVarSamp,
			"stddevpop":      queryir.AggStddevPop,
			"stddevsamp":     queryir.AggStddevSamp,
			"deltasum":       queryir.AggIncrease,
			"histogram":      queryir.AggHistogram,
		},
	}}
}

// clickhouseStarts maps toStartOfX functions to their bucket width.
var clickhouseStarts = map[string]int64{
	"tostartofsecond":         timeexpr.Second,
	"tostartofminute":         timeexpr.Minute,
	"tostartoffiveminute":     5 * timeexpr.Minute,
	"tostartoffiveminutes":    5 * timeexpr.Minute,
	"tostartoftenminutes":     10 * timeexpr.Minute,
	"tostartoffifteenminutes": 15 * timeexpr.Minute,
	"tostartofhour":           timeexpr.Hour,
	"tostartofday":            timeexpr.Day,
	"todate":                  timeexpr.Day,
	"tomonday":                timeexpr.Week,
	"tostartofweek":           timeexpr.Week,
	"tostartofmonth":          timeexpr.Month,
	"tostartofquarter":        3 * timeexpr.Month,
	"tostartofyear":           timeexpr.Year,
}

func clickhouseBucket(l *lowering, c callExpr) (queryir.Window, string, bool) {
	if len(c.args) == 0 {
		return queryir.Window{}, "", false
	}
	if ms, ok := clickhouseStarts[c.name]; ok {
		return interval(ms), columnOf(c.args[0]), true
	}
	if c.name == "tostartofinterval" && len(c.args) >= 2 {
		if ms, ok := l.durationOf(c.args[1]); ok && ms > 0 {
			return interval(ms), columnOf(c.args[0]), true
		}
	}
	return queryir.Window{}, "", false
}

// clickhouseAggregate lowers parametric aggregates: quantile(0.9)(x),
// topK(10)(x) and the median family.
func clickhouseAggregate(l *lowering, c callExpr) (queryir.Aggregation, bool, error) {
	col := ""
	if len(c.args) > 0 {
		col = columnOf(c.args[0])
	}
	param := func() (float64, error) {
		if len(c.params) == 0 {
			return 0, l.errorf(c.at, "%s requires a parameter", c.name)
		}
		n, ok := number(c.params[0])
		if !ok {
			return 0, l.errorf(c.at, "%s parameter must be a number", c.name)
		}
		return n, nil
	}
	switch c.name {
	case "quantile", "quantileexact", "quantiletdigest", "quantiletiming":
		if len(c.params) == 0 {
			return queryir.Aggregation{Function: queryir.Fn(queryir.AggMedian), Column: col}, true, nil
		}
		p, err := param()
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		fn := queryir.Percentile(p * 100)
		if c.name == "quantiletdigest" {
			fn = queryir.Apercentile(p * 100)
		}
		return queryir.Aggregation{Function: fn, Column: col}, true, nil
	case "topk":
		n, err := param()
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		return queryir.Aggregation{Function: queryir.TopK(int64(n)), Column: col}, true, nil
	case "median", "medianexact":
		return queryir.Aggregation{Function: queryir.Fn(queryir.AggMedian), Column: col}, true, nil
	case "quantiles":
		var args []queryir.Value
		for _, p := range c.params {
			if v, ok := literal(p); ok {
				args = append(args, v)
			}
		}
		return queryir.Aggregation{Function: queryir.Custom("quantiles"), Column: col, Args: args}, true, nil
	case "countif", "sumif", "avgif", "minif", "maxif":
		kind := commonAggregates[strings.TrimSuffix(c.name, "if")]
		agg := queryir.Aggregation{Function: queryir.Fn(kind), Column: col}
		if c.name == "countif" {
			agg.Column = "*"
		}
		if n := len(c.args); n > 0 {
			if cond, ok := l.condition(c.args[n-1]); ok {
				l.plan.Hints.SetCustom("aggregate_if", agg.Function.String()+": "+cond.String())
			}
		}
		return agg, true, nil
	}
	return queryir.Aggregation{}, false, nil
}

// clickhouseClause parses SETTINGS, FORMAT and ARRAY JOIN.
func clickhouseClause(p *parser, st *statement) (bool, error) {
	t := p.s.Peek()
	switch {
	case p.s.AcceptKeyword("settings"):
		list, err := p.exprSequence()
		if err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			for _, s := range list {
				l.setting(s)
			}
			return nil
		})
		return true, nil

	case p.s.AcceptKeyword("format"):
		f := p.s.Next()
		if f.Kind != scan.Ident {
			return false, p.errorf(f.Pos, "expected format name, found %s", describe(f))
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			l.plan.OutputFormat = &queryir.OutputFormat{ResultType: f.Text}
			l.plan.Hints.SetCustom("format", f.Text)
			return nil
		})
		return true, nil

	case t.IsKeyword("array") && p.s.PeekN(1).IsKeyword("join"),
		t.IsKeyword("left") && p.s.PeekN(1).IsKeyword("array"):
		for !p.s.AcceptKeyword("join") {
			p.s.Next()
		}
		list, err := p.exprSequence()
		if err != nil {
			return false, err
		}
		parts := make([]string, len(list))
		for i, x := range list {
			parts[i] = render(x)
		}
		st.hint("array_join", strings.Join(parts, ", "))
		return true, nil
	}
	return false, nil
}

// setting maps a SETTINGS assignment onto a typed hint where one exists.
func (l *lowering) setting(s expr) {
	b, ok := s.(binExpr)
	if !ok || b.op != "=" {
		l.plan.Hints.SetCustom("settings", render(s))
		return
	}
	key := ""
	if id, ok := b.l.(identExpr); ok {
		key = strings.ToLower(id.name())
	}
	n, isNum := number(b.r)
	h := &l.plan.Hints
	switch {
	case key == "max_threads" && isNum:
		v := int(n)
		h.Parallel = &v
	case key == "max_execution_time" && isNum:
		h.TimeoutMs = queryir.Int64Ptr(int64(n * 1000))
	case key == "max_memory_usage":
		if isNum {
			h.MemoryLimitBytes = queryir.Int64Ptr(int64(n))
			return
		}
		if str, ok := b.r.(strExpr); ok {
			if bytes, err := units.ParseBase2Bytes(str.val); err == nil {
				h.MemoryLimitBytes = queryir.Int64Ptr(int64(bytes))
				return
			}
		}
		h.SetCustom("settings", render(s))
	case key == "use_query_cache" || key == "use_uncompressed_cache":
		h.UseCache = queryir.BoolPtr(isNum && n != 0)
	default:
		h.SetCustom("settings", key+"="+settingValue(b.r))
	}
}

func settingValue(e expr) string {
	switch x := e.(type) {
	case strExpr:
		return x.val
	case numExpr:
		return x.text
	}
	return render(e)
}
