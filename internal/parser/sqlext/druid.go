package sqlext

import (
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// NewDruidSQL returns the Druid SQL parser. __time is the time column.
func NewDruidSQL() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.DruidSQL,
		timeColumns: []string{"__time"},
		bucket:      druidBucket,
		aggregate:   druidAggregate,
		timeValue:   druidTimeValue,
		predicate:   druidPredicate,
		aggregates: map[string]queryir.AggKind{
			"approx_count_distinct":          queryir.AggHyperLogLog,
			"approx_count_distinct_ds_hll":   queryir.AggHyperLogLog,
			"approx_count_distinct_ds_theta": queryir.AggHyperLogLog,
			"earliest":                       queryir.AggFirst,
			"earliest_by":                    queryir.AggFirst,
			"latest":                         queryir.AggLast,
			"latest_by":                      queryir.AggLast,
			"any_value":                      queryir.AggFirst,
		},
	}}
}

func druidBucket(l *lowering, c callExpr) (queryir.Window, string, bool) {
	switch c.name {
	case "time_floor":
		if len(c.args) < 2 {
			return queryir.Window{}, "", false
		}
		if ms, ok := l.durationOf(c.args[1]); ok && ms > 0 {
			return interval(ms), columnOf(c.args[0]), true
		}
	case "floor":
		if c.toUnit == "" || len(c.args) != 1 {
			return queryir.Window{}, "", false
		}
		if ms, ok := timeexpr.UnitMs(c.toUnit); ok {
			return interval(ms), columnOf(c.args[0]), true
		}
	}
	return queryir.Window{}, "", false
}

func druidAggregate(l *lowering, c callExpr) (queryir.Aggregation, bool, error) {
	switch c.name {
	case "approx_quantile", "approx_quantile_ds", "approx_quantile_fixed_buckets":
		if len(c.args) < 2 {
			return queryir.Aggregation{}, false, l.errorf(c.at, "%s expects a column and a probability", c.name)
		}
		p, err := l.numberArg(c, 1)
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		return queryir.Aggregation{Function: queryir.Percentile(p * 100), Column: columnOf(c.args[0])}, true, nil
	}
	return queryir.Aggregation{}, false, nil
}

// druidTimeValue evaluates TIME_PARSE, MILLIS_TO_TIMESTAMP and TIME_SHIFT.
func druidTimeValue(l *lowering, e expr) (queryir.Bound, bool) {
	c, ok := e.(callExpr)
	if !ok || len(c.args) == 0 {
		return queryir.Bound{}, false
	}
	switch c.name {
	case "time_parse":
		if s, ok := c.args[0].(strExpr); ok {
			return absolute(s.val)
		}
	case "millis_to_timestamp":
		if n, ok := number(c.args[0]); ok {
			return queryir.Bound{Ms: int64(n)}, true
		}
	case "time_shift":
		if len(c.args) != 3 {
			return queryir.Bound{}, false
		}
		base, ok := l.timeValue(c.args[0])
		if !ok {
			return queryir.Bound{}, false
		}
		period, ok := l.durationOf(c.args[1])
		if !ok {
			return queryir.Bound{}, false
		}
		n, ok := signedNumber(c.args[2])
		if !ok {
			return queryir.Bound{}, false
		}
		return queryir.Bound{Ms: base.Ms + int64(n)*period, Relative: base.Relative}, true
	}
	return queryir.Bound{}, false
}

// druidPredicate folds TIME_IN_INTERVAL(__time, 'start/end') into the time
// range. The end may be an ISO 8601 period.
func druidPredicate(l *lowering, e expr) (bool, error) {
	c, ok := e.(callExpr)
	if !ok || c.name != "time_in_interval" {
		return false, nil
	}
	if len(c.args) != 2 {
		return false, l.errorf(c.at, "TIME_IN_INTERVAL expects a column and an interval")
	}
	s, ok := c.args[1].(strExpr)
	if !ok {
		return false, l.errorf(c.at, "TIME_IN_INTERVAL interval must be a string")
	}
	start, end, found := strings.Cut(s.val, "/")
	if !found {
		return false, l.errorf(c.at, "invalid ISO 8601 interval %q", s.val)
	}
	lo, err := timeexpr.ParseTime(start)
	if err != nil {
		return false, l.errorf(c.at, "invalid interval start %q", start)
	}
	var hi int64
	if strings.HasPrefix(strings.ToUpper(end), "P") {
		d, err := timeexpr.ParseISO8601(end)
		if err != nil {
			return false, l.errorf(c.at, "invalid interval period %q", end)
		}
		hi = lo + d
	} else if hi, err = timeexpr.ParseTime(end); err != nil {
		return false, l.errorf(c.at, "invalid interval end %q", end)
	}
	l.bounds.SetLower(queryir.Bound{Ms: lo})
	l.bounds.SetUpper(queryir.Bound{Ms: hi})
	return true, nil
}
