package sqlext

import (
	"github.com/roach88/polyql/internal/queryir"
)

// NewTimescale returns the TimescaleDB (PostgreSQL) parser.
func NewTimescale() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.TimescaleDB,
		timeColumns: []string{"time", "ts", "timestamp", "bucket"},
		bucket:      timescaleBucket,
		aggregate:   timescaleAggregate,
		transform:   timescaleTransform,
		aggregates: map[string]queryir.AggKind{
			"percentile_agg": queryir.AggPercentile,
			"approx_count":   queryir.AggHyperLogLog,
			"hyperloglog":    queryir.AggHyperLogLog,
			"delta":          queryir.AggDelta,
			"rate":           queryir.AggRate,
			"irate":          queryir.AggIrate,
			"counter_agg":    queryir.AggIncrease,
			"time_weight":    queryir.AggTwa,
		},
	}}
}

// timescaleBucket recognizes time_bucket(width, ts [, offset]) and
// time_bucket_gapfill(width, ts), which also fills empty buckets with NULL.
func timescaleBucket(l *lowering, c callExpr) (queryir.Window, string, bool) {
	switch c.name {
	case "time_bucket", "time_bucket_gapfill":
	default:
		return queryir.Window{}, "", false
	}
	if len(c.args) < 2 {
		return queryir.Window{}, "", false
	}
	width, ok := l.durationOf(c.args[0])
	if !ok {
		return queryir.Window{}, "", false
	}
	iw := queryir.IntervalWindow{DurationMs: width}
	if c.name == "time_bucket" && len(c.args) > 2 {
		if off, ok := l.durationOf(c.args[2]); ok {
			iw.OffsetMs = off
		}
	}
	w := queryir.Window{Kind: iw}
	if c.name == "time_bucket_gapfill" {
		w.Fill = queryir.NewFill(queryir.FillNull)
	}
	return w, columnOf(c.args[1]), true
}

// timescaleAggregate handles first(value, time), last(value, time) and the
// gap-filling wrappers locf(agg) and interpolate(agg).
func timescaleAggregate(l *lowering, c callExpr) (queryir.Aggregation, bool, error) {
	switch c.name {
	case "first", "last":
		if len(c.args) != 2 {
			return queryir.Aggregation{}, false, nil
		}
		kind := queryir.AggFirst
		if c.name == "last" {
			kind = queryir.AggLast
		}
		return queryir.Agg(kind, columnOf(c.args[0])), true, nil
	case "locf", "interpolate":
		if len(c.args) != 1 {
			return queryir.Aggregation{}, false, nil
		}
		inner, ok := c.args[0].(callExpr)
		if !ok {
			return queryir.Aggregation{}, false, nil
		}
		agg, ok, err := l.aggregation(inner)
		if err != nil || !ok {
			return agg, ok, err
		}
		mode := queryir.FillPrevious
		if c.name == "interpolate" {
			mode = queryir.FillLinear
		}
		l.fill = queryir.NewFill(mode)
		return agg, true, nil
	}
	return queryir.Aggregation{}, false, nil
}

func timescaleTransform(l *lowering, c callExpr) (queryir.Transformation, bool) {
	switch c.name {
	case "lag", "lead":
		if c.over {
			return queryir.Transformation{Op: queryir.CustomTransform{Name: c.name}}, true
		}
	}
	return queryir.Transformation{}, false
}
