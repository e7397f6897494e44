package translate

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// startOf maps bucket widths to ClickHouse's toStartOf* functions.
var startOf = map[int64]string{
	timeexpr.Minute:      "toStartOfMinute",
	5 * timeexpr.Minute:  "toStartOfFiveMinutes",
	10 * timeexpr.Minute: "toStartOfTenMinutes",
	15 * timeexpr.Minute: "toStartOfFifteenMinutes",
	timeexpr.Hour:        "toStartOfHour",
	timeexpr.Day:         "toStartOfDay",
}

// NewClickHouse returns the ClickHouse translator.
func NewClickHouse() *SQLTranslator {
	return &SQLTranslator{
		dialect:     queryir.ClickHouse,
		timeColumn:  "timestamp",
		quoteChar:   '`',
		bucketAlias: "bucket",
		nullsOrder:  true,
		castTypes: map[queryir.DataType]string{
			queryir.TypeInt:       "Int64",
			queryir.TypeFloat:     "Float64",
			queryir.TypeString:    "String",
			queryir.TypeBool:      "Bool",
			queryir.TypeTimestamp: "DateTime",
		},
		functions: map[queryir.AggKind]string{
			queryir.AggMedian:      "median",
			queryir.AggFirst:       "any",
			queryir.AggFirstRow:    "any",
			queryir.AggLast:        "anyLast",
			queryir.AggLastRow:     "anyLast",
			queryir.AggStddev:      "stddevSamp",
			queryir.AggStddevPop:   "stddevPop",
			queryir.AggStddevSamp:  "stddevSamp",
			queryir.AggVariance:    "varSamp",
			queryir.AggVarPop:      "varPop",
			queryir.AggVarSamp:     "varSamp",
			queryir.AggHyperLogLog: "uniq",
		},
		now: func(off int64) string {
			if off == 0 {
				return "now()"
			}
			return "now() " + sign(off) + " " + clickhouseInterval(abs(off))
		},
		timestamp: sqlDateTime,
		interval:  clickhouseInterval,
		regex: func(col, pattern string, negated bool) string {
			expr := "match(" + col + ", " + sqlString(pattern) + ")"
			if negated {
				return "NOT " + expr
			}
			return expr
		},
		percentile: func(arg string, p float64) string {
			return "quantile(" + fraction(p) + ")(" + arg + ")"
		},
		aggregate: func(t *SQLTranslator, a queryir.Aggregation, c aggContext) (string, bool) {
			switch a.Function.Kind {
			case queryir.AggCount:
				if a.Column == "" || a.Column == "*" {
					return "count()", true
				}
			case queryir.AggTopK:
				return "topK(" + strconv.FormatInt(a.Function.N, 10) + ")(" + c.arg + ")", true
			case queryir.AggCountDistinct:
				return "uniqExact(" + c.arg + ")", true
			}
			return "", false
		},
		bucketExpr: func(t *SQLTranslator, b bucket) string {
			col := t.quote(b.column)
			if fn, ok := startOf[b.ms]; ok && b.offsetMs == 0 {
				return fn + "(" + col + ")"
			}
			n, word := timeexpr.IntervalUnit(b.ms)
			return "toStartOfInterval(" + col + ", INTERVAL " + strconv.FormatInt(n, 10) + " " + strings.ToUpper(word) + ")"
		},
		finish: func(t *SQLTranslator, st *statement, plan *queryir.QueryPlan) {
			if v, _ := plan.Hints.CustomValue("with_totals"); v == "true" && len(st.groupBy) > 0 {
				st.modifiers = append(st.modifiers, "WITH TOTALS")
			}
			// Settings and format hints hold ClickHouse text only when
			// the plan came from ClickHouse.
			if plan.SourceDialect != queryir.ClickHouse {
				return
			}
			if v, ok := plan.Hints.CustomValue("settings"); ok {
				st.trailer = append(st.trailer, "SETTINGS "+v)
			}
			if v, ok := plan.Hints.CustomValue("format"); ok {
				st.trailer = append(st.trailer, "FORMAT "+v)
			}
		},
	}
}

// clickhouseInterval renders toIntervalUnit(n).
func clickhouseInterval(ms int64) string {
	n, word := timeexpr.IntervalUnit(ms)
	return "toInterval" + strings.ToUpper(word[:1]) + word[1:] + "(" + strconv.FormatInt(n, 10) + ")"
}
