package translate

import (
	"strconv"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// questdbUnits is the dateadd() unit ladder; T is a millisecond.
var questdbUnits = []timeexpr.Unit{
	{Ms: timeexpr.Day, Suffix: "d"},
	{Ms: timeexpr.Hour, Suffix: "h"},
	{Ms: timeexpr.Minute, Suffix: "m"},
	{Ms: timeexpr.Second, Suffix: "s"},
	{Ms: 1, Suffix: "T"},
}

// NewQuestDB returns the QuestDB translator. Buckets become SAMPLE BY,
// which groups by the selected keys implicitly.
func NewQuestDB() *SQLTranslator {
	return &SQLTranslator{
		dialect:    queryir.QuestDB,
		timeColumn: "timestamp",
		quoteChar:  '"',
		keywords:   keywordSet("sample", "latest", "align"),
		functions: map[queryir.AggKind]string{
			queryir.AggFirst:         "first",
			queryir.AggFirstRow:      "first",
			queryir.AggLast:          "last",
			queryir.AggLastRow:       "last",
			queryir.AggCountDistinct: "count_distinct",
		},
		now: func(off int64) string {
			if off == 0 {
				return "now()"
			}
			n, u, _ := timeexpr.Largest(abs(off), questdbUnits)
			if off < 0 {
				n = -n
			}
			return "dateadd('" + u.Suffix + "', " + strconv.FormatInt(n, 10) + ", now())"
		},
		timestamp: func(ms int64) string { return sqlString(timeexpr.FormatRFC3339(ms)) },
		interval:  func(ms int64) string { return timeexpr.FormatShort(ms, "T") },
		regex: func(col, pattern string, negated bool) string {
			if negated {
				return col + " !~ " + sqlString(pattern)
			}
			return col + " ~ " + sqlString(pattern)
		},
		percentile: func(arg string, p float64) string {
			return "approx_percentile(" + arg + ", " + fraction(p) + ")"
		},
		aggregate: func(t *SQLTranslator, a queryir.Aggregation, c aggContext) (string, bool) {
			if a.Function.Kind == queryir.AggCount && (a.Column == "" || a.Column == "*") {
				return "count()", true
			}
			return "", false
		},
		windows: questdbSampleBy,
	}
}

func questdbSampleBy(t *SQLTranslator, st *statement, plan *queryir.QueryPlan, b bucket, hasBucket bool) {
	if !hasBucket {
		return
	}
	clause := "SAMPLE BY " + timeexpr.FormatShort(b.ms, "T")
	if f := questdbFill(b.fill); f != "" {
		clause += " " + f
	}
	switch b.align {
	case "calendar":
		clause += " ALIGN TO CALENDAR"
	case "first observation":
		clause += " ALIGN TO FIRST OBSERVATION"
	}
	st.clauses = append(st.clauses, clause)
	st.selects = append([]string{t.quote(b.column)}, st.selects...)
	st.groupBy = nil
}

func questdbFill(f *queryir.Fill) string {
	if f == nil {
		return ""
	}
	switch f.Mode {
	case queryir.FillNone:
		return "FILL(NONE)"
	case queryir.FillNull:
		return "FILL(NULL)"
	case queryir.FillPrevious:
		return "FILL(PREV)"
	case queryir.FillLinear:
		return "FILL(LINEAR)"
	case queryir.FillValue:
		if f.Value != nil {
			return "FILL(" + f.Value.String() + ")"
		}
	}
	return ""
}
