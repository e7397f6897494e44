package translate

import (
	"strconv"

	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// NewTDengine returns the TDengine translator. Tag groupings become
// PARTITION BY; windows become TDengine window clauses with _wstart as
// the window's time column.
func NewTDengine() *SQLTranslator {
	return &SQLTranslator{
		dialect:       queryir.TDengine,
		timeColumn:    "ts",
		quoteChar:     '`',
		partitionTags: true,
		keywords: keywordSet("interval", "sliding", "session", "state_window",
			"event_window", "count_window", "match", "nmatch"),
		functions: map[queryir.AggKind]string{
			queryir.AggFirst:       "first",
			queryir.AggFirstRow:    "first",
			queryir.AggLast:        "last",
			queryir.AggLastRow:     "last_row",
			queryir.AggSpread:      "spread",
			queryir.AggTwa:         "twa",
			queryir.AggIrate:       "irate",
			queryir.AggMode:        "mode",
			queryir.AggHyperLogLog: "hyperloglog",
		},
		now: func(off int64) string {
			if off == 0 {
				return "NOW"
			}
			return "NOW " + sign(off) + " " + timeexpr.FormatShort(abs(off), "a")
		},
		timestamp: sqlDateTime,
		interval:  func(ms int64) string { return timeexpr.FormatShort(ms, "a") },
		regex: func(col, pattern string, negated bool) string {
			if negated {
				return col + " NMATCH " + sqlString(pattern)
			}
			return col + " MATCH " + sqlString(pattern)
		},
		percentile: func(arg string, p float64) string {
			return "percentile(" + arg + ", " + queryir.FormatFloat(p) + ")"
		},
		aggregate: func(t *SQLTranslator, a queryir.Aggregation, c aggContext) (string, bool) {
			n := strconv.FormatInt(a.Function.N, 10)
			switch a.Function.Kind {
			case queryir.AggApercentile:
				return "apercentile(" + c.arg + ", " + queryir.FormatFloat(a.Function.Param) + ")", true
			case queryir.AggTopK:
				return "top(" + c.arg + ", " + n + ")", true
			case queryir.AggBottomK:
				return "bottom(" + c.arg + ", " + n + ")", true
			case queryir.AggSample:
				return "sample(" + c.arg + ", " + n + ")", true
			}
			return "", false
		},
		transform: tdengineTransform,
		windows:   tdengineWindows,
	}
}

func tdengineTransform(t *SQLTranslator, op queryir.TransformOp, x string) (string, bool) {
	switch o := op.(type) {
	case queryir.Derivative:
		unit := o.UnitMs
		if unit == 0 {
			unit = timeexpr.Second
		}
		nn := "0"
		if o.NonNegative {
			nn = "1"
		}
		return "derivative(" + x + ", " + timeexpr.FormatShort(unit, "a") + ", " + nn + ")", true
	case queryir.Difference:
		if o.NonNegative {
			return "diff(" + x + ", 1)", true
		}
		return "diff(" + x + ")", true
	case queryir.MovingAverage:
		return "mavg(" + x + ", " + strconv.FormatInt(o.Points, 10) + ")", true
	case queryir.CumulativeSum:
		return "csum(" + x + ")", true
	case queryir.Elapsed:
		if o.UnitMs > 0 {
			return "elapsed(" + t.quote(t.timeColumn) + ", " + timeexpr.FormatShort(o.UnitMs, "a") + ")", true
		}
		return "elapsed(" + t.quote(t.timeColumn) + ")", true
	}
	return "", false
}

// tdengineWindows emits the single window clause TDengine allows: an
// INTERVAL for a bucket, else the first session, state, event or count
// window.
func tdengineWindows(t *SQLTranslator, st *statement, plan *queryir.QueryPlan, b bucket, hasBucket bool) {
	clause := ""
	if hasBucket {
		clause = "INTERVAL(" + timeexpr.FormatShort(b.ms, "a")
		if b.offsetMs != 0 {
			clause += ", " + timeexpr.FormatShort(b.offsetMs, "a")
		}
		clause += ")"
		if b.sliding != nil {
			clause += " SLIDING(" + timeexpr.FormatShort(*b.sliding, "a") + ")"
		}
		if f := tdengineFill(b.fill); f != "" {
			clause += " " + f
		}
	} else {
		for _, w := range plan.Windows {
			if clause = t.tdengineWindow(w.Kind); clause != "" {
				break
			}
		}
	}
	if clause == "" {
		return
	}
	st.clauses = append(st.clauses, clause)
	st.selects = append([]string{"_wstart"}, st.selects...)
}

func (t *SQLTranslator) tdengineWindow(k queryir.WindowKind) string {
	switch w := k.(type) {
	case queryir.SessionWindow:
		col := w.Column
		if col == "" {
			col = t.timeColumn
		}
		return "SESSION(" + t.quote(col) + ", " + timeexpr.FormatShort(w.GapMs, "a") + ")"
	case queryir.StateWindow:
		return "STATE_WINDOW(" + t.quote(w.Column) + ")"
	case queryir.EventWindow:
		if w.Start == nil || w.End == nil {
			return ""
		}
		return "EVENT_WINDOW START WITH " + t.condition(w.Start) + " END WITH " + t.condition(w.End)
	case queryir.CountWindow:
		s := "COUNT_WINDOW(" + strconv.FormatInt(w.N, 10)
		if w.Sliding != nil {
			s += ", " + strconv.FormatInt(*w.Sliding, 10)
		}
		return s + ")"
	}
	return ""
}

func tdengineFill(f *queryir.Fill) string {
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
	case queryir.FillNext:
		return "FILL(NEXT)"
	case queryir.FillLinear:
		return "FILL(LINEAR)"
	case queryir.FillValue:
		if f.Value != nil {
			return "FILL(VALUE, " + f.Value.String() + ")"
		}
	}
	return ""
}
