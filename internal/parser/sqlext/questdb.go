package sqlext

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// NewQuestDB returns the QuestDB parser.
func NewQuestDB() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.QuestDB,
		durations:   true,
		timeColumns: []string{"ts", "timestamp", "time", "pickup_datetime"},
		keywords:    []string{"sample", "latest", "align"},
		clause:      questdbClause,
		duration:    questdbDuration,
		aggregate:   questdbAggregate,
		timeValue:   questdbTimeValue,
		aggregates: map[string]queryir.AggKind{
			"count_distinct": queryir.AggCountDistinct,
			"ksum":           queryir.AggSum,
			"nsum":           queryir.AggSum,
			"first_not_null": queryir.AggFirst,
			"last_not_null":  queryir.AggLast,
		},
	}}
}

// questdbUnits are QuestDB's case-sensitive single-letter units: T is a
// millisecond and M a month.
var questdbUnits = map[byte]int64{
	'T': 1,
	's': timeexpr.Second,
	'm': timeexpr.Minute,
	'h': timeexpr.Hour,
	'd': timeexpr.Day,
	'w': timeexpr.Week,
	'M': timeexpr.Month,
	'y': timeexpr.Year,
}

func questdbDuration(text string) (int64, bool) {
	if len(text) < 2 {
		return 0, false
	}
	unit, ok := questdbUnits[text[len(text)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(text[:len(text)-1], 64)
	if err != nil {
		return 0, false
	}
	return int64(n * float64(unit)), true
}

// questdbClause parses SAMPLE BY and LATEST ON.
func questdbClause(p *parser, st *statement) (bool, error) {
	t := p.s.Peek()
	switch {
	case p.s.AcceptKeywords("sample", "by"):
		d, err := p.durationToken()
		if err != nil {
			return false, err
		}
		sw := queryir.SampleByWindow{IntervalMs: d}
		w := queryir.Window{}
		if p.s.AcceptKeyword("fill") {
			f, err := p.fill()
			if err != nil {
				return false, err
			}
			w.Fill = f
		}
		if p.s.AcceptKeywords("align", "to") {
			switch {
			case p.s.AcceptKeywords("calendar"):
				sw.Align = "calendar"
				if p.s.AcceptKeywords("time", "zone") {
					if z := p.s.Next(); z.Kind == scan.String {
						st.hint("time_zone", z.Value)
					}
				}
				if p.s.AcceptKeyword("with") {
					if err := p.expectKeyword("offset"); err != nil {
						return false, err
					}
					if o := p.s.Next(); o.Kind == scan.String {
						st.hint("align_offset", o.Value)
					}
				}
			case p.s.AcceptKeywords("first", "observation"):
				sw.Align = "first observation"
			default:
				u := p.s.Peek()
				return false, p.errorf(u.Pos, "expected CALENDAR or FIRST OBSERVATION, found %s", describe(u))
			}
		}
		w.Kind = sw
		st.deferred = append(st.deferred, addWindow(w))
		return true, nil

	case p.s.AcceptKeywords("latest", "on"):
		ts := p.s.Next()
		if ts.Kind != scan.Ident && ts.Kind != scan.QuotedIdent {
			return false, p.errorf(ts.Pos, "expected timestamp column, found %s", describe(ts))
		}
		if !p.s.AcceptKeywords("partition", "by") {
			u := p.s.Peek()
			return false, p.errorf(u.Pos, "expected PARTITION BY, found %s", describe(u))
		}
		cols, err := p.exprSequence()
		if err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			l.plan.AddAggregation(queryir.Agg(queryir.AggLastRow, ts.Value))
			for _, c := range cols {
				l.plan.AddGroupBy(queryir.GroupTag{Name: columnOf(c)})
			}
			return nil
		})
		return true, nil

	case t.IsKeyword("latest") && p.s.PeekN(1).IsKeyword("by"):
		// Pre-6.0 spelling: LATEST BY col.
		p.s.Next()
		p.s.Next()
		cols, err := p.exprSequence()
		if err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			l.plan.AddAggregation(queryir.Agg(queryir.AggLastRow, "*"))
			for _, c := range cols {
				l.plan.AddGroupBy(queryir.GroupTag{Name: columnOf(c)})
			}
			return nil
		})
		return true, nil
	}
	return false, nil
}

func questdbAggregate(l *lowering, c callExpr) (queryir.Aggregation, bool, error) {
	switch c.name {
	case "approx_percentile":
		if len(c.args) < 2 {
			return queryir.Aggregation{}, false, l.errorf(c.at, "approx_percentile expects a column and a fraction")
		}
		p, err := l.numberArg(c, 1)
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		return queryir.Aggregation{Function: queryir.Apercentile(p * 100), Column: columnOf(c.args[0])}, true, nil
	}
	return queryir.Aggregation{}, false, nil
}

// questdbTimeValue evaluates dateadd('h', -1, now()) and systimestamp().
func questdbTimeValue(l *lowering, e expr) (queryir.Bound, bool) {
	c, ok := e.(callExpr)
	if !ok || c.name != "dateadd" || len(c.args) != 3 {
		return queryir.Bound{}, false
	}
	unit, ok := c.args[0].(strExpr)
	if !ok || len(unit.val) != 1 {
		return queryir.Bound{}, false
	}
	ms, ok := questdbUnits[unit.val[0]]
	if !ok {
		return queryir.Bound{}, false
	}
	n, ok := signedNumber(c.args[1])
	if !ok {
		return queryir.Bound{}, false
	}
	base, ok := l.timeValue(c.args[2])
	if !ok {
		return queryir.Bound{}, false
	}
	return queryir.Bound{Ms: base.Ms + int64(n*float64(ms)), Relative: base.Relative}, true
}

func signedNumber(e expr) (float64, bool) {
	if u, ok := e.(unaryExpr); ok && u.op == "-" {
		n, ok := number(u.x)
		return -n, ok
	}
	if n, ok := number(e); ok {
		return n, true
	}
	if s, ok := e.(strExpr); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s.val), 64)
		return n, err == nil
	}
	return 0, false
}
