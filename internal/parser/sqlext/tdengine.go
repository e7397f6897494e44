package sqlext

import (
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
)

// NewTDengine returns the TDengine parser. Durations such as 10m and 500a
// (milliseconds) are lexed as literals.
func NewTDengine() *Parser {
	return &Parser{h: &hooks{
		dialect:     queryir.TDengine,
		durations:   true,
		timeColumns: []string{"ts", "_ts", "_wstart", "_wend", "_wduration", "_irowts", "_rowts", "time", "timestamp"},
		keywords:    []string{"interval", "sliding", "session", "state_window", "event_window", "count_window"},
		clause:      tdengineClause,
		statement:   tdengineStatement,
		aggregate:   tdengineAggregate,
		transform:   tdengineTransform,
		aggregates: map[string]queryir.AggKind{
			"last_row":     queryir.AggLastRow,
			"first_row":    queryir.AggFirstRow,
			"twa":          queryir.AggTwa,
			"irate":        queryir.AggIrate,
			"spread":       queryir.AggSpread,
			"hyperloglog":  queryir.AggHyperLogLog,
			"histogram":    queryir.AggHistogram,
			"leastsquares": queryir.AggDeriv,
		},
	}}
}

func addWindow(w queryir.Window) func(*lowering) error {
	return func(l *lowering) error {
		l.plan.AddWindow(w)
		return nil
	}
}

// tdengineClause parses the window clauses that follow PARTITION BY.
func tdengineClause(p *parser, st *statement) (bool, error) {
	t := p.s.Peek()
	if t.Kind != scan.Ident {
		return false, nil
	}
	switch strings.ToLower(t.Text) {
	case "interval":
		p.s.Next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		d, err := p.durationToken()
		if err != nil {
			return false, err
		}
		iw := queryir.IntervalWindow{DurationMs: d}
		if p.s.Accept(",") {
			off, err := p.durationToken()
			if err != nil {
				return false, err
			}
			iw.OffsetMs = off
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		if p.s.AcceptKeyword("sliding") {
			if err := p.expect("("); err != nil {
				return false, err
			}
			s, err := p.durationToken()
			if err != nil {
				return false, err
			}
			if err := p.expect(")"); err != nil {
				return false, err
			}
			iw.SlidingMs = queryir.Int64Ptr(s)
		}
		w := queryir.Window{Kind: iw}
		if p.s.AcceptKeyword("fill") {
			f, err := p.fill()
			if err != nil {
				return false, err
			}
			w.Fill = f
		}
		st.deferred = append(st.deferred, addWindow(w))
		return true, nil

	case "sliding":
		return false, p.errorf(t.Pos, "SLIDING requires a preceding INTERVAL")

	case "fill":
		p.s.Next()
		f, err := p.fill()
		if err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			l.fill = f
			return nil
		})
		return true, nil

	case "session":
		p.s.Next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		col, err := p.expr()
		if err != nil {
			return false, err
		}
		if err := p.expect(","); err != nil {
			return false, err
		}
		gap, err := p.durationToken()
		if err != nil {
			return false, err
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, addWindow(queryir.Window{Kind: queryir.SessionWindow{GapMs: gap, Column: columnOf(col)}}))
		return true, nil

	case "state_window":
		p.s.Next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		col, err := p.expr()
		if err != nil {
			return false, err
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, addWindow(queryir.Window{Kind: queryir.StateWindow{Column: columnOf(col)}}))
		return true, nil

	case "event_window":
		p.s.Next()
		if !p.s.AcceptKeywords("start", "with") {
			u := p.s.Peek()
			return false, p.errorf(u.Pos, "expected START WITH, found %s", describe(u))
		}
		start, err := p.expr()
		if err != nil {
			return false, err
		}
		if !p.s.AcceptKeywords("end", "with") {
			u := p.s.Peek()
			return false, p.errorf(u.Pos, "expected END WITH, found %s", describe(u))
		}
		end, err := p.expr()
		if err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, func(l *lowering) error {
			sc, ok1 := l.condition(start)
			ec, ok2 := l.condition(end)
			if !ok1 || !ok2 {
				return l.errorf(t.Pos, "EVENT_WINDOW conditions must be column predicates")
			}
			l.plan.AddWindow(queryir.Window{Kind: queryir.EventWindow{Start: sc, End: ec}})
			return nil
		})
		return true, nil

	case "count_window":
		p.s.Next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		n, err := p.integer()
		if err != nil {
			return false, err
		}
		if n <= 0 {
			return false, p.errorf(t.Pos, "COUNT_WINDOW size must be positive")
		}
		cw := queryir.CountWindow{N: n}
		if p.s.Accept(",") {
			s, err := p.integer()
			if err != nil {
				return false, err
			}
			cw.Sliding = queryir.Int64Ptr(s)
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		st.deferred = append(st.deferred, addWindow(queryir.Window{Kind: cw}))
		return true, nil
	}
	return false, nil
}

// tdengineStatement reads CREATE STABLE and CREATE TABLE ... USING ... TAGS.
func tdengineStatement(p *parser) (*queryir.QueryPlan, bool, error) {
	if !p.s.AcceptKeyword("create") {
		return nil, false, nil
	}
	plan := queryir.NewPlan(p.h.dialect, p.text)
	switch {
	case p.s.AcceptKeyword("stable"):
		p.s.AcceptKeywords("if", "not", "exists")
		db, name := splitName(p.dotted())
		plan.AddSource(queryir.DataSource{Name: name, Database: db, Kind: queryir.SourceSuperTable})
		plan.Database = db
		plan.Hints.SetCustom("statement", "CREATE STABLE")
		if p.s.Peek().Is("(") {
			if err := p.skipGroup(); err != nil {
				return nil, false, err
			}
		}
		if p.s.AcceptKeyword("tags") {
			tags, err := p.columnDefinitions()
			if err != nil {
				return nil, false, err
			}
			plan.Hints.SetCustom("tags", strings.Join(tags, ","))
		}
		return plan, true, nil

	case p.s.AcceptKeyword("table"):
		p.s.AcceptKeywords("if", "not", "exists")
		db, name := splitName(p.dotted())
		if !p.s.AcceptKeyword("using") {
			return nil, false, nil
		}
		_, stable := splitName(p.dotted())
		plan.AddSource(queryir.DataSource{Name: name, Database: db, Kind: queryir.SourceSubTable})
		plan.Database = db
		plan.Hints.SetCustom("statement", "CREATE TABLE")
		plan.Hints.SetCustom("using", stable)
		if p.s.AcceptKeyword("tags") {
			if err := p.expect("("); err != nil {
				return nil, false, err
			}
			vals, err := p.exprList(")")
			if err != nil {
				return nil, false, err
			}
			parts := make([]string, len(vals))
			for i, v := range vals {
				parts[i] = render(v)
			}
			plan.Hints.SetCustom("tag_values", strings.Join(parts, ", "))
		}
		return plan, true, nil
	}
	return nil, false, nil
}

// columnDefinitions reads (name TYPE[(n)], ...) and returns the names.
func (p *parser) columnDefinitions() ([]string, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		t := p.s.Next()
		if t.Kind != scan.Ident && t.Kind != scan.QuotedIdent {
			return nil, p.errorf(t.Pos, "expected column name, found %s", describe(t))
		}
		names = append(names, t.Value)
		for depth := 0; ; {
			u := p.s.Peek()
			if u.Kind == scan.EOF {
				return nil, p.errorf(u.Pos, "unclosed column list")
			}
			if depth == 0 && (u.Is(",") || u.Is(")")) {
				break
			}
			switch {
			case u.Is("("):
				depth++
			case u.Is(")"):
				depth--
			}
			p.s.Next()
		}
		if p.s.Accept(")") {
			return names, nil
		}
		p.s.Next()
	}
}

func tdengineAggregate(l *lowering, c callExpr) (queryir.Aggregation, bool, error) {
	if len(c.args) == 0 {
		return queryir.Aggregation{}, false, nil
	}
	col := columnOf(c.args[0])
	switch c.name {
	case "percentile", "apercentile":
		p, err := l.numberArg(c, 1)
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		fn := queryir.Percentile(p)
		if c.name == "apercentile" {
			fn = queryir.Apercentile(p)
		}
		return queryir.Aggregation{Function: fn, Column: col}, true, nil
	case "top", "bottom", "sample":
		k, err := l.numberArg(c, 1)
		if err != nil {
			return queryir.Aggregation{}, false, err
		}
		fn := queryir.TopK(int64(k))
		switch c.name {
		case "bottom":
			fn = queryir.BottomK(int64(k))
		case "sample":
			fn = queryir.Sample(int64(k))
		}
		return queryir.Aggregation{Function: fn, Column: col}, true, nil
	}
	return queryir.Aggregation{}, false, nil
}

func tdengineTransform(l *lowering, c callExpr) (queryir.Transformation, bool) {
	if len(c.args) == 0 {
		return queryir.Transformation{}, false
	}
	flag := func(i int) bool {
		n, ok := 0.0, false
		if i < len(c.args) {
			n, ok = number(c.args[i])
		}
		return ok && n != 0
	}
	switch c.name {
	case "diff":
		return queryir.Transformation{Op: queryir.Difference{NonNegative: flag(1)}}, true
	case "derivative":
		unit := int64(0)
		if len(c.args) > 1 {
			unit, _ = l.durationOf(c.args[1])
		}
		return queryir.Transformation{Op: queryir.Derivative{UnitMs: unit, NonNegative: flag(2)}}, true
	case "csum":
		return queryir.Transformation{Op: queryir.CumulativeSum{}}, true
	case "mavg":
		k, _ := number(argAt(c.args, 1))
		return queryir.Transformation{Op: queryir.MovingAverage{Points: int64(k)}}, true
	case "elapsed":
		unit := int64(0)
		if len(c.args) > 1 {
			unit, _ = l.durationOf(c.args[1])
		}
		return queryir.Transformation{Op: queryir.Elapsed{UnitMs: unit}}, true
	case "statecount", "stateduration", "unique", "tail":
		var args []queryir.Value
		for _, a := range c.args[1:] {
			if v, ok := literal(a); ok {
				args = append(args, v)
			}
		}
		return queryir.Transformation{Op: queryir.CustomTransform{Name: c.name, Args: args}}, true
	}
	return queryir.Transformation{}, false
}

func argAt(args []expr, i int) expr {
	if i < len(args) {
		return args[i]
	}
	return nil
}
