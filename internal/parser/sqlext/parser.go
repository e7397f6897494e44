// Package sqlext parses the SQL dialects of time-series databases into
// query plans.
//
// Every dialect shares one tokenizer, expression parser, clause parser and
// lowering pass. A dialect contributes hooks: extra clauses (SAMPLE BY,
// INTERVAL, WITH TOTALS), time-bucket functions, aggregate names and time
// arithmetic. For TimescaleDB
//
//	SELECT time_bucket('5 minutes', time) AS bucket, avg(temperature)
//	FROM conditions WHERE time > NOW() - INTERVAL '1 hour' GROUP BY bucket
//
// gives source conditions, Relative 3600000, an Interval window of 300000ms
// and avg(temperature).
//
// Generic SQL is read with the MySQL grammar of github.com/xwb1989/sqlparser
// when it accepts the text, and with the shared parser otherwise.
//
// A SELECT without FROM is rejected in every dialect.
package sqlext

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// maxDepth bounds expression and subquery nesting.
const maxDepth = 64

// hooks is one dialect's extension of the shared parser. Nil hooks are
// skipped.
type hooks struct {
	dialect queryir.Dialect
	// durations lexes bare duration literals such as 5m.
	durations bool
	// timeColumns are the designated timestamp columns.
	timeColumns []string
	// keywords start dialect clauses and are never taken as aliases.
	keywords []string
	// clause parses a dialect clause at the current token.
	clause func(p *parser, st *statement) (bool, error)
	// statement parses a non-SELECT statement.
	statement func(p *parser) (*queryir.QueryPlan, bool, error)
	// duration converts a bare duration literal.
	duration func(text string) (int64, bool)
	// bucket recognizes a time-bucketing call and returns its window and
	// time column.
	bucket func(l *lowering, c callExpr) (queryir.Window, string, bool)
	// aggregates maps extra aggregate names.
	aggregates map[string]queryir.AggKind
	// aggregate lowers aggregates that carry parameters.
	aggregate func(l *lowering, c callExpr) (queryir.Aggregation, bool, error)
	// transform lowers dialect row functions to transformations.
	transform func(l *lowering, c callExpr) (queryir.Transformation, bool)
	// timeValue evaluates dialect time expressions.
	timeValue func(l *lowering, e expr) (queryir.Bound, bool)
	// predicate lowers dialect WHERE functions. It returns true when it
	// consumed e.
	predicate func(l *lowering, e expr) (bool, error)
	// direct reads text with a dedicated grammar before the shared parser
	// is tried.
	direct func(h *hooks, text string) (*queryir.QueryPlan, bool)
}

// Parser is a SQL front end for one dialect. It holds no mutable state.
type Parser struct {
	h *hooks
}

// Dialect returns the dialect this parser reads.
func (p *Parser) Dialect() queryir.Dialect { return p.h.dialect }

// Parse converts a SQL statement to a plan.
func (p *Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	return parse(p.h, text)
}

func parse(h *hooks, text string) (plan *queryir.QueryPlan, err error) {
	d := h.dialect
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(d, "internal parser failure: %v", r)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(d, "empty statement")
	}
	if h.direct != nil {
		if plan, ok := h.direct(h, text); ok {
			return plan, nil
		}
	}
	toks, serr := scan.Tokenize(text, scan.Config{
		SQL:          true,
		Durations:    h.durations,
		IdentExtra:   "",
		LineComments: []string{"--"},
	})
	if serr != nil {
		if se, ok := serr.(*scan.Error); ok {
			return nil, queryir.ParseErrorAt(d, text, se.Pos, "%s", se.Msg)
		}
		return nil, queryir.NewParseError(d, "%v", serr)
	}
	p := &parser{h: h, text: text, s: scan.NewStream(toks)}
	return p.top()
}

type parser struct {
	h     *hooks
	text  string
	s     *scan.Stream
	depth int
}

func (p *parser) errorf(at int, format string, args ...any) *queryir.ParseError {
	return queryir.ParseErrorAt(p.h.dialect, p.text, at, format, args...)
}

func describe(t scan.Token) string {
	if t.Kind == scan.EOF {
		return "end of input"
	}
	return strconv.Quote(t.Text)
}

func (p *parser) expect(op string) error {
	t := p.s.Next()
	if !t.Is(op) {
		return p.errorf(t.Pos, "expected %q, found %s", op, describe(t))
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	t := p.s.Next()
	if !t.IsKeyword(kw) {
		return p.errorf(t.Pos, "expected %s, found %s", strings.ToUpper(kw), describe(t))
	}
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(p.s.Peek().Pos, "nesting exceeds maximum depth %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// top parses one statement with an optional trailing semicolon.
func (p *parser) top() (*queryir.QueryPlan, error) {
	first := p.s.Peek()
	explain := false
	if first.IsKeyword("explain") {
		p.s.Next()
		p.s.AcceptKeyword("analyze")
		explain = true
		first = p.s.Peek()
	}
	if !first.IsKeyword("select") && !first.IsKeyword("with") {
		if p.h.statement != nil {
			mark := p.s.Mark()
			plan, ok, err := p.h.statement(p)
			if err != nil {
				return nil, err
			}
			if ok {
				return plan, nil
			}
			p.s.Reset(mark)
		}
		return p.otherStatement()
	}

	st, err := p.selectStatement()
	if err != nil {
		return nil, err
	}
	p.s.Accept(";")
	if t := p.s.Peek(); t.Kind != scan.EOF {
		return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
	}
	plan, err := lowerStatement(p.h, p.text, st)
	if err != nil {
		return nil, err
	}
	if explain {
		plan.Hints.SetCustom("explain", "true")
	}
	return plan, nil
}

var statementKeywords = map[string]bool{
	"show": true, "describe": true, "desc": true, "create": true, "drop": true,
	"alter": true, "insert": true, "delete": true, "update": true, "use": true,
	"truncate": true, "grant": true, "revoke": true, "copy": true, "optimize": true,
}

// otherStatement keeps a recognized non-SELECT statement as hints and
// names its target table as the source when it can.
func (p *parser) otherStatement() (*queryir.QueryPlan, error) {
	first := p.s.Next()
	kw := strings.ToLower(first.Text)
	if first.Kind != scan.Ident || !statementKeywords[kw] {
		return nil, p.errorf(first.Pos, "expected SELECT, found %s", describe(first))
	}
	plan := queryir.NewPlan(p.h.dialect, p.text)
	verb := []string{strings.ToUpper(kw)}
	for t := p.s.Peek(); t.Kind == scan.Ident && isStatementNoise(t.Text); t = p.s.Peek() {
		verb = append(verb, strings.ToUpper(p.s.Next().Text))
	}
	plan.Hints.SetCustom("statement", strings.Join(verb, " "))
	if t := p.s.Peek(); t.Kind == scan.Ident || t.Kind == scan.QuotedIdent {
		parts := p.dotted()
		db, name := splitName(parts)
		plan.AddSource(queryir.DataSource{Name: name, Database: db})
		plan.Database = db
	}
	return plan, nil
}

func isStatementNoise(word string) bool {
	switch strings.ToLower(word) {
	case "table", "tables", "into", "from", "database", "databases", "stable",
		"stables", "view", "materialized", "if", "not", "exists", "or", "replace",
		"temporary", "index", "columns", "create", "full":
		return true
	}
	return false
}

// dotted reads name{.name} with plain or quoted parts.
func (p *parser) dotted() []string {
	var parts []string
	for {
		t := p.s.Next()
		parts = append(parts, t.Value)
		if !p.s.Peek().Is(".") {
			return parts
		}
		if k := p.s.PeekN(1).Kind; k != scan.Ident && k != scan.QuotedIdent {
			return parts
		}
		p.s.Next()
	}
}

func splitName(parts []string) (db, name string) {
	name = parts[len(parts)-1]
	if len(parts) > 1 {
		db = parts[0]
	}
	return db, name
}

var reserved = map[string]bool{
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
}

func (p *parser) isReserved(t scan.Token) bool {
	if t.Kind != scan.Ident {
		return false
	}
	w := strings.ToLower(t.Text)
	if reserved[w] {
		return true
	}
	for _, kw := range p.h.keywords {
		if w == kw {
			return true
		}
	}
	return false
}

func (p *parser) selectStatement() (*statement, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	st := &statement{}
	if p.s.AcceptKeyword("with") {
		for {
			name := p.s.Next()
			if name.Kind != scan.Ident && name.Kind != scan.QuotedIdent {
				return nil, p.errorf(name.Pos, "expected common table name, found %s", describe(name))
			}
			if err := p.expectKeyword("as"); err != nil {
				return nil, err
			}
			if err := p.expect("("); err != nil {
				return nil, err
			}
			if _, err := p.selectStatement(); err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			st.ctes = append(st.ctes, name.Value)
			if !p.s.Accept(",") {
				break
			}
		}
	}
	if err := p.expectKeyword("select"); err != nil {
		return nil, err
	}
	if p.s.AcceptKeyword("distinct") {
		st.distinct = true
	}
	p.s.AcceptKeyword("all")
	for {
		item, err := p.selectItem()
		if err != nil {
			return nil, err
		}
		st.items = append(st.items, item)
		if !p.s.Accept(",") {
			break
		}
	}

	if !p.s.AcceptKeyword("from") {
		t := p.s.Peek()
		return nil, p.errorf(t.Pos, "SELECT requires a FROM clause")
	}
	if err := p.fromClause(st); err != nil {
		return nil, err
	}
	if err := p.clauses(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) selectItem() (selectItem, error) {
	x, err := p.expr()
	if err != nil {
		return selectItem{}, err
	}
	item := selectItem{x: x}
	if p.s.AcceptKeyword("as") {
		t := p.s.Next()
		if t.Kind != scan.Ident && t.Kind != scan.QuotedIdent && t.Kind != scan.String {
			return selectItem{}, p.errorf(t.Pos, "expected alias, found %s", describe(t))
		}
		item.alias = t.Value
	} else if t := p.s.Peek(); (t.Kind == scan.Ident && !p.isReserved(t)) || t.Kind == scan.QuotedIdent {
		item.alias = p.s.Next().Value
	}
	return item, nil
}

func (p *parser) fromClause(st *statement) error {
	join := ""
	for {
		ref, err := p.tableRef()
		if err != nil {
			return err
		}
		ref.join = join
		if join != "" {
			if p.s.AcceptKeyword("on") {
				on, err := p.expr()
				if err != nil {
					return err
				}
				ref.on = on
			} else if p.s.AcceptKeyword("using") {
				if _, err := p.identList(); err != nil {
					return err
				}
			}
		}
		st.from = append(st.from, ref)

		// ClickHouse table modifiers.
		if p.s.AcceptKeyword("final") {
			st.hint("final", "true")
		}
		if p.s.Peek().IsKeyword("sample") && !p.s.PeekN(1).IsKeyword("by") {
			p.s.Next()
			x, err := p.expr()
			if err != nil {
				return err
			}
			st.hint("sample", render(x))
		}

		if p.s.Accept(",") {
			join = "CROSS JOIN"
			continue
		}
		kind, ok := p.joinKind()
		if !ok {
			return nil
		}
		join = kind
	}
}

// joinKind consumes a join introducer such as LEFT OUTER JOIN or ASOF JOIN.
func (p *parser) joinKind() (string, bool) {
	mark := p.s.Mark()
	var words []string
	for i := 0; i < 3; i++ {
		t := p.s.Peek()
		if t.Kind != scan.Ident {
			break
		}
		w := strings.ToUpper(t.Text)
		switch w {
		case "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "ASOF", "LT", "SPLICE", "NATURAL", "ANY", "ALL", "GLOBAL", "ANTI", "SEMI":
			words = append(words, w)
			p.s.Next()
			continue
		}
		break
	}
	if !p.s.AcceptKeyword("join") {
		p.s.Reset(mark)
		return "", false
	}
	return strings.Join(append(words, "JOIN"), " "), true
}

func (p *parser) tableRef() (tableRef, error) {
	t := p.s.Peek()
	ref := tableRef{at: t.Pos}
	switch {
	case t.Is("("):
		p.s.Next()
		if p.s.Peek().IsKeyword("select") || p.s.Peek().IsKeyword("with") {
			sub, err := p.selectStatement()
			if err != nil {
				return ref, err
			}
			ref.sub = sub
		} else {
			inner, err := p.tableRef()
			if err != nil {
				return ref, err
			}
			ref = inner
		}
		if err := p.expect(")"); err != nil {
			return ref, err
		}
	case t.Kind == scan.Ident && !p.isReserved(t), t.Kind == scan.QuotedIdent, t.Kind == scan.String:
		ref.parts = p.dotted()
		if p.s.Peek().Is("(") {
			// Table function: numbers(10), s3(...).
			p.s.Next()
			if _, err := p.exprList(")"); err != nil {
				return ref, err
			}
		}
	default:
		return ref, p.errorf(t.Pos, "expected table name, found %s", describe(t))
	}
	if p.s.AcceptKeyword("as") {
		a := p.s.Next()
		if a.Kind != scan.Ident && a.Kind != scan.QuotedIdent {
			return ref, p.errorf(a.Pos, "expected alias, found %s", describe(a))
		}
		ref.alias = a.Value
	} else if a := p.s.Peek(); (a.Kind == scan.Ident && !p.isReserved(a) && !p.startsJoin()) || a.Kind == scan.QuotedIdent {
		ref.alias = p.s.Next().Value
	}
	return ref, nil
}

func (p *parser) startsJoin() bool {
	mark := p.s.Mark()
	_, ok := p.joinKind()
	p.s.Reset(mark)
	return ok
}

func (p *parser) identList() ([]string, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		t := p.s.Next()
		if t.Kind != scan.Ident && t.Kind != scan.QuotedIdent {
			return nil, p.errorf(t.Pos, "expected column name, found %s", describe(t))
		}
		out = append(out, t.Value)
		if p.s.Accept(")") {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// clauses parses everything after FROM in any order.
func (p *parser) clauses(st *statement) error {
	for {
		t := p.s.Peek()
		if t.Kind == scan.EOF || t.Is(")") || t.Is(";") {
			return nil
		}
		if p.h.clause != nil {
			ok, err := p.h.clause(p, st)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
		}
		var err error
		switch {
		case p.s.AcceptKeyword("where"):
			st.where, err = p.expr()
		case p.s.AcceptKeyword("prewhere"):
			st.prewhere, err = p.expr()
		case p.s.AcceptKeywords("group", "by"):
			err = p.groupBy(st)
		case p.s.AcceptKeyword("having"):
			st.having, err = p.expr()
		case p.s.AcceptKeywords("order", "by"):
			err = p.orderBy(st)
		case p.s.AcceptKeywords("partition", "by"):
			st.partition, err = p.exprSequence()
		case p.s.AcceptKeyword("limit"):
			err = p.limit(st)
		case p.s.AcceptKeyword("offset"):
			var n int64
			n, err = p.integer()
			st.offset = &n
			p.s.AcceptKeyword("rows")
		case p.s.AcceptKeyword("union"):
			p.s.AcceptKeyword("all")
			var sub *statement
			sub, err = p.selectStatement()
			if err == nil && len(sub.from) > 0 {
				st.hint("union", strings.Join(sub.from[0].parts, "."))
			}
		default:
			return p.errorf(t.Pos, "unexpected %s", describe(t))
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) groupBy(st *statement) error {
	list, err := p.exprSequence()
	if err != nil {
		return err
	}
	st.groupBy = append(st.groupBy, list...)
	switch {
	case p.s.Peek().IsKeyword("with") && p.s.PeekN(1).IsKeyword("totals"):
		p.s.Next()
		p.s.Next()
		st.hint("with_totals", "true")
	case p.s.Peek().IsKeyword("with") && p.s.PeekN(1).IsKeyword("rollup"):
		p.s.Next()
		p.s.Next()
		st.hint("rollup", "true")
	}
	return nil
}

func (p *parser) orderBy(st *statement) error {
	for {
		x, err := p.expr()
		if err != nil {
			return err
		}
		item := orderItem{x: x}
		switch {
		case p.s.AcceptKeyword("desc"):
			item.desc = true
		case p.s.AcceptKeyword("asc"):
		}
		if p.s.AcceptKeyword("nulls") {
			first := p.s.AcceptKeyword("first")
			if !first && !p.s.AcceptKeyword("last") {
				t := p.s.Peek()
				return p.errorf(t.Pos, "expected FIRST or LAST, found %s", describe(t))
			}
			item.nullsFirst = queryir.BoolPtr(first)
		}
		st.orderBy = append(st.orderBy, item)
		if !p.s.Accept(",") {
			return nil
		}
	}
}

// limit parses LIMIT n, LIMIT off, n, LIMIT n OFFSET m and ClickHouse's
// LIMIT n BY cols.
func (p *parser) limit(st *statement) error {
	n, err := p.integer()
	if err != nil {
		return err
	}
	if p.s.Accept(",") {
		m, err := p.integer()
		if err != nil {
			return err
		}
		st.offset, st.limit = &n, &m
		return nil
	}
	if p.s.AcceptKeyword("by") {
		cols, err := p.exprSequence()
		if err != nil {
			return err
		}
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = render(c)
		}
		st.hint("limit_by", strconv.FormatInt(n, 10)+" BY "+strings.Join(parts, ", "))
		return nil
	}
	st.limit = &n
	return nil
}

func (p *parser) integer() (int64, error) {
	neg := p.s.Accept("-")
	t := p.s.Next()
	if t.Kind != scan.Number {
		return 0, p.errorf(t.Pos, "expected integer, found %s", describe(t))
	}
	n, err := strconv.ParseInt(t.Text, 10, 64)
	if err != nil {
		return 0, p.errorf(t.Pos, "invalid integer %q", t.Text)
	}
	if neg {
		n = -n
	}
	return n, nil
}

// exprSequence parses a comma-separated list with no brackets.
func (p *parser) exprSequence() ([]expr, error) {
	var out []expr
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
		if !p.s.Accept(",") {
			return out, nil
		}
	}
}

// exprList parses expressions up to and including close.
func (p *parser) exprList(close string) ([]expr, error) {
	var out []expr
	if p.s.Accept(close) {
		return out, nil
	}
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
		if p.s.Accept(close) {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// durationToken reads a window length: a bare duration, a number of
// seconds or an interval string.
func (p *parser) durationToken() (int64, error) {
	t := p.s.Next()
	switch t.Kind {
	case scan.Duration:
		if ms, ok := p.durationLiteral(t.Text); ok {
			return ms, nil
		}
	case scan.String:
		if ms, err := timeexpr.ParseDuration(t.Value); err == nil {
			return ms, nil
		}
	case scan.Number:
		if f, err := strconv.ParseFloat(t.Text, 64); err == nil {
			return int64(f * 1000), nil
		}
	}
	return 0, p.errorf(t.Pos, "expected duration, found %s", describe(t))
}

func (p *parser) durationLiteral(text string) (int64, bool) {
	if p.h.duration != nil {
		if ms, ok := p.h.duration(text); ok {
			return ms, true
		}
	}
	ms, err := timeexpr.ParseDuration(text)
	return ms, err == nil
}

// fill parses the parenthesized argument list of FILL(...).
func (p *parser) fill() (*queryir.Fill, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	t := p.s.Next()
	var f *queryir.Fill
	switch strings.ToLower(t.Text) {
	case "null", "null_f":
		f = queryir.NewFill(queryir.FillNull)
	case "none":
		f = queryir.NewFill(queryir.FillNone)
	case "prev", "previous":
		f = queryir.NewFill(queryir.FillPrevious)
	case "next":
		f = queryir.NewFill(queryir.FillNext)
	case "linear":
		f = queryir.NewFill(queryir.FillLinear)
	case "value", "value_f":
		if err := p.expect(","); err != nil {
			return nil, err
		}
		v := p.s.Next()
		text := v.Text
		if v.Is("-") {
			text += p.s.Next().Text
		}
		val, ok := queryir.ParseNumber(text)
		if !ok {
			return nil, p.errorf(v.Pos, "expected fill value, found %s", describe(v))
		}
		f = &queryir.Fill{Mode: queryir.FillValue, Value: val}
	default:
		if t.Kind == scan.Number || t.Is("-") {
			text := t.Text
			if t.Is("-") {
				text += p.s.Next().Text
			}
			val, ok := queryir.ParseNumber(text)
			if !ok {
				return nil, p.errorf(t.Pos, "invalid fill value %q", text)
			}
			f = &queryir.Fill{Mode: queryir.FillValue, Value: val}
			break
		}
		return nil, p.errorf(t.Pos, "unknown fill mode %s", describe(t))
	}
	// QuestDB allows one fill per aggregate; the first one wins.
	for p.s.Accept(",") {
		p.s.Next()
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return f, nil
}
