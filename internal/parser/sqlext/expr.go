package sqlext

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/timeexpr"
)

func (p *parser) expr() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.or()
}

func (p *parser) or() (expr, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.s.Peek().IsKeyword("or") {
		t := p.s.Next()
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = binExpr{at: t.Pos, op: "OR", l: l, r: r}
	}
	return l, nil
}

func (p *parser) and() (expr, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.s.Peek().IsKeyword("and") {
		t := p.s.Next()
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = binExpr{at: t.Pos, op: "AND", l: l, r: r}
	}
	return l, nil
}

func (p *parser) not() (expr, error) {
	if t := p.s.Peek(); t.IsKeyword("not") {
		p.s.Next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return unaryExpr{at: t.Pos, op: "NOT", x: x}, nil
	}
	return p.predicate()
}

var comparisons = []string{"=", "==", "!=", "<>", "<=", ">=", "<", ">", "~", "!~", "~*", "!~*"}

func (p *parser) predicate() (expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	t := p.s.Peek()
	for _, op := range comparisons {
		if t.Is(op) {
			p.s.Next()
			// ~* and !~* lex as two operators.
			if (op == "~" || op == "!~") && p.s.Peek().Is("*") && p.s.Peek().Pos == t.End {
				p.s.Next()
				op += "*"
			}
			r, err := p.additive()
			if err != nil {
				return nil, err
			}
			switch op {
			case "==":
				op = "="
			case "<>":
				op = "!="
			}
			return binExpr{at: t.Pos, op: op, l: l, r: r}, nil
		}
	}

	if t.IsKeyword("is") {
		p.s.Next()
		not := p.s.AcceptKeyword("not")
		if !p.s.AcceptKeyword("null") {
			n := p.s.Peek()
			return nil, p.errorf(n.Pos, "expected NULL, found %s", describe(n))
		}
		return isNullExpr{at: t.Pos, x: l, not: not}, nil
	}

	not := false
	if t.IsKeyword("not") {
		next := p.s.PeekN(1)
		if next.IsKeyword("in") || next.IsKeyword("between") || next.IsKeyword("like") ||
			next.IsKeyword("ilike") || next.IsKeyword("regexp") || next.IsKeyword("rlike") {
			p.s.Next()
			not = true
			t = p.s.Peek()
		}
	}
	switch {
	case t.IsKeyword("in"):
		p.s.Next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		in := inExpr{at: t.Pos, x: l, not: not}
		if p.s.Peek().IsKeyword("select") || p.s.Peek().IsKeyword("with") {
			sub, err := p.selectStatement()
			if err != nil {
				return nil, err
			}
			in.sub = sub
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return in, nil
		}
		list, err := p.exprList(")")
		if err != nil {
			return nil, err
		}
		in.list = list
		return in, nil
	case t.IsKeyword("between"):
		p.s.Next()
		lo, err := p.additive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("and"); err != nil {
			return nil, err
		}
		hi, err := p.additive()
		if err != nil {
			return nil, err
		}
		return betweenExpr{at: t.Pos, x: l, lo: lo, hi: hi, not: not}, nil
	case t.IsKeyword("like") || t.IsKeyword("ilike") || t.IsKeyword("regexp") || t.IsKeyword("rlike"):
		p.s.Next()
		r, err := p.additive()
		if err != nil {
			return nil, err
		}
		op := strings.ToUpper(t.Text)
		if op == "RLIKE" {
			op = "REGEXP"
		}
		if not {
			op = "NOT " + op
		}
		return binExpr{at: t.Pos, op: op, l: l, r: r}, nil
	}
	if not {
		return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
	}
	// TDengine: ts MATCH '^a' and ts NMATCH '^a'.
	if (t.IsKeyword("match") || t.IsKeyword("nmatch")) && p.s.PeekN(1).Kind == scan.String {
		p.s.Next()
		pat := p.s.Next()
		op := "REGEXP"
		if t.IsKeyword("nmatch") {
			op = "NOT REGEXP"
		}
		return binExpr{at: t.Pos, op: op, l: l, r: strExpr{at: pat.Pos, val: pat.Value}}, nil
	}
	return l, nil
}

func (p *parser) additive() (expr, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.s.Peek()
		if !t.Is("+") && !t.Is("-") && !t.Is("||") {
			return l, nil
		}
		p.s.Next()
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = binExpr{at: t.Pos, op: t.Text, l: l, r: r}
	}
}

func (p *parser) multiplicative() (expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.s.Peek()
		if !t.Is("*") && !t.Is("/") && !t.Is("%") {
			return l, nil
		}
		p.s.Next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binExpr{at: t.Pos, op: t.Text, l: l, r: r}
	}
}

func (p *parser) unary() (expr, error) {
	t := p.s.Peek()
	if t.Is("-") || t.Is("+") {
		p.s.Next()
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.Is("+") {
			return x, nil
		}
		switch n := x.(type) {
		case numExpr:
			return numExpr{at: t.Pos, text: "-" + n.text}, nil
		case durExpr:
			return durExpr{at: t.Pos, text: "-" + n.text, ms: -n.ms}, nil
		}
		return unaryExpr{at: t.Pos, op: "-", x: x}, nil
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.s.Accept("::") {
		typ := p.s.Next()
		if typ.Kind != scan.Ident {
			return nil, p.errorf(typ.Pos, "expected type name, found %s", describe(typ))
		}
		x = castExpr{at: x.pos(), x: x, typ: strings.ToLower(typ.Text)}
	}
	return x, nil
}

func (p *parser) primary() (expr, error) {
	t := p.s.Peek()
	switch t.Kind {
	case scan.Number:
		p.s.Next()
		return numExpr{at: t.Pos, text: t.Text}, nil
	case scan.Duration:
		p.s.Next()
		ms, ok := p.durationLiteral(t.Text)
		if !ok {
			return nil, p.errorf(t.Pos, "invalid duration %q", t.Text)
		}
		return durExpr{at: t.Pos, text: t.Text, ms: ms}, nil
	case scan.String:
		p.s.Next()
		return strExpr{at: t.Pos, val: t.Value}, nil
	case scan.QuotedIdent:
		return p.name()
	case scan.Ident:
		return p.identifier()
	case scan.Op:
		switch {
		case t.Is("*"):
			p.s.Next()
			return starExpr{at: t.Pos}, nil
		case t.Is("("):
			p.s.Next()
			if p.s.Peek().IsKeyword("select") || p.s.Peek().IsKeyword("with") {
				sub, err := p.selectStatement()
				if err != nil {
					return nil, err
				}
				if err := p.expect(")"); err != nil {
					return nil, err
				}
				return subqueryExpr{at: t.Pos, stmt: sub}, nil
			}
			items, err := p.exprList(")")
			if err != nil {
				return nil, err
			}
			switch len(items) {
			case 0:
				return nil, p.errorf(t.Pos, "empty parentheses")
			case 1:
				return items[0], nil
			}
			return listExpr{at: t.Pos, items: items}, nil
		}
	}
	return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
}

func (p *parser) identifier() (expr, error) {
	t := p.s.Peek()
	switch word := strings.ToLower(t.Text); word {
	case "null", "true", "false":
		p.s.Next()
		return keywordExpr{at: t.Pos, word: strings.ToUpper(word)}, nil
	case "interval":
		if k := p.s.PeekN(1).Kind; k == scan.String || k == scan.Number || k == scan.Duration {
			p.s.Next()
			return p.interval(t.Pos)
		}
	case "case":
		return p.caseExpr()
	case "cast":
		if p.s.PeekN(1).Is("(") {
			return p.cast()
		}
	case "timestamp", "date", "time", "datetime":
		if p.s.PeekN(1).Kind == scan.String {
			p.s.Next()
			s := p.s.Next()
			return strExpr{at: t.Pos, val: s.Value}, nil
		}
	case "exists":
		p.s.Next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		sub, err := p.selectStatement()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return subqueryExpr{at: t.Pos, stmt: sub}, nil
	}
	if p.isReserved(t) {
		return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
	}
	return p.name()
}

// name reads a dotted name and, when followed by "(", a call.
func (p *parser) name() (expr, error) {
	t := p.s.Peek()
	parts := p.dotted()
	if p.s.Peek().Is(".") && p.s.PeekN(1).Is("*") {
		p.s.Next()
		p.s.Next()
		return starExpr{at: t.Pos, table: strings.Join(parts, ".")}, nil
	}
	if !p.s.Peek().Is("(") || t.Kind == scan.QuotedIdent {
		return identExpr{at: t.Pos, parts: parts}, nil
	}
	return p.call(t.Pos, strings.ToLower(strings.Join(parts, ".")))
}

func (p *parser) call(at int, name string) (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	c := callExpr{at: at, name: name}
	args, err := p.callArgs(&c)
	if err != nil {
		return nil, err
	}
	c.args = args
	// Parametric aggregate: quantile(0.9)(x).
	if p.s.Peek().Is("(") {
		c.params = c.args
		if c.args, err = p.callArgs(&c); err != nil {
			return nil, err
		}
	}
	if p.s.AcceptKeywords("within", "group") {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		if !p.s.AcceptKeywords("order", "by") {
			n := p.s.Peek()
			return nil, p.errorf(n.Pos, "expected ORDER BY, found %s", describe(n))
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		p.s.AcceptKeyword("asc")
		p.s.AcceptKeyword("desc")
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		c.within = x
	}
	if p.s.AcceptKeyword("filter") {
		if err := p.skipGroup(); err != nil {
			return nil, err
		}
	}
	if p.s.AcceptKeyword("over") {
		if p.s.Peek().Is("(") {
			if err := p.skipGroup(); err != nil {
				return nil, err
			}
		} else {
			p.s.Next()
		}
		c.over = true
	}
	return c, nil
}

func (p *parser) callArgs(c *callExpr) ([]expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	if p.s.AcceptKeyword("distinct") {
		c.distinct = true
	}
	var args []expr
	if p.s.Accept(")") {
		return args, nil
	}
	if c.name == "extract" {
		unit := p.s.Next()
		if err := p.expectKeyword("from"); err != nil {
			return nil, err
		}
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return []expr{identExpr{at: unit.Pos, parts: []string{unit.Value}}, x}, nil
	}
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, x)
		if p.s.AcceptKeyword("to") {
			unit := p.s.Next()
			c.toUnit = strings.ToLower(unit.Text)
		}
		if p.s.Accept(")") {
			return args, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// skipGroup consumes a balanced parenthesized group.
func (p *parser) skipGroup() error {
	open := p.s.Peek()
	if err := p.expect("("); err != nil {
		return err
	}
	depth := 1
	for depth > 0 {
		t := p.s.Next()
		switch {
		case t.Kind == scan.EOF:
			return p.errorf(open.Pos, "unclosed parenthesis")
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
		}
	}
	return nil
}

func (p *parser) cast() (expr, error) {
	at := p.s.Next().Pos
	if err := p.expect("("); err != nil {
		return nil, err
	}
	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("as"); err != nil {
		return nil, err
	}
	typ := p.s.Next()
	if typ.Kind != scan.Ident {
		return nil, p.errorf(typ.Pos, "expected type name, found %s", describe(typ))
	}
	// VARCHAR(10), Decimal(9, 2)
	if p.s.Peek().Is("(") {
		if err := p.skipGroup(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return castExpr{at: at, x: x, typ: strings.ToLower(typ.Text)}, nil
}

// caseExpr keeps CASE ... END as raw text.
func (p *parser) caseExpr() (expr, error) {
	start := p.s.Next()
	depth := 1
	end := start.End
	for depth > 0 {
		t := p.s.Next()
		switch {
		case t.Kind == scan.EOF:
			return nil, p.errorf(start.Pos, "CASE without END")
		case t.IsKeyword("case"):
			depth++
		case t.IsKeyword("end"):
			depth--
		}
		end = t.End
	}
	return rawExpr{at: start.Pos, text: p.text[start.Pos:end]}, nil
}

// interval parses the forms after INTERVAL: '1 hour', '1' HOUR, 1 HOUR,
// '01:00:00' and 5m.
func (p *parser) interval(at int) (expr, error) {
	t := p.s.Next()
	var magnitude string
	switch t.Kind {
	case scan.String:
		magnitude = t.Value
	case scan.Number:
		magnitude = t.Text
	case scan.Duration:
		if ms, ok := p.durationLiteral(t.Text); ok {
			return intervalExpr{at: at, ms: ms}, nil
		}
		return nil, p.errorf(t.Pos, "invalid interval %q", t.Text)
	default:
		return nil, p.errorf(t.Pos, "expected interval, found %s", describe(t))
	}
	if u := p.s.Peek(); u.Kind == scan.Ident {
		if _, ok := timeexpr.UnitMs(u.Text); ok {
			p.s.Next()
			ms, err := timeexpr.ParseDuration(strings.TrimSpace(magnitude) + " " + strings.ToLower(u.Text))
			if err != nil {
				return nil, p.errorf(t.Pos, "invalid interval %q", magnitude)
			}
			return intervalExpr{at: at, ms: ms}, nil
		}
	}
	ms, err := timeexpr.ParseDuration(magnitude)
	if err != nil {
		if clock, ok := clockInterval(magnitude); ok {
			return intervalExpr{at: at, ms: clock}, nil
		}
		return nil, p.errorf(t.Pos, "invalid interval %q", magnitude)
	}
	return intervalExpr{at: at, ms: ms}, nil
}

// clockInterval parses hh:mm:ss.
func clockInterval(s string) (int64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	var ms int64
	for i, unit := range []int64{timeexpr.Hour, timeexpr.Minute, timeexpr.Second} {
		n, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return 0, false
		}
		ms += n * unit
	}
	return ms, true
}
