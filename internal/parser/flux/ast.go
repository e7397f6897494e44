package flux

import (
	"strconv"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// expr is a Flux expression node. The grammar covered is the subset that
// appears in query pipelines: literals, identifiers and member access,
// arrays, records, calls, function literals and boolean predicates.
type expr interface{ pos() int }

type (
	strLit struct {
		at  int
		val string
	}
	numLit struct {
		at  int
		val float64
	}
	durLit struct {
		at int
		ms int64
	}
	regexLit struct {
		at      int
		pattern string
	}
	timeLit struct {
		at   int
		text string
	}
	ident struct {
		at   int
		name string
	}
	member struct {
		at     int
		object string
		field  string
	}
	array struct {
		at    int
		elems []expr
	}
	record struct {
		at     int
		base   string
		fields map[string]expr
	}
	callExpr struct {
		at   int
		name string
		args map[string]expr
	}
	fnLit struct {
		at     int
		params []string
		body   expr
	}
	binary struct {
		at   int
		op   string
		l, r expr
	}
	unary struct {
		at int
		op string
		x  expr
	}
)

func (e strLit) pos() int   { return e.at }
func (e numLit) pos() int   { return e.at }
func (e durLit) pos() int   { return e.at }
func (e regexLit) pos() int { return e.at }
func (e timeLit) pos() int  { return e.at }
func (e ident) pos() int    { return e.at }
func (e member) pos() int   { return e.at }
func (e array) pos() int    { return e.at }
func (e record) pos() int   { return e.at }
func (e callExpr) pos() int { return e.at }
func (e fnLit) pos() int    { return e.at }
func (e binary) pos() int   { return e.at }
func (e unary) pos() int    { return e.at }

// maxDepth bounds expression nesting.
const maxDepth = 64

type parser struct {
	text  string
	s     *scan.Stream
	depth int
}

func (p *parser) errorf(at int, format string, args ...any) *queryir.ParseError {
	return queryir.ParseErrorAt(queryir.Flux, p.text, at, format, args...)
}

func (p *parser) expect(op string) (scan.Token, error) {
	t := p.s.Next()
	if !t.Is(op) {
		return t, p.errorf(t.Pos, "expected %q, found %s", op, describe(t))
	}
	return t, nil
}

func describe(t scan.Token) string {
	if t.Kind == scan.EOF {
		return "end of input"
	}
	return strconv.Quote(t.Text)
}

// pipeline parses call ("|>" call)*.
func (p *parser) pipeline() ([]callExpr, error) {
	var calls []callExpr
	for {
		c, err := p.call()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
		if !p.s.Accept("|>") {
			return calls, nil
		}
	}
}

// call parses name(args) where name may be package-qualified.
func (p *parser) call() (callExpr, error) {
	t := p.s.Next()
	if t.Kind != scan.Ident {
		return callExpr{}, p.errorf(t.Pos, "expected function call, found %s", describe(t))
	}
	if _, err := p.expect("("); err != nil {
		return callExpr{}, err
	}
	args, err := p.arguments()
	if err != nil {
		return callExpr{}, err
	}
	return callExpr{at: t.Pos, name: t.Text, args: args}, nil
}

// arguments parses `name: expr, ...` up to and including the closing paren.
func (p *parser) arguments() (map[string]expr, error) {
	args := map[string]expr{}
	if p.s.Accept(")") {
		return args, nil
	}
	for {
		name := p.s.Next()
		if name.Kind != scan.Ident {
			return nil, p.errorf(name.Pos, "expected argument name, found %s", describe(name))
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		args[name.Text] = v
		if p.s.Accept(")") {
			return args, nil
		}
		if _, err := p.expect(","); err != nil {
			return nil, err
		}
		if p.s.Accept(")") {
			return args, nil
		}
	}
}

func (p *parser) enter(at int) error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf(at, "expression nesting exceeds maximum depth %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expr() (expr, error) {
	if err := p.enter(p.s.Peek().Pos); err != nil {
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
		l = binary{at: t.Pos, op: "or", l: l, r: r}
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
		l = binary{at: t.Pos, op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) not() (expr, error) {
	if p.s.Peek().IsKeyword("not") {
		t := p.s.Next()
		if err := p.enter(t.Pos); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return unary{at: t.Pos, op: "not", x: x}, nil
	}
	if p.s.Peek().IsKeyword("exists") && p.s.PeekN(1).Kind == scan.Ident {
		t := p.s.Next()
		x, err := p.primary()
		if err != nil {
			return nil, err
		}
		return callExpr{at: t.Pos, name: "exists", args: map[string]expr{"v": x}}, nil
	}
	return p.comparison()
}

var comparisonOps = []string{"==", "!=", "<=", ">=", "<", ">", "=~", "!~"}

func (p *parser) comparison() (expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	for _, op := range comparisonOps {
		if p.s.Peek().Is(op) {
			t := p.s.Next()
			r, err := p.additive()
			if err != nil {
				return nil, err
			}
			return binary{at: t.Pos, op: op, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *parser) additive() (expr, error) {
	l, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for p.s.Peek().Is("+") || p.s.Peek().Is("-") {
		t := p.s.Next()
		r, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		l = binary{at: t.Pos, op: t.Text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) multiplicative() (expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.s.Peek().Is("*") || p.s.Peek().Is("/") || p.s.Peek().Is("%") {
		t := p.s.Next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binary{at: t.Pos, op: t.Text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) unary() (expr, error) {
	if p.s.Peek().Is("-") {
		t := p.s.Next()
		if err := p.enter(t.Pos); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		switch v := x.(type) {
		case durLit:
			return durLit{at: t.Pos, ms: -v.ms}, nil
		case numLit:
			return numLit{at: t.Pos, val: -v.val}, nil
		}
		return unary{at: t.Pos, op: "-", x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (expr, error) {
	t := p.s.Next()
	switch t.Kind {
	case scan.String:
		return strLit{at: t.Pos, val: t.Value}, nil
	case scan.Number:
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, p.errorf(t.Pos, "invalid number %q", t.Text)
		}
		return numLit{at: t.Pos, val: f}, nil
	case scan.Duration:
		ms, err := timeexpr.ParseDuration(t.Text)
		if err != nil {
			return nil, p.errorf(t.Pos, "invalid duration %q", t.Text)
		}
		return durLit{at: t.Pos, ms: ms}, nil
	case scan.Regex:
		return regexLit{at: t.Pos, pattern: t.Value}, nil
	case scan.DateTime:
		return timeLit{at: t.Pos, text: t.Text}, nil
	case scan.Ident:
		return p.identifier(t)
	case scan.Op:
		switch {
		case t.Is("("):
			return p.parenOrFunction(t)
		case t.Is("["):
			return p.arrayLit(t)
		case t.Is("{"):
			return p.recordLit(t)
		}
	}
	return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
}

func (p *parser) identifier(t scan.Token) (expr, error) {
	name := t.Text
	switch {
	case p.s.Peek().Is("("):
		p.s.Next()
		args, err := p.arguments()
		if err != nil {
			return nil, err
		}
		return callExpr{at: t.Pos, name: name, args: args}, nil
	case p.s.Peek().Is("["):
		// r["host"]
		p.s.Next()
		key := p.s.Next()
		if key.Kind != scan.String {
			return nil, p.errorf(key.Pos, "expected string key, found %s", describe(key))
		}
		if _, err := p.expect("]"); err != nil {
			return nil, err
		}
		return member{at: t.Pos, object: name, field: key.Value}, nil
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return member{at: t.Pos, object: name[:i], field: name[i+1:]}, nil
		}
	}
	return ident{at: t.Pos, name: name}, nil
}

// parenOrFunction parses a parenthesized expression or a function
// literal `(r) => body` / `(tables=<-, column) => body`.
func (p *parser) parenOrFunction(open scan.Token) (expr, error) {
	mark := p.s.Mark()
	if params, ok := p.params(); ok && p.s.Accept("=>") {
		body, err := p.functionBody()
		if err != nil {
			return nil, err
		}
		return fnLit{at: open.Pos, params: params, body: body}, nil
	}
	p.s.Reset(mark)
	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return x, nil
}

func (p *parser) params() ([]string, bool) {
	var out []string
	if p.s.Accept(")") {
		return out, true
	}
	for {
		t := p.s.Next()
		if t.Kind != scan.Ident {
			return nil, false
		}
		out = append(out, t.Text)
		if p.s.Accept("=") {
			// default value, e.g. tables=<-
			if !(p.s.Accept("<") && p.s.Accept("-")) {
				if _, err := p.unary(); err != nil {
					return nil, false
				}
			}
		}
		if p.s.Accept(")") {
			return out, true
		}
		if !p.s.Accept(",") {
			return nil, false
		}
	}
}

// functionBody parses an expression body or a `{ return x }` block; a
// pipeline body (tables |> f()) is kept as its first stage's call.
func (p *parser) functionBody() (expr, error) {
	if p.s.Peek().Is("{") {
		open := p.s.Next()
		if p.s.AcceptKeyword("return") {
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("}"); err != nil {
				return nil, err
			}
			return x, nil
		}
		return p.recordLit(open)
	}
	x, err := p.expr()
	if err != nil {
		return nil, err
	}
	for p.s.Accept("|>") {
		c, err := p.call()
		if err != nil {
			return nil, err
		}
		x = c
	}
	return x, nil
}

func (p *parser) arrayLit(open scan.Token) (expr, error) {
	a := array{at: open.Pos}
	if p.s.Accept("]") {
		return a, nil
	}
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		a.elems = append(a.elems, x)
		if p.s.Accept("]") {
			return a, nil
		}
		if _, err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) recordLit(open scan.Token) (expr, error) {
	r := record{at: open.Pos, fields: map[string]expr{}}
	if p.s.Accept("}") {
		return r, nil
	}
	// {r with k: v}
	if p.s.Peek().Kind == scan.Ident && p.s.PeekN(1).IsKeyword("with") {
		r.base = p.s.Next().Text
		p.s.Next()
	}
	for {
		k := p.s.Next()
		if k.Kind != scan.Ident && k.Kind != scan.String {
			return nil, p.errorf(k.Pos, "expected record key, found %s", describe(k))
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		r.fields[k.Value] = v
		if p.s.Accept("}") {
			return r, nil
		}
		if _, err := p.expect(","); err != nil {
			return nil, err
		}
	}
}
