// Package graphite parses Graphite render targets into query plans.
//
// A target is a metric path (servers.*.cpu.{user,system}), a string,
// number or boolean literal, or a function call whose arguments are
// targets or literals. Keyword arguments (func="sum") and the pipe form
// (a.b|sumSeries()|alias("x")) are accepted. A render query string
// (target=...&from=-1h&until=now) is also accepted; its first target is
// parsed and from/until become the time range.
//
// Nesting is bounded by MaxDepth; deeper input is rejected, never
// truncated.
package graphite

import (
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/queryir"
)

// MaxDepth bounds function-call nesting.
const MaxDepth = 64

// Parser is the Graphite front end. It holds no state.
type Parser struct{}

// New returns a Graphite parser.
func New() *Parser { return &Parser{} }

// Dialect returns queryir.Graphite.
func (*Parser) Dialect() queryir.Dialect { return queryir.Graphite }

// Parse converts a render target or render query string to a plan.
func (*Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(queryir.Graphite, "internal parser failure: %v", r)
		}
	}()
	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(queryir.Graphite, "empty target")
	}
	if isRenderQuery(text) {
		return parseRenderQuery(text)
	}
	root, err := parseTarget(text)
	if err != nil {
		return nil, err
	}
	plan = queryir.NewPlan(queryir.Graphite, text)
	if err := lowerTarget(plan, root, text); err != nil {
		return nil, err
	}
	return plan, nil
}

// node is a parsed target expression.
type node interface {
	pos() int
}

type pathNode struct {
	path string
	at   int
}

type callNode struct {
	name   string
	args   []node
	kwargs map[string]node
	at     int
}

type stringNode struct {
	val string
	at  int
}

type numberNode struct {
	val  float64
	text string
	at   int
}

type boolNode struct {
	val bool
	at  int
}

type noneNode struct {
	at int
}

func (n pathNode) pos() int   { return n.at }
func (n callNode) pos() int   { return n.at }
func (n stringNode) pos() int { return n.at }
func (n numberNode) pos() int { return n.at }
func (n boolNode) pos() int   { return n.at }
func (n noneNode) pos() int   { return n.at }

// isSeries reports whether n produces series rather than a literal.
func isSeries(n node) bool {
	switch n.(type) {
	case pathNode, callNode:
		return true
	}
	return false
}

type parser struct {
	text string
	i    int
}

func parseTarget(text string) (node, error) {
	p := &parser{text: text}
	n, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	p.space()
	if p.i < len(p.text) {
		return nil, p.errorf(p.i, "unexpected %q after target", p.text[p.i])
	}
	if !isSeries(n) {
		return nil, p.errorf(0, "target must be a metric path or function call")
	}
	return n, nil
}

func (p *parser) errorf(at int, format string, args ...any) error {
	return queryir.ParseErrorAt(queryir.Graphite, p.text, at, format, args...)
}

func (p *parser) space() {
	for p.i < len(p.text) && isSpace(p.text[p.i]) {
		p.i++
	}
}

func (p *parser) peek() byte {
	p.space()
	if p.i < len(p.text) {
		return p.text[p.i]
	}
	return 0
}

// expr parses a primary followed by any number of |call(...) stages.
func (p *parser) expr(depth int) (node, error) {
	n, err := p.primary(depth)
	if err != nil {
		return nil, err
	}
	for p.peek() == '|' {
		p.i++
		at := p.i
		stage, err := p.primary(depth)
		if err != nil {
			return nil, err
		}
		call, ok := stage.(callNode)
		if !ok {
			return nil, p.errorf(at, "expected function call after '|'")
		}
		call.args = append([]node{n}, call.args...)
		n = call
	}
	return n, nil
}

func (p *parser) primary(depth int) (node, error) {
	if depth > MaxDepth {
		return nil, p.errorf(p.i, "target nesting exceeds maximum depth %d", MaxDepth)
	}
	c := p.peek()
	at := p.i
	switch {
	case c == 0:
		return nil, p.errorf(at, "unexpected end of target")
	case c == '"' || c == '\'':
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return stringNode{val: s, at: at}, nil
	case c == ',' || c == ')' || c == '(' || c == '=' || c == '|':
		return nil, p.errorf(at, "unexpected %q", c)
	}

	word := p.word()
	if word == "" {
		return nil, p.errorf(at, "unexpected %q", c)
	}
	if p.peek() == '(' && isIdent(word) {
		p.i++
		return p.call(word, at, depth)
	}
	if n, ok := literal(word, at); ok {
		return n, nil
	}
	return pathNode{path: word, at: at}, nil
}

func (p *parser) call(name string, at, depth int) (node, error) {
	c := callNode{name: name, at: at}
	if p.peek() == ')' {
		p.i++
		return c, nil
	}
	for {
		argAt := p.i
		if kw, ok := p.keyword(); ok {
			v, err := p.expr(depth + 1)
			if err != nil {
				return nil, err
			}
			if c.kwargs == nil {
				c.kwargs = map[string]node{}
			}
			c.kwargs[kw] = v
		} else {
			if c.kwargs != nil {
				return nil, p.errorf(argAt, "positional argument follows keyword argument in %s", name)
			}
			v, err := p.expr(depth + 1)
			if err != nil {
				return nil, err
			}
			c.args = append(c.args, v)
		}
		switch p.peek() {
		case ',':
			p.i++
		case ')':
			p.i++
			return c, nil
		case 0:
			return nil, p.errorf(p.i, "unclosed call to %s", name)
		default:
			return nil, p.errorf(p.i, "expected ',' or ')' in call to %s, found %q", name, p.text[p.i])
		}
	}
}

// keyword consumes "name=" when it starts the next argument.
func (p *parser) keyword() (string, bool) {
	mark := p.i
	p.space()
	start := p.i
	for p.i < len(p.text) && isIdentByte(p.text[p.i]) {
		p.i++
	}
	name := p.text[start:p.i]
	if name != "" && isIdent(name) && p.peek() == '=' {
		p.i++
		return name, true
	}
	p.i = mark
	return "", false
}

// word reads a path or bare literal. Commas inside {a,b} and [..] belong
// to the path.
func (p *parser) word() string {
	start := p.i
	braces, brackets := 0, 0
	for p.i < len(p.text) {
		c := p.text[p.i]
		switch {
		case c == '{':
			braces++
		case c == '}':
			if braces == 0 {
				return p.text[start:p.i]
			}
			braces--
		case c == '[':
			brackets++
		case c == ']':
			if brackets > 0 {
				brackets--
			}
		case c == ',' && (braces > 0 || brackets > 0):
		case isSpace(c) || c == ',' || c == '(' || c == ')' || c == '|' || c == '"' || c == '\'':
			return p.text[start:p.i]
		case c == '=' && braces == 0 && brackets == 0:
			return p.text[start:p.i]
		}
		p.i++
	}
	return p.text[start:p.i]
}

func (p *parser) quoted() (string, error) {
	start := p.i
	q := p.text[p.i]
	p.i++
	var b strings.Builder
	for p.i < len(p.text) {
		c := p.text[p.i]
		switch {
		case c == q:
			p.i++
			return b.String(), nil
		case c == '\\' && p.i+1 < len(p.text):
			p.i++
			b.WriteByte(p.text[p.i])
		default:
			b.WriteByte(c)
		}
		p.i++
	}
	return "", p.errorf(start, "unterminated string")
}

func literal(word string, at int) (node, bool) {
	switch word {
	case "true", "True":
		return boolNode{val: true, at: at}, true
	case "false", "False":
		return boolNode{val: false, at: at}, true
	case "None", "none", "null":
		return noneNode{at: at}, true
	}
	c := word[0]
	if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' {
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return numberNode{val: f, text: word, at: at}, true
		}
	}
	return nil, false
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
