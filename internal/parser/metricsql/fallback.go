package metricsql

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

var scanConfig = scan.Config{
	Durations:    true,
	IdentExtra:   ":",
	LineComments: []string{"#"},
}

// parseFallback parses text with the scan-based grammar. It reports
// whether "or" appeared between label filter groups, the one extension
// the library parser rejects.
func parseFallback(text string) (node, bool, error) {
	toks, serr := scan.Tokenize(text, scanConfig)
	if serr != nil {
		if se, ok := serr.(*scan.Error); ok {
			return nil, false, queryir.ParseErrorAt(queryir.MetricsQL, text, se.Pos, "%s", se.Msg)
		}
		return nil, false, queryir.NewParseError(queryir.MetricsQL, "%v", serr)
	}

	ps := &parser{text: text}
	toks, err := ps.expandWith(toks)
	if err != nil {
		return nil, false, err
	}
	ps.s = scan.NewStream(toks)
	root, err := ps.expr()
	if err != nil {
		return nil, false, err
	}
	if t := ps.s.Peek(); t.Kind != scan.EOF {
		return nil, false, ps.errorf(t.Pos, "unexpected %s after expression", describe(t))
	}
	return root, ps.filterOr, nil
}

type parser struct {
	text     string
	s        *scan.Stream
	depth    int
	filterOr bool
}

func (p *parser) errorf(at int, format string, args ...any) *queryir.ParseError {
	return queryir.ParseErrorAt(queryir.MetricsQL, p.text, at, format, args...)
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

func (p *parser) enter() error {
	p.depth++
	if p.depth > MaxDepth {
		return p.errorf(p.s.Peek().Pos, "expression nesting exceeds maximum depth %d", MaxDepth)
	}
	return nil
}

// binary operator precedence, lowest first.
var precedence = [][]string{
	{"or"},
	{"and", "unless"},
	{"==", "!=", "<=", ">=", "<", ">"},
	{"+", "-"},
	{"*", "/", "%", "atan2"},
	{"^"},
}

func (p *parser) expr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	return p.binary(0)
}

func (p *parser) binaryOperator(level int) (string, bool) {
	t := p.s.Peek()
	for _, op := range precedence[level] {
		if t.Is(op) || (t.Kind == scan.Ident && strings.EqualFold(t.Text, op)) {
			return op, true
		}
	}
	return "", false
}

func (p *parser) binary(level int) (node, error) {
	if level == len(precedence) {
		return p.unary()
	}
	l, err := p.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.binaryOperator(level)
		if !ok {
			return l, nil
		}
		p.s.Next()
		if err := p.binaryModifiers(); err != nil {
			return nil, err
		}
		next := level + 1
		if op == "^" {
			next = level // right associative
		}
		r, err := p.binary(next)
		if err != nil {
			return nil, err
		}
		l = binaryOp{op: op, l: l, r: r}
	}
}

// binaryModifiers skips bool, on/ignoring(...) and group_left/right(...).
func (p *parser) binaryModifiers() error {
	p.s.AcceptKeyword("bool")
	for _, kw := range []string{"on", "ignoring", "group_left", "group_right"} {
		if p.s.AcceptKeyword(kw) {
			if p.s.Peek().Is("(") {
				if _, err := p.labelList(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *parser) unary() (node, error) {
	if p.s.Peek().Is("-") || p.s.Peek().Is("+") {
		neg := p.s.Next().Is("-")
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer func() { p.depth-- }()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if !neg {
			return x, nil
		}
		if n, ok := x.(number); ok {
			return -n, nil
		}
		return negate{x: x}, nil
	}
	x, err := p.primary()
	if err != nil {
		return nil, err
	}
	return p.postfix(x)
}

func (p *parser) postfix(x node) (node, error) {
	if p.s.Accept("[") {
		var rangeMs, stepMs int64
		var err error
		subquery := false
		if !p.s.Peek().Is(":") && !isStep(p.s.Peek()) {
			if rangeMs, err = p.duration(); err != nil {
				return nil, err
			}
		}
		// ':' is a metric-name character, so ":1m" arrives as one token.
		switch t := p.s.Peek(); {
		case t.Is(":"):
			p.s.Next()
			subquery = true
			if !p.s.Peek().Is("]") {
				if stepMs, err = p.duration(); err != nil {
					return nil, err
				}
			}
		case isStep(t):
			p.s.Next()
			subquery = true
			if t.Text != ":" {
				if stepMs, err = p.durationText(t.Text[1:], t.Pos+1); err != nil {
					return nil, err
				}
			}
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		sel, isSel := x.(selector)
		if isSel && !subquery {
			sel.rangeMs = rangeMs
			x = sel
		} else {
			x = rollup{x: x, rangeMs: rangeMs, stepMs: stepMs}
		}
	}
	mods := modifiers{x: x}
	has := false
	for {
		switch {
		case p.s.AcceptKeyword("offset"):
			neg := p.s.Accept("-")
			d, err := p.duration()
			if err != nil {
				return nil, err
			}
			if neg {
				d = -d
			}
			mods.offsetMs, has = d, true
		case p.s.Accept("@"):
			t := p.s.Next()
			switch {
			case t.Kind == scan.Number:
				f, _ := strconv.ParseFloat(t.Text, 64)
				ms := int64(f * 1000)
				mods.atMs, has = &ms, true
			case t.IsKeyword("start") || t.IsKeyword("end"):
				if err := p.expect("("); err != nil {
					return nil, err
				}
				if err := p.expect(")"); err != nil {
					return nil, err
				}
				has = true
			default:
				return nil, p.errorf(t.Pos, "expected timestamp after @, found %s", describe(t))
			}
		case p.s.AcceptKeyword("keep_metric_names"):
			if c, ok := x.(funcCall); ok {
				c.keepNames = true
				x, mods.x = c, c
			}
		default:
			if has {
				return mods, nil
			}
			return x, nil
		}
	}
}

func isStep(t scan.Token) bool {
	return t.Kind == scan.Ident && strings.HasPrefix(t.Text, ":")
}

func (p *parser) duration() (int64, error) {
	t := p.s.Next()
	switch t.Kind {
	case scan.Duration:
		return p.durationText(t.Text, t.Pos)
	case scan.Number:
		// A bare number is seconds.
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return 0, p.errorf(t.Pos, "invalid duration %q", t.Text)
		}
		return int64(f * 1000), nil
	}
	return 0, p.errorf(t.Pos, "expected duration, found %s", describe(t))
}

func (p *parser) durationText(text string, pos int) (int64, error) {
	ms, err := timeexpr.ParseDuration(text)
	if err != nil {
		return 0, p.errorf(pos, "invalid duration %q", text)
	}
	return ms, nil
}

func (p *parser) primary() (node, error) {
	t := p.s.Peek()
	switch t.Kind {
	case scan.Number:
		p.s.Next()
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			if n, perr := strconv.ParseInt(t.Text, 0, 64); perr == nil {
				return number(n), nil
			}
			return nil, p.errorf(t.Pos, "invalid number %q", t.Text)
		}
		return number(f), nil
	case scan.Duration:
		// MetricsQL accepts durations as scalars: "5m" is 300.
		p.s.Next()
		ms, err := timeexpr.ParseDuration(t.Text)
		if err != nil {
			return nil, p.errorf(t.Pos, "invalid duration %q", t.Text)
		}
		return number(float64(ms) / 1000), nil
	case scan.String:
		p.s.Next()
		return str(t.Value), nil
	case scan.Ident:
		return p.identifier()
	case scan.Op:
		switch {
		case t.Is("("):
			p.s.Next()
			x, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case t.Is("{"):
			return p.selector("", t.Pos)
		}
	}
	return nil, p.errorf(t.Pos, "unexpected %s", describe(t))
}

func (p *parser) identifier() (node, error) {
	t := p.s.Next()
	name := t.Text
	lower := strings.ToLower(name)
	next := p.s.Peek()

	if isAggregate(lower) && (next.Is("(") || next.IsKeyword("by") || next.IsKeyword("without")) {
		return p.aggregate(t)
	}
	if next.Is("(") {
		p.s.Next()
		args, err := p.args()
		if err != nil {
			return nil, err
		}
		return funcCall{pos: t.Pos, name: lower, args: args}, nil
	}
	if next.Is("{") {
		return p.selector(name, t.Pos)
	}
	switch lower {
	case "inf":
		return number(math.Inf(1)), nil
	case "nan":
		return number(math.NaN()), nil
	}
	return selector{pos: t.Pos, name: name}, nil
}

func (p *parser) args() ([]node, error) {
	var args []node
	if p.s.Accept(")") {
		return args, nil
	}
	for {
		x, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, x)
		if p.s.Accept(")") {
			return args, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		if p.s.Accept(")") {
			return args, nil
		}
	}
}

func (p *parser) aggregate(t scan.Token) (node, error) {
	a := aggregate{pos: t.Pos, op: strings.ToLower(t.Text)}
	if err := p.grouping(&a); err != nil {
		return nil, err
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	args, err := p.args()
	if err != nil {
		return nil, err
	}
	a.args = args
	if err := p.grouping(&a); err != nil {
		return nil, err
	}
	if p.s.AcceptKeyword("limit") {
		n := p.s.Next()
		v, err := strconv.ParseInt(n.Text, 10, 64)
		if n.Kind != scan.Number || err != nil {
			return nil, p.errorf(n.Pos, "expected series limit, found %s", describe(n))
		}
		a.limit = v
	}
	return a, nil
}

func (p *parser) grouping(a *aggregate) error {
	switch {
	case p.s.AcceptKeyword("by"):
		a.without = false
	case p.s.AcceptKeyword("without"):
		a.without = true
	default:
		return nil
	}
	labels, err := p.labelList()
	if err != nil {
		return err
	}
	a.labels = labels
	return nil
}

func (p *parser) labelList() ([]string, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var labels []string
	for !p.s.Accept(")") {
		t := p.s.Next()
		if t.Kind != scan.Ident && t.Kind != scan.String {
			return nil, p.errorf(t.Pos, "expected label name, found %s", describe(t))
		}
		labels = append(labels, t.Value)
		if !p.s.Accept(",") && !p.s.Peek().Is(")") {
			t := p.s.Peek()
			return nil, p.errorf(t.Pos, "expected ',' or ')', found %s", describe(t))
		}
	}
	return labels, nil
}

var matcherOps = []string{"=~", "!~", "!=", "="}

func (p *parser) selector(name string, pos int) (node, error) {
	sel := selector{pos: pos, name: name}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	group := []matcher{}
	for !p.s.Accept("}") {
		if p.s.AcceptKeyword("or") {
			p.filterOr = true
			sel.groups = append(sel.groups, group)
			group = []matcher{}
			continue
		}
		label := p.s.Next()
		if label.Kind != scan.Ident && label.Kind != scan.String {
			return nil, p.errorf(label.Pos, "expected label name, found %s", describe(label))
		}
		op := ""
		for _, candidate := range matcherOps {
			if p.s.Accept(candidate) {
				op = candidate
				break
			}
		}
		if op == "" {
			t := p.s.Peek()
			return nil, p.errorf(t.Pos, "expected label matcher operator, found %s", describe(t))
		}
		v := p.s.Next()
		if v.Kind != scan.String {
			return nil, p.errorf(v.Pos, "expected string value, found %s", describe(v))
		}
		group = append(group, matcher{label: label.Value, op: op, value: v.Value})
		if !p.s.Accept(",") && !p.s.Peek().Is("}") && !p.s.Peek().IsKeyword("or") {
			t := p.s.Peek()
			return nil, p.errorf(t.Pos, "expected ',' or '}', found %s", describe(t))
		}
	}
	sel.groups = append(sel.groups, group)
	if sel.name == "" {
		for _, m := range sel.groups[0] {
			if m.label == "__name__" && m.op == "=" {
				sel.name = m.value
			}
		}
	}
	if sel.name == "" && len(sel.groups) == 1 && len(sel.groups[0]) == 0 {
		return nil, p.errorf(pos, "selector must name a metric or have a label matcher")
	}
	return sel, nil
}
