package metricsql

import "github.com/roach88/polyql/internal/parser/scan"

// template is one WITH binding: name(params) = body.
type template struct {
	params []string
	body   []scan.Token
}

// expandWith strips a leading WITH (...) block and substitutes its
// templates into the remaining tokens. toks must end with EOF.
func (p *parser) expandWith(toks []scan.Token) ([]scan.Token, error) {
	if len(toks) == 0 || !toks[0].IsKeyword("with") || len(toks) < 2 || !toks[1].Is("(") {
		return toks, nil
	}
	templates := map[string]template{}
	i := 2
	for {
		if toks[i].Is(")") {
			i++
			break
		}
		name := toks[i]
		if name.Kind != scan.Ident {
			return nil, p.errorf(name.Pos, "expected template name, found %s", describe(name))
		}
		i++
		var t template
		if toks[i].Is("(") {
			i++
			for !toks[i].Is(")") {
				if toks[i].Kind != scan.Ident {
					return nil, p.errorf(toks[i].Pos, "expected template parameter, found %s", describe(toks[i]))
				}
				t.params = append(t.params, toks[i].Text)
				i++
				if toks[i].Is(",") {
					i++
				}
			}
			i++
		}
		if !toks[i].Is("=") {
			return nil, p.errorf(toks[i].Pos, "expected '=' after template %s", name.Text)
		}
		i++
		end, err := p.argumentEnd(toks, i)
		if err != nil {
			return nil, err
		}
		t.body = toks[i:end]
		if len(t.body) == 0 {
			return nil, p.errorf(toks[i].Pos, "template %s has an empty body", name.Text)
		}
		body, err := p.substitute(t.body, templates, 0)
		if err != nil {
			return nil, err
		}
		t.body = body
		templates[name.Text] = t
		i = end
		if toks[i].Is(",") {
			i++
		}
	}
	return p.substitute(toks[i:], templates, 0)
}

// argumentEnd returns the index of the "," or ")" closing the argument
// starting at i, honoring nested brackets.
func (p *parser) argumentEnd(toks []scan.Token, i int) (int, error) {
	depth := 0
	for ; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Kind == scan.EOF:
			return 0, p.errorf(t.Pos, "unterminated WITH block")
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			if depth == 0 {
				return i, nil
			}
			depth--
		case t.Is(",") && depth == 0:
			return i, nil
		}
	}
	return 0, p.errorf(len(p.text), "unterminated WITH block")
}

// substitute expands template references in toks.
func (p *parser) substitute(toks []scan.Token, templates map[string]template, depth int) ([]scan.Token, error) {
	if len(templates) == 0 {
		return toks, nil
	}
	if depth > MaxDepth {
		return nil, p.errorf(toks[0].Pos, "template expansion exceeds maximum depth %d", MaxDepth)
	}
	var out []scan.Token
	braces := 0
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Is("{"):
			braces++
		case t.Is("}"):
			braces--
		}
		tmpl, ok := templates[t.Text]
		if t.Kind != scan.Ident || !ok {
			out = append(out, t)
			continue
		}

		body := tmpl.body
		if len(tmpl.params) > 0 {
			if i+1 >= len(toks) || !toks[i+1].Is("(") {
				return nil, p.errorf(t.Pos, "template %s needs %d argument(s)", t.Text, len(tmpl.params))
			}
			args, next, err := p.callArguments(toks, i+2)
			if err != nil {
				return nil, err
			}
			if len(args) != len(tmpl.params) {
				return nil, p.errorf(t.Pos, "template %s takes %d argument(s), got %d", t.Text, len(tmpl.params), len(args))
			}
			bound := map[string]template{}
			for k, name := range tmpl.params {
				bound[name] = template{body: args[k]}
			}
			body, err = p.substitute(body, bound, depth+1)
			if err != nil {
				return nil, err
			}
			i = next
		}
		expanded, err := p.substitute(body, templates, depth+1)
		if err != nil {
			return nil, err
		}
		// A filter template referenced inside a selector contributes its
		// matchers, not another pair of braces.
		if braces > 0 && len(expanded) >= 2 && expanded[0].Is("{") && expanded[len(expanded)-1].Is("}") {
			expanded = expanded[1 : len(expanded)-1]
		} else if len(expanded) > 1 && braces == 0 {
			expanded = parenthesize(expanded)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// callArguments splits toks from i (just past "(") into top-level
// arguments and returns the index of the closing paren.
func (p *parser) callArguments(toks []scan.Token, i int) ([][]scan.Token, int, error) {
	var args [][]scan.Token
	if toks[i].Is(")") {
		return args, i, nil
	}
	for {
		end, err := p.argumentEnd(toks, i)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, toks[i:end])
		if toks[end].Is(")") {
			return args, end, nil
		}
		i = end + 1
	}
}

// parenthesize wraps an expanded expression so operator precedence at the
// reference site is preserved. Selectors with a trailing brace group are
// left as-is so a following [range] still applies to them.
func parenthesize(toks []scan.Token) []scan.Token {
	last := toks[len(toks)-1]
	if last.Is("}") || last.Is("]") {
		return toks
	}
	if toks[0].Kind == scan.Ident && toks[1].Is("(") && last.Is(")") && closesAt(toks, 1) == len(toks)-1 {
		return toks
	}
	open := scan.Token{Kind: scan.Op, Text: "(", Value: "(", Pos: toks[0].Pos, End: toks[0].Pos}
	closing := scan.Token{Kind: scan.Op, Text: ")", Value: ")", Pos: last.End, End: last.End}
	out := make([]scan.Token, 0, len(toks)+2)
	out = append(out, open)
	out = append(out, toks...)
	return append(out, closing)
}

func closesAt(toks []scan.Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].Is("("):
			depth++
		case toks[i].Is(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
