// Package flux parses Flux pipelines into query plans.
//
// A pipeline is a chain of calls joined by |>. The chain must start with
// from(bucket:); each later stage is lowered in order:
//
//	from(bucket: "telegraf")
//	    |> range(start: -1h)
//	    |> filter(fn: (r) => r._measurement == "cpu" and r.host == "a")
//	    |> aggregateWindow(every: 5m, fn: mean)
//
// gives Database telegraf, source cpu, a host filter, Relative 3600000,
// an Interval window of 300000ms and an avg aggregation. Stages with no
// plan mapping (pivot, map, yield, ...) are recorded in hints.
//
// Programs with variable assignments are followed through: the last
// statement that reaches a from() call is the query.
package flux

import (
	"strings"

	"github.com/roach88/polyql/internal/parser/scan"
	"github.com/roach88/polyql/internal/queryir"
)

// Parser is the Flux front end. It holds no state.
type Parser struct{}

// New returns a Flux parser.
func New() *Parser { return &Parser{} }

// Dialect returns queryir.Flux.
func (*Parser) Dialect() queryir.Dialect { return queryir.Flux }

var scanConfig = scan.Config{
	Durations:    true,
	Regex:        true,
	DateTimes:    true,
	IdentExtra:   ".",
	LineComments: []string{"//"},
}

// Parse converts a Flux program to a plan.
func (p *Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(queryir.Flux, "internal parser failure: %v", r)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(queryir.Flux, "empty program")
	}
	toks, serr := scan.Tokenize(text, scanConfig)
	if serr != nil {
		if se, ok := serr.(*scan.Error); ok {
			return nil, queryir.ParseErrorAt(queryir.Flux, text, se.Pos, "%s", se.Msg)
		}
		return nil, queryir.NewParseError(queryir.Flux, "%v", serr)
	}

	ps := &parser{text: text, s: scan.NewStream(toks)}
	calls, err := ps.program()
	if err != nil {
		return nil, err
	}
	return lower(text, calls)
}

// program parses statements and returns the pipeline of the last one
// rooted at from().
func (p *parser) program() ([]callExpr, error) {
	vars := map[string][]callExpr{}
	var query []callExpr
	for !p.s.Done() {
		if p.s.Accept(";") {
			continue
		}
		if p.s.AcceptKeyword("import") {
			if t := p.s.Next(); t.Kind != scan.String {
				return nil, p.errorf(t.Pos, "expected import path, found %s", describe(t))
			}
			continue
		}
		if p.s.AcceptKeyword("option") {
			if err := p.skipOption(); err != nil {
				return nil, err
			}
			continue
		}

		target := ""
		if p.s.Peek().Kind == scan.Ident && p.s.PeekN(1).Is("=") {
			target = p.s.Next().Text
			p.s.Next()
		}
		var chain []callExpr
		head := p.s.Peek()
		if head.Kind == scan.Ident && !p.s.PeekN(1).Is("(") {
			prior, ok := vars[head.Text]
			if !ok {
				return nil, p.errorf(head.Pos, "undefined identifier %q", head.Text)
			}
			p.s.Next()
			chain = append(chain, prior...)
			if p.s.Accept("|>") {
				more, err := p.pipeline()
				if err != nil {
					return nil, err
				}
				chain = append(chain, more...)
			}
		} else {
			more, err := p.pipeline()
			if err != nil {
				return nil, err
			}
			chain = more
		}

		if target != "" {
			vars[target] = chain
		}
		if len(chain) > 0 && isFrom(chain[0]) {
			query = chain
		}
	}
	if query == nil {
		return nil, queryir.NewParseError(queryir.Flux, "program has no from() pipeline")
	}
	return query, nil
}

// skipOption consumes `option name = expr`.
func (p *parser) skipOption() error {
	name := p.s.Next()
	if name.Kind != scan.Ident {
		return p.errorf(name.Pos, "expected option name, found %s", describe(name))
	}
	if _, err := p.expect("="); err != nil {
		return err
	}
	_, err := p.expr()
	return err
}

func isFrom(c callExpr) bool {
	return c.name == "from" || c.name == "influxdb.from"
}
