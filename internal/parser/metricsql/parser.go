// Package metricsql parses VictoriaMetrics MetricsQL into query plans.
//
// Expressions are parsed with github.com/VictoriaMetrics/metricsql, which
// validates the language and expands WITH templates, including its
// built-in ones such as median_over_time. The expanded tree is converted
// to the nodes lowered here. When the expansion is plain PromQL it is
// handed to the PromQL walker instead, so both dialects lower identically.
//
// "or" between label filter groups, x{a="1" or b="2"}, is newer than the
// library release in use; input the library rejects is retried with a
// scan-based grammar that accepts it.
package metricsql

import (
	"strings"

	vm "github.com/VictoriaMetrics/metricsql"

	"github.com/roach88/polyql/internal/parser/promql"
	"github.com/roach88/polyql/internal/queryir"
)

// MaxDepth bounds expression nesting and template expansion.
const MaxDepth = 64

// Parser is the MetricsQL front end. It holds no state.
type Parser struct{}

// New returns a MetricsQL parser.
func New() *Parser { return &Parser{} }

// Dialect returns queryir.MetricsQL.
func (*Parser) Dialect() queryir.Dialect { return queryir.MetricsQL }

// Parse converts a MetricsQL expression to a plan.
func (p *Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(queryir.MetricsQL, "internal parser failure: %v", r)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(queryir.MetricsQL, "empty expression")
	}
	if off, ok := promql.DepthExceeded(text, MaxDepth); ok {
		return nil, queryir.ParseErrorAt(queryir.MetricsQL, text, off, "expression nesting exceeds maximum depth %d", MaxDepth)
	}

	expr, lerr := vm.Parse(text)
	if lerr != nil {
		return parseRejected(text, lerr)
	}
	root, err := newConverter(text).node(expr)
	if err != nil {
		return nil, err
	}
	return lower(text, root, string(expr.AppendString(nil)))
}

// parseRejected handles text the library refused. Only "or" filter groups
// are accepted from the fallback grammar; otherwise its positioned error,
// or the library's own, is returned.
func parseRejected(text string, lerr error) (*queryir.QueryPlan, error) {
	root, filterOr, err := parseFallback(text)
	if err != nil {
		return nil, err
	}
	if !filterOr {
		return nil, queryir.NewParseError(queryir.MetricsQL, "%v", lerr)
	}
	return lower(text, root, "")
}

// lower builds the plan for root. expanded is the template-free rendering
// of the expression, or empty when it cannot be plain PromQL.
func lower(text string, root node, expanded string) (*queryir.QueryPlan, error) {
	if expanded != "" {
		if plan, err := promql.ParseAs(queryir.MetricsQL, expanded); err == nil {
			plan.OriginalQuery = text
			return plan, nil
		}
	}
	plan := queryir.NewPlan(queryir.MetricsQL, text)
	if err := (&lowering{plan: plan}).node(root); err != nil {
		return nil, err
	}
	return plan, nil
}
