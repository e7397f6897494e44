package metricsql

import (
	"strings"

	vm "github.com/VictoriaMetrics/metricsql"

	"github.com/roach88/polyql/internal/queryir"
)

// node is a MetricsQL expression.
type node interface{}

type (
	matcher struct {
		label, op, value string
	}
	selector struct {
		pos     int
		name    string
		groups  [][]matcher
		rangeMs int64
	}
	rollup struct {
		x       node
		rangeMs int64
		stepMs  int64
	}
	modifiers struct {
		x        node
		offsetMs int64
		atMs     *int64
	}
	funcCall struct {
		pos       int
		name      string
		args      []node
		keepNames bool
	}
	aggregate struct {
		pos     int
		op      string
		args    []node
		labels  []string
		without bool
		limit   int64
	}
	binaryOp struct {
		op   string
		l, r node
	}
	negate struct{ x node }
	number float64
	str    string
)

// converter maps the library's expanded tree to nodes. The library keeps
// no offsets, so positions are recovered by searching the source text.
type converter struct {
	text  string
	lower string
}

func newConverter(text string) *converter {
	return &converter{text: text, lower: strings.ToLower(text)}
}

func (c *converter) pos(name string) int {
	if i := strings.Index(c.lower, strings.ToLower(name)); i >= 0 {
		return i
	}
	return 0
}

func (c *converter) node(e vm.Expr) (node, error) {
	switch x := e.(type) {
	case *vm.MetricExpr:
		return c.selector(x)
	case *vm.RollupExpr:
		return c.rollup(x)
	case *vm.FuncExpr:
		args, err := c.nodes(x.Args)
		if err != nil {
			return nil, err
		}
		name := strings.ToLower(x.Name)
		if name == "" {
			// (a, b) parses as an unnamed function.
			name = "union"
		}
		return funcCall{pos: c.pos(name), name: name, args: args, keepNames: x.KeepMetricNames}, nil
	case *vm.AggrFuncExpr:
		args, err := c.nodes(x.Args)
		if err != nil {
			return nil, err
		}
		op := strings.ToLower(x.Name)
		return aggregate{
			pos:     c.pos(op),
			op:      op,
			args:    args,
			labels:  x.Modifier.Args,
			without: strings.EqualFold(x.Modifier.Op, "without"),
			limit:   int64(x.Limit),
		}, nil
	case *vm.BinaryOpExpr:
		l, err := c.node(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := c.node(x.Right)
		if err != nil {
			return nil, err
		}
		// Unary minus arrives as 0 - x.
		if n, ok := l.(number); ok && n == 0 && x.Op == "-" {
			return negate{x: r}, nil
		}
		return binaryOp{op: strings.ToLower(x.Op), l: l, r: r}, nil
	case *vm.NumberExpr:
		return number(x.N), nil
	case *vm.StringExpr:
		return str(x.S), nil
	case *vm.DurationExpr:
		return number(float64(x.Duration(0)) / 1000), nil
	}
	return nil, queryir.NewParseError(queryir.MetricsQL, "unsupported expression %s", e.AppendString(nil))
}

func (c *converter) nodes(args []vm.Expr) ([]node, error) {
	out := make([]node, 0, len(args))
	for _, a := range args {
		n, err := c.node(a)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *converter) selector(me *vm.MetricExpr) (node, error) {
	if me.IsEmpty() {
		return nil, queryir.ParseErrorAt(queryir.MetricsQL, c.text, strings.Index(c.text, "{"),
			"selector must name a metric or have a label matcher")
	}
	sel := selector{}
	group := []matcher{}
	for i, lf := range me.LabelFilters {
		if i == 0 && lf.Label == "__name__" && !lf.IsNegative && !lf.IsRegexp {
			sel.name, sel.pos = lf.Value, c.pos(lf.Value)
			continue
		}
		group = append(group, matcher{label: lf.Label, op: matcherOp(lf), value: lf.Value})
	}
	sel.groups = [][]matcher{group}
	return sel, nil
}

func matcherOp(lf vm.LabelFilter) string {
	switch {
	case lf.IsNegative && lf.IsRegexp:
		return "!~"
	case lf.IsNegative:
		return "!="
	case lf.IsRegexp:
		return "=~"
	}
	return "="
}

func (c *converter) rollup(re *vm.RollupExpr) (node, error) {
	x, err := c.node(re.Expr)
	if err != nil {
		return nil, err
	}
	// Step-relative durations such as 2i resolve against a zero step.
	rangeMs, stepMs := re.Window.Duration(0), re.Step.Duration(0)
	if re.Window != nil || re.ForSubquery() {
		if sel, ok := x.(selector); ok && !re.ForSubquery() {
			sel.rangeMs = rangeMs
			x = sel
		} else {
			x = rollup{x: x, rangeMs: rangeMs, stepMs: stepMs}
		}
	}
	if re.Offset == nil && re.At == nil {
		return x, nil
	}
	mods := modifiers{x: x, offsetMs: re.Offset.Duration(0)}
	if n, ok := re.At.(*vm.NumberExpr); ok {
		ms := int64(n.N * 1000)
		mods.atMs = &ms
	}
	return mods, nil
}
