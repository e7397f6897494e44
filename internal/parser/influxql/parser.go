// Package influxql parses InfluxQL statements into query plans.
//
// Statements are parsed with github.com/influxdata/influxql and the
// resulting AST is walked:
//
//	SELECT mean("value") FROM "cpu" WHERE time > now() - 1h GROUP BY time(5m), host FILL(null)
//
// yields source cpu, aggregation avg(value), Relative 3600000, an
// Interval window of 300000ms with fill Null, and a host tag group.
//
// SHOW statements become pseudo-sources named after what they list
// (_measurements, _tag_keys, ...). Other statements are kept whole in the
// "statement" hint.
package influxql

import (
	"errors"
	"strconv"
	"strings"
	"time"

	influx "github.com/influxdata/influxql"

	"github.com/roach88/polyql/internal/parser/promql"
	"github.com/roach88/polyql/internal/queryir"
)

// maxNesting bounds bracket nesting, checked before the library parser
// recurses into the text.
const maxNesting = 64

// Parser is the InfluxQL front end. It holds no state.
type Parser struct{}

// New returns an InfluxQL parser.
func New() *Parser { return &Parser{} }

// Dialect returns queryir.InfluxQL.
func (*Parser) Dialect() queryir.Dialect { return queryir.InfluxQL }

// Parse converts the first statement in text to a plan.
func (p *Parser) Parse(text string) (plan *queryir.QueryPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan, err = nil, queryir.NewParseError(queryir.InfluxQL, "internal parser failure: %v", r)
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil, queryir.NewParseError(queryir.InfluxQL, "empty statement")
	}
	if off, ok := promql.DepthExceeded(text, maxNesting); ok {
		return nil, queryir.ParseErrorAt(queryir.InfluxQL, text, off, "nesting exceeds maximum depth %d", maxNesting)
	}
	stmt, perr := influx.ParseStatement(text)
	if perr != nil {
		return nil, convertError(text, perr)
	}

	plan = queryir.NewPlan(queryir.InfluxQL, text)
	switch s := stmt.(type) {
	case *influx.SelectStatement:
		if err := selectPlan(plan, s, scanFillClauses(text), 0); err != nil {
			return nil, err
		}
	default:
		showPlan(plan, stmt)
	}
	return plan, nil
}

func convertError(text string, err error) *queryir.ParseError {
	var pe *influx.ParseError
	if errors.As(err, &pe) {
		msg := pe.Message
		if msg == "" {
			msg = "found " + pe.Found + ", expected " + strings.Join(pe.Expected, ", ")
		}
		return queryir.ParseErrorLineCol(queryir.InfluxQL, text, pe.Pos.Line+1, pe.Pos.Char+1, msg)
	}
	return queryir.NewParseError(queryir.InfluxQL, "%v", err)
}

// maxSubqueryDepth bounds FROM (SELECT ...) nesting.
const maxSubqueryDepth = 32

func selectPlan(plan *queryir.QueryPlan, s *influx.SelectStatement, fills *fillClauses, depth int) error {
	if depth > maxSubqueryDepth {
		return queryir.NewParseError(queryir.InfluxQL, "subqueries nested deeper than %d", maxSubqueryDepth)
	}
	fill := fills.take()
	for _, src := range s.Sources {
		ds, err := source(src, fills, depth)
		if err != nil {
			return err
		}
		plan.AddSource(ds)
	}
	if len(plan.Sources) > 0 && plan.Sources[0].Database != "" {
		plan.Database = plan.Sources[0].Database
	}

	for _, f := range s.Fields {
		field(plan, f)
	}

	if s.Condition != nil {
		var tb queryir.TimeBounds
		conjuncts(s.Condition, func(e influx.Expr) {
			if timeBound(e, &tb) {
				return
			}
			if c := condition(e); c != nil {
				plan.AddFilter(c)
				return
			}
			plan.Hints.SetCustom("condition", e.String())
		})
		plan.TimeRange = tb.Range()
	}

	dimensions(plan, s, fill)

	for _, sf := range s.SortFields {
		name := sf.Name
		if name == "" {
			name = "time"
		}
		plan.AddOrderBy(name, sf.Ascending)
	}
	if s.Limit > 0 {
		plan.SetLimit(int64(s.Limit))
	}
	if s.Offset > 0 {
		plan.SetOffset(int64(s.Offset))
	}
	if s.SLimit > 0 {
		plan.Hints.SetCustom("slimit", strconv.Itoa(s.SLimit))
	}
	if s.SOffset > 0 {
		plan.Hints.SetCustom("soffset", strconv.Itoa(s.SOffset))
	}
	if s.Location != nil {
		plan.Hints.SetCustom("tz", s.Location.String())
	}
	if s.Target != nil && s.Target.Measurement != nil {
		plan.Hints.SetCustom("into", s.Target.Measurement.String())
	}
	return nil
}

func source(src influx.Source, fills *fillClauses, depth int) (queryir.DataSource, error) {
	switch s := src.(type) {
	case *influx.Measurement:
		ds := queryir.DataSource{
			Name:            s.Name,
			Database:        s.Database,
			RetentionPolicy: s.RetentionPolicy,
			Kind:            queryir.SourceMeasurement,
		}
		if s.Regex != nil && s.Regex.Val != nil {
			ds.Name = "/" + s.Regex.Val.String() + "/"
		}
		return ds, nil
	case *influx.SubQuery:
		sub := queryir.NewPlan(queryir.InfluxQL, s.Statement.String())
		if err := selectPlan(sub, s.Statement, fills, depth+1); err != nil {
			return queryir.DataSource{}, err
		}
		name := "subquery"
		if inner, ok := sub.PrimarySource(); ok {
			name = inner.Name
		}
		return queryir.DataSource{Name: name, Kind: queryir.SourceSubquery, Subquery: sub}, nil
	default:
		return queryir.DataSource{}, queryir.NewParseError(queryir.InfluxQL, "unsupported source %s", src)
	}
}

func dimensions(plan *queryir.QueryPlan, s *influx.SelectStatement, fill bool) {
	var window *queryir.Window
	for _, d := range s.Dimensions {
		switch e := d.Expr.(type) {
		case *influx.Call:
			if strings.EqualFold(e.Name, "time") && len(e.Args) > 0 {
				w := queryir.IntervalWindow{}
				if dur, ok := e.Args[0].(*influx.DurationLiteral); ok {
					w.DurationMs = windowMs(plan, "interval", dur.Val)
				}
				if len(e.Args) > 1 {
					if off, ok := e.Args[1].(*influx.DurationLiteral); ok {
						w.OffsetMs = windowMs(plan, "offset", off.Val)
					}
				}
				window = &queryir.Window{Kind: w}
				continue
			}
			plan.AddGroupBy(queryir.GroupExpression{Text: e.String()})
		case *influx.VarRef:
			plan.AddGroupBy(queryir.GroupTag{Name: e.Val})
		case *influx.Wildcard:
			plan.AddGroupBy(queryir.AllTags{})
		case *influx.RegexLiteral:
			plan.AddGroupBy(queryir.GroupExpression{Text: e.String()})
		default:
			plan.AddGroupBy(queryir.GroupExpression{Text: d.String()})
		}
	}
	if window == nil {
		if fill {
			plan.Hints.SetCustom("fill", fillString(s))
		}
		return
	}
	if fill {
		window.Fill = fillOf(s)
	}
	plan.AddWindow(*window)
}

func fillOf(s *influx.SelectStatement) *queryir.Fill {
	switch s.Fill {
	case influx.NoFill:
		return queryir.NewFill(queryir.FillNone)
	case influx.PreviousFill:
		return queryir.NewFill(queryir.FillPrevious)
	case influx.LinearFill:
		return queryir.NewFill(queryir.FillLinear)
	case influx.NumberFill:
		f := queryir.NewFill(queryir.FillValue)
		f.Value = fillValue(s.FillValue)
		return f
	default:
		return queryir.NewFill(queryir.FillNull)
	}
}

func fillValue(v interface{}) queryir.Value {
	switch n := v.(type) {
	case int64:
		return queryir.IntValue(n)
	case uint64:
		return queryir.UIntValue(n)
	case float64:
		return queryir.FloatValue(n)
	case int:
		return queryir.IntValue(n)
	default:
		return queryir.NullValue{}
	}
}

func fillString(s *influx.SelectStatement) string {
	f := fillOf(s)
	if f.Mode == queryir.FillValue {
		return f.Value.String()
	}
	return f.Mode.String()
}

// durationMs converts d to milliseconds, rounding a sub-millisecond
// remainder up so a nonzero duration never becomes zero.
func durationMs(d time.Duration) int64 {
	ms := int64(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// windowMs is durationMs for GROUP BY time arguments. The native duration
// is kept in the key hint when it was rounded.
func windowMs(plan *queryir.QueryPlan, key string, d time.Duration) int64 {
	if d%time.Millisecond != 0 {
		plan.Hints.SetCustom(key, influx.FormatDuration(d))
	}
	return durationMs(d)
}
