package flux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestParse_RangeFilterAggregateWindow(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "telegraf")
    |> range(start: -1h)
    |> filter(fn: (r) => r._measurement == "cpu")
    |> aggregateWindow(every: 5m, fn: mean)`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Flux, plan.SourceDialect)
	assert.Equal(t, "telegraf", plan.Database)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "cpu", plan.Sources[0].Name)
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.AggAvg, plan.Aggregations[0].Function.Kind)
}

func TestParse_FilterPredicates(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b")
  |> range(start: "2021-01-01T00:00:00Z", stop: "2021-01-02T00:00:00Z")
  |> filter(fn: (r) => r._measurement == "mem" and r._field == "used" and r["host"] == "a" and (r.region =~ /us-.*/ or r.cores > 4))`)
	require.NoError(t, err)

	assert.Equal(t, "mem", plan.Sources[0].Name)
	assert.Equal(t, []string{"used"}, plan.Columns)
	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)

	require.Len(t, plan.Filters, 2)
	assert.Equal(t, queryir.Comparison{Column: "host", Op: queryir.OpEq, Value: queryir.StringValue("a")}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Or{Conditions: []queryir.Condition{
		queryir.Regex{Column: "region", Pattern: "us-.*"},
		queryir.Comparison{Column: "cores", Op: queryir.OpGt, Value: queryir.IntValue(4)},
	}}, plan.Filters[1].Condition)
}

func TestParse_SeveralMeasurements(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b") |> range(start: -5m) |> filter(fn: (r) => r._measurement == "a" or r._measurement == "b")`)
	require.NoError(t, err)
	require.Len(t, plan.Sources, 2)
	assert.Equal(t, "b", plan.Sources[1].Name)
}

func TestParse_GroupSortLimitTransforms(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "net")
  |> range(start: -6h)
  |> filter(fn: (r) => r._measurement == "ifstat")
  |> derivative(unit: 1s, nonNegative: true)
  |> group(columns: ["host", "iface"])
  |> window(every: 1m, period: 5m)
  |> max()
  |> fill(usePrevious: true)
  |> sort(columns: ["_value"], desc: true)
  |> limit(n: 10)
  |> yield(name: "out")`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Derivative{UnitMs: 1000, NonNegative: true}, plan.Transformations[0].Op)
	assert.Equal(t, []string{"host", "iface"}, plan.Tags())
	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000, SlidingMs: queryir.Int64Ptr(60000)}, plan.Windows[0].Kind)
	assert.Equal(t, queryir.FillPrevious, plan.Windows[0].Fill.Mode)
	assert.Equal(t, queryir.AggMax, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, []queryir.OrderBy{{Column: "_value", Ascending: false}}, plan.OrderBy)
	assert.Equal(t, int64(10), *plan.Limit)
	assert.Equal(t, "out", plan.Hints.Custom["yield"])
}

func TestParse_AggregateWindowFunctionLiteral(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b") |> range(start: -1h)
  |> aggregateWindow(every: 1m, fn: (column, tables=<-) => tables |> quantile(q: 0.99, column: column), createEmpty: false)`)
	require.NoError(t, err)
	assert.Equal(t, queryir.Percentile(99), plan.Aggregations[0].Function)
	assert.Equal(t, queryir.FillNone, plan.Windows[0].Fill.Mode)
}

func TestParse_VariablesAndImports(t *testing.T) {
	plan, err := New().Parse(`import "strings"
// cpu usage
data = from(bucket: "b") |> range(start: -15m)
data
  |> filter(fn: (r) => r._measurement == "cpu")
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")`)
	require.NoError(t, err)
	assert.Equal(t, "cpu", plan.Sources[0].Name)
	assert.Equal(t, queryir.Relative{DurationMs: 900000}, plan.TimeRange)
	assert.Equal(t, "pivot", plan.Hints.Custom["unmapped"])
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		`range(start: -1h)`,
		`from(bucket: "b") |> range(start: -1h`,
		`from(host: "x")`,
		`from(bucket: "b") |> filter(fn: (r) => r.x == )`,
		`from(bucket: "b") |> range(stop: now())`,
		`from(bucket: "b") |> $`,
	}
	for _, in := range tests {
		_, err := New().Parse(in)
		var pe *queryir.ParseError
		require.ErrorAs(t, err, &pe, in)
		assert.Equal(t, queryir.Flux, pe.Dialect)
	}
}

func TestParse_DepthLimit(t *testing.T) {
	deep := `from(bucket: "b") |> filter(fn: (r) => ` + strings.Repeat("(", maxDepth+1) + "r.x == 1" + strings.Repeat(")", maxDepth+1) + ")"
	_, err := New().Parse(deep)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "maximum depth")
}

func TestParse_Exists(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b") |> range(start: -5m) |> filter(fn: (r) => r._measurement == "m" and exists r.host and not exists r.dc)`)
	require.NoError(t, err)

	require.Len(t, plan.Filters, 2)
	assert.Equal(t, queryir.IsNull{Column: "host", Negated: true}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Not{Condition: queryir.IsNull{Column: "dc", Negated: true}}, plan.Filters[1].Condition)
}

func TestParse_ValueMap(t *testing.T) {
	plan, err := New().Parse(`import "math"
from(bucket: "b")
    |> range(start: -5m)
    |> filter(fn: (r) => r._measurement == "m")
    |> map(fn: (r) => ({r with _value: r._value * 8.0}))
    |> map(fn: (r) => ({r with _value: math.abs(x: r._value)}))
    |> map(fn: (r) => ({r with _value: math.pow(x: r._value, y: 2.0)}))
    |> map(fn: (r) => ({r with other: 1}))`)
	require.NoError(t, err)

	assert.Equal(t, []queryir.Transformation{
		{Op: queryir.MathOf(queryir.MathScale, 8)},
		{Op: queryir.Math{Func: queryir.MathAbs}},
		{Op: queryir.MathOf(queryir.MathPow, 2)},
	}, plan.Transformations)
	assert.Equal(t, "map", plan.Hints.Custom["unmapped"])
}

func TestParse_DateTimeLiteralBounds(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b")
  |> range(start: 2021-01-01T00:00:00Z, stop: 2021-01-02)
  |> filter(fn: (r) => r._measurement == "cpu" and r._time > 2021-01-01T12:00:00+02:00)`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "_time", Op: queryir.OpGt, Value: queryir.TimestampValue(1609495200000)}, plan.Filters[0].Condition)
}

func TestParse_UnmappedPredicateKeepsSource(t *testing.T) {
	plan, err := New().Parse(`from(bucket: "b")
  |> range(start: -1h)
  |> filter(fn: (r) => r._measurement == "cpu" and strings.hasPrefix(v: r.host, prefix: "web") and length(arr: r.tags) > 2)`)
	require.NoError(t, err)

	assert.Empty(t, plan.Filters)
	assert.Equal(t, `strings.hasPrefix(prefix: "web", v: r.host); length(arr: r.tags) > 2`, plan.Hints.Custom["filter"])
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		e    expr
		want string
	}{
		{"regex", binary{op: "=~", l: member{object: "r", field: "host"}, r: regexLit{pattern: "a/b"}}, `r.host =~ /a\/b/`},
		{"nested", unary{op: "not", x: binary{op: "or", l: ident{name: "x"}, r: numLit{val: 1.5}}}, "not (x or 1.5)"},
		{"duration", callExpr{name: "f", args: map[string]expr{"every": durLit{ms: 300000}}}, "f(every: 5m)"},
		{"function", fnLit{params: []string{"r"}, body: record{base: "r", fields: map[string]expr{"_value": strLit{val: "x"}}}}, `(r) => {r with _value: "x"}`},
		{"array", array{elems: []expr{strLit{val: "a"}, timeLit{text: "2021-01-01"}}}, `["a", 2021-01-01]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.e))
		})
	}
}
