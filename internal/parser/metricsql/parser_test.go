package metricsql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestParse_PlainPromQLDelegates(t *testing.T) {
	text := `sum by (instance) (rate(node_cpu_seconds_total{mode="idle"}[5m]))`
	plan, err := New().Parse(text)
	require.NoError(t, err)

	assert.Equal(t, queryir.MetricsQL, plan.SourceDialect)
	assert.Equal(t, text, plan.OriginalQuery)
	assert.Equal(t, "node_cpu_seconds_total", plan.Sources[0].Name)
	assert.Equal(t, []string{"instance"}, plan.Tags())
	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.AggSum, plan.Aggregations[1].Function.Kind)
}

func TestParse_WithTemplates(t *testing.T) {
	plan, err := New().Parse(`WITH (cf = {job="api"}, r(m) = rate(m[5m])) r(http_requests_total{cf})`)
	require.NoError(t, err)

	assert.Equal(t, "http_requests_total", plan.Sources[0].Name)
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "job", Op: queryir.OpEq, Value: queryir.StringValue("api")}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 300000}, plan.Windows[0].Kind)
}

func TestParse_OrFilters(t *testing.T) {
	plan, err := New().Parse(`up{env="prod", job="a" or job="b"}`)
	require.NoError(t, err)

	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Or{Conditions: []queryir.Condition{
		queryir.And{Conditions: []queryir.Condition{
			queryir.Comparison{Column: "env", Op: queryir.OpEq, Value: queryir.StringValue("prod")},
			queryir.Comparison{Column: "job", Op: queryir.OpEq, Value: queryir.StringValue("a")},
		}},
		queryir.Comparison{Column: "job", Op: queryir.OpEq, Value: queryir.StringValue("b")},
	}}, plan.Filters[0].Condition)
}

func TestParse_ImplicitRangeAndStep(t *testing.T) {
	plan, err := New().Parse(`rate(requests_total)`)
	require.NoError(t, err)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Empty(t, plan.Windows)

	plan, err = New().Parse(`max_over_time(rate(requests_total[1m])[:30s])`)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), *plan.Hints.StepMs)
	assert.Equal(t, queryir.AggMax, plan.Aggregations[1].Function.Kind)
}

func TestParse_Extensions(t *testing.T) {
	plan, err := New().Parse(`range_max(rate(x[5m])) keep_metric_names`)
	require.NoError(t, err)
	assert.Equal(t, queryir.CustomTransform{Name: "range_max"}, plan.Transformations[0].Op)
	assert.Equal(t, "true", plan.Hints.Custom["keep_metric_names"])

	plan, err = New().Parse(`sum(rate(x[5m])) by (job) limit 5`)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *plan.Limit)
	assert.Equal(t, []string{"job"}, plan.Tags())

	plan, err = New().Parse(`topk_max(3, rollup_rate(x[1h]))`)
	require.NoError(t, err)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.Custom("topk_max"), plan.Aggregations[1].Function)
	assert.Equal(t, []queryir.Value{queryir.FloatValue(3)}, plan.Aggregations[1].Args)

	plan, err = New().Parse(`median(x) * 2`)
	require.NoError(t, err)
	assert.Equal(t, queryir.AggMedian, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.MathOf(queryir.MathScale, 2), plan.Transformations[0].Op)
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"sum(",
		`x{a="b"`,
		`x{a=}`,
		`{}`,
		`WITH (f = ) f`,
		`x[5m`,
		`sum(x) limit abc`,
		`rate(x) $`,
	}
	for _, in := range tests {
		_, err := New().Parse(in)
		var pe *queryir.ParseError
		require.ErrorAs(t, err, &pe, in)
		assert.Equal(t, queryir.MetricsQL, pe.Dialect, in)
	}
}

func TestParse_BuiltinTemplatesExpand(t *testing.T) {
	plan, err := New().Parse(`median_over_time(latency_seconds[5m])`)
	require.NoError(t, err)

	assert.Equal(t, "latency_seconds", plan.Sources[0].Name)
	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.Percentile(50), plan.Aggregations[0].Function)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 300000}, plan.Windows[0].Kind)
}

func TestParse_OffsetAfterRollup(t *testing.T) {
	plan, err := New().Parse(`max_over_time(x{env!="dev"}[5m]) offset 1h`)
	require.NoError(t, err)

	assert.Equal(t, queryir.AggMax, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	assert.Equal(t, "3600000", plan.Hints.Custom["offset_ms"])
	assert.Equal(t, queryir.Comparison{Column: "env", Op: queryir.OpNotEq, Value: queryir.StringValue("dev")}, plan.Filters[0].Condition)
}

func TestParse_NonLiteralParameters(t *testing.T) {
	plan, err := New().Parse(`topk(scalar(foo), median(bar))`)
	require.NoError(t, err)

	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.AggMedian, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.Custom("topk"), plan.Aggregations[1].Function)
	assert.Equal(t, "scalar(foo)", plan.Hints.Custom["topk_param"])
}

func TestParse_LibraryRejectionStands(t *testing.T) {
	// The fallback grammar does not validate regexes; only "or" filter
	// groups may override the library.
	_, err := New().Parse(`x{a=~"("}`)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, queryir.MetricsQL, pe.Dialect)
}

func TestParse_DepthLimit(t *testing.T) {
	deep := strings.Repeat("abs(", MaxDepth+1) + "x" + strings.Repeat(")", MaxDepth+1)
	_, err := New().Parse(deep)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "maximum depth")
}
