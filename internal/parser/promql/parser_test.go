package promql

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestParse_RateOverSelector(t *testing.T) {
	plan, err := New().Parse(`rate(http_requests_total{job="api"}[5m])`)
	require.NoError(t, err)

	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "http_requests_total", plan.Sources[0].Name)
	assert.Equal(t, queryir.SourceMetric, plan.Sources[0].Kind)

	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "job", Op: queryir.OpEq, Value: queryir.StringValue("api")}, plan.Filters[0].Condition)

	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	assert.Equal(t, queryir.PromQL, plan.SourceDialect)
}

func TestParse_AggregationWrapsRange(t *testing.T) {
	plan, err := New().Parse(`sum by (job, instance) (irate(node_cpu_seconds_total{mode!="idle"}[1m]))`)
	require.NoError(t, err)

	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.AggIrate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.AggSum, plan.Aggregations[1].Function.Kind)
	assert.Equal(t, []string{"job", "instance"}, plan.Tags())
	assert.Equal(t, queryir.OpNotEq, plan.Filters[0].Condition.(queryir.Comparison).Op)
}

func TestParse_TopKAndQuantile(t *testing.T) {
	plan, err := New().Parse(`topk(5, quantile(0.9, latency_seconds))`)
	require.NoError(t, err)
	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.Percentile(90), plan.Aggregations[0].Function)
	assert.Equal(t, queryir.TopK(5), plan.Aggregations[1].Function)
}

func TestParse_NonLiteralParameters(t *testing.T) {
	plan, err := New().Parse(`topk(scalar(foo), bar)`)
	require.NoError(t, err)
	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.Custom("topk"), plan.Aggregations[0].Function)
	assert.Equal(t, "bar", plan.Sources[0].Name)
	assert.Equal(t, "scalar(foo)", plan.Hints.Custom["topk_param"])

	plan, err = New().Parse(`quantile_over_time(scalar(phi), latency[5m])`)
	require.NoError(t, err)
	assert.Equal(t, queryir.Custom("quantile_over_time"), plan.Aggregations[0].Function)
	assert.Equal(t, "scalar(phi)", plan.Hints.Custom["quantile_over_time_param"])
}

func TestDurationMs_RoundsUp(t *testing.T) {
	assert.Equal(t, int64(300000), durationMs(5*time.Minute))
	assert.Equal(t, int64(1), durationMs(500*time.Microsecond))
	assert.Equal(t, int64(2), durationMs(1500*time.Microsecond))
	assert.Zero(t, durationMs(0))
}

func TestParse_HistogramQuantile(t *testing.T) {
	plan, err := New().Parse(`histogram_quantile(0.99, sum by (le) (rate(req_bucket[5m])))`)
	require.NoError(t, err)

	kinds := make([]queryir.AggKind, len(plan.Aggregations))
	for i, a := range plan.Aggregations {
		kinds[i] = a.Function.Kind
	}
	assert.Equal(t, []queryir.AggKind{queryir.AggRate, queryir.AggSum, queryir.AggHistogramQuantile}, kinds)
	assert.Equal(t, 0.99, plan.Aggregations[2].Function.Param)
	assert.Equal(t, []string{"le"}, plan.Tags())
}

func TestParse_RegexMatchersAndOffset(t *testing.T) {
	plan, err := New().Parse(`avg_over_time(up{instance=~"web-.*", env!~"dev"}[10m] offset 1h)`)
	require.NoError(t, err)

	require.Len(t, plan.Filters, 2)
	assert.Equal(t, queryir.Regex{Column: "instance", Pattern: "web-.*"}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Regex{Column: "env", Pattern: "dev", Negated: true}, plan.Filters[1].Condition)
	assert.Equal(t, queryir.AggAvg, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, "3600000", plan.Hints.Custom["offset_ms"])
}

func TestParse_AtModifier(t *testing.T) {
	plan, err := New().Parse(`rate(x[5m] @ 1609746000)`)
	require.NoError(t, err)
	assert.Equal(t, queryir.Absolute{StartMs: 1609746000000 - 300000, EndMs: 1609746000000}, plan.TimeRange)
}

func TestParse_SubqueryStep(t *testing.T) {
	plan, err := New().Parse(`max_over_time(rate(x[1m])[30m:1m])`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 2)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 60000}, plan.Windows[0].Kind)
	assert.Equal(t, queryir.RangeWindow{DurationMs: 1800000}, plan.Windows[1].Kind)
	require.NotNil(t, plan.Hints.StepMs)
	assert.Equal(t, int64(60000), *plan.Hints.StepMs)
}

func TestParse_ScalarArithmetic(t *testing.T) {
	plan, err := New().Parse(`rate(bytes_total[5m]) * 8`)
	require.NoError(t, err)
	require.Len(t, plan.Transformations, 1)
	assert.Equal(t, queryir.MathOf(queryir.MathScale, 8), plan.Transformations[0].Op)

	plan, err = New().Parse(`a / b`)
	require.NoError(t, err)
	assert.Equal(t, "a / b", plan.Hints.Custom["binary"])
	assert.Equal(t, "a", plan.Sources[0].Name)
}

func TestParse_WithoutAndLabelReplace(t *testing.T) {
	plan, err := New().Parse(`label_replace(sum without (cpu) (x), "host", "$1", "instance", "(.*):.*")`)
	require.NoError(t, err)
	assert.Equal(t, "cpu", plan.Hints.Custom["without"])
	require.Len(t, plan.Transformations, 1)
	assert.Equal(t, queryir.LabelReplace{Dst: "host", Replacement: "$1", Src: "instance", Regex: "(.*):.*"}, plan.Transformations[0].Op)
}

func TestParse_InvalidInput(t *testing.T) {
	for _, in := range []string{"", "rate(", `up{job="a"`, "sum by (", "1 +"} {
		_, err := New().Parse(in)
		var pe *queryir.ParseError
		require.ErrorAs(t, err, &pe, in)
		assert.Equal(t, queryir.PromQL, pe.Dialect)
	}
}

func TestParse_DepthLimit(t *testing.T) {
	deep := strings.Repeat("abs(", MaxDepth+1) + "x" + strings.Repeat(")", MaxDepth+1)
	_, err := New().Parse(deep)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "maximum depth")
	require.NotNil(t, pe.Position)
	assert.Equal(t, 4*MaxDepth+3, *pe.Position)

	ok := strings.Repeat("abs(", 10) + "x" + strings.Repeat(")", 10)
	_, err = New().Parse(ok)
	assert.NoError(t, err)
}

func TestDepthExceeded_IgnoresStrings(t *testing.T) {
	_, exceeded := DepthExceeded(`x{a="((((("}`, 2)
	assert.False(t, exceeded)
}
