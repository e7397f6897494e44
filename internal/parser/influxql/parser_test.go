package influxql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestParse_MeanOverRelativeRange(t *testing.T) {
	plan, err := New().Parse(`SELECT mean(value) FROM cpu WHERE time > now() - 1h GROUP BY time(5m) FILL(null)`)
	require.NoError(t, err)

	assert.Equal(t, queryir.InfluxQL, plan.SourceDialect)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "cpu", plan.Sources[0].Name)

	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.Agg(queryir.AggAvg, "value"), plan.Aggregations[0])

	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillNull, plan.Windows[0].Fill.Mode)
}

func TestParse_FillOmitted(t *testing.T) {
	plan, err := New().Parse(`SELECT max(usage) FROM cpu GROUP BY time(1m)`)
	require.NoError(t, err)
	require.Len(t, plan.Windows, 1)
	assert.Nil(t, plan.Windows[0].Fill)
}

func TestParse_FillVariants(t *testing.T) {
	tests := []struct {
		fill string
		want queryir.FillMode
	}{
		{"none", queryir.FillNone},
		{"previous", queryir.FillPrevious},
		{"linear", queryir.FillLinear},
		{"0", queryir.FillValue},
	}
	for _, tt := range tests {
		t.Run(tt.fill, func(t *testing.T) {
			plan, err := New().Parse(`SELECT sum(x) FROM m GROUP BY time(10s) fill(` + tt.fill + `)`)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Windows[0].Fill.Mode)
		})
	}
}

func TestParse_TagsFiltersAndClauses(t *testing.T) {
	plan, err := New().Parse(`SELECT count("bytes") FROM "telegraf"."autogen"."net" ` +
		`WHERE "host" = 'web1' AND "iface" =~ /eth.*/ AND time >= '2021-01-01T00:00:00Z' AND time < '2021-01-02T00:00:00Z' ` +
		`GROUP BY time(1h, 15m), "host" ORDER BY time DESC LIMIT 10 OFFSET 5 SLIMIT 3 tz('UTC')`)
	require.NoError(t, err)

	src := plan.Sources[0]
	assert.Equal(t, "net", src.Name)
	assert.Equal(t, "telegraf", src.Database)
	assert.Equal(t, "autogen", src.RetentionPolicy)
	assert.Equal(t, "telegraf", plan.Database)

	require.Len(t, plan.Filters, 2)
	assert.Equal(t, queryir.Comparison{Column: "host", Op: queryir.OpEq, Value: queryir.StringValue("web1")}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Regex{Column: "iface", Pattern: "eth.*"}, plan.Filters[1].Condition)

	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000, OffsetMs: 900000}, plan.Windows[0].Kind)
	assert.Equal(t, []string{"host"}, plan.Tags())

	require.Len(t, plan.OrderBy, 1)
	assert.Equal(t, "time", plan.OrderBy[0].Column)
	assert.False(t, plan.OrderBy[0].Ascending)
	assert.Equal(t, int64(10), *plan.Limit)
	assert.Equal(t, int64(5), *plan.Offset)
	assert.Equal(t, "3", plan.Hints.Custom["slimit"])
	assert.Equal(t, "UTC", plan.Hints.Custom["tz"])
}

func TestParse_TransformOverAggregate(t *testing.T) {
	plan, err := New().Parse(`SELECT non_negative_derivative(max("rx"), 1s) AS rate FROM net GROUP BY time(1m), *`)
	require.NoError(t, err)

	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.AggMax, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, "rx", plan.Aggregations[0].Column)

	require.Len(t, plan.Transformations, 1)
	assert.Equal(t, queryir.Derivative{UnitMs: 1000, NonNegative: true}, plan.Transformations[0].Op)
	assert.Equal(t, "rate", plan.Transformations[0].Alias)
	assert.True(t, plan.HasAllTags())
}

func TestParse_ParameterisedAggregates(t *testing.T) {
	plan, err := New().Parse(`SELECT percentile(latency, 95), top(latency, 3), count(distinct(host)) FROM req`)
	require.NoError(t, err)

	require.Len(t, plan.Aggregations, 3)
	assert.Equal(t, queryir.Percentile(95), plan.Aggregations[0].Function)
	assert.Equal(t, queryir.TopK(3), plan.Aggregations[1].Function)
	assert.Equal(t, queryir.Fn(queryir.AggCountDistinct), plan.Aggregations[2].Function)
	assert.Equal(t, "host", plan.Aggregations[2].Column)
}

func TestParse_ScaledField(t *testing.T) {
	plan, err := New().Parse(`SELECT mean(bytes) * 8 FROM net`)
	require.NoError(t, err)
	require.Len(t, plan.Transformations, 1)
	assert.Equal(t, queryir.MathOf(queryir.MathScale, 8), plan.Transformations[0].Op)
}

func TestParse_Subquery(t *testing.T) {
	plan, err := New().Parse(`SELECT max(m) FROM (SELECT mean(v) AS m FROM cpu GROUP BY time(1m)) WHERE time > now() - 6h`)
	require.NoError(t, err)

	src := plan.Sources[0]
	assert.Equal(t, queryir.SourceSubquery, src.Kind)
	assert.Equal(t, "cpu", src.Name)
	require.NotNil(t, src.Subquery)
	assert.Equal(t, queryir.AggAvg, src.Subquery.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.Relative{DurationMs: 6 * 3600000}, plan.TimeRange)
}

func TestParse_ShowStatements(t *testing.T) {
	plan, err := New().Parse(`SHOW MEASUREMENTS`)
	require.NoError(t, err)
	assert.Equal(t, "_measurements", plan.Sources[0].Name)

	plan, err = New().Parse(`SHOW TAG KEYS ON "telegraf" FROM "cpu"`)
	require.NoError(t, err)
	assert.Equal(t, "_tag_keys", plan.Sources[0].Name)
	assert.Equal(t, "telegraf", plan.Database)
	assert.Equal(t, "cpu", plan.Hints.Custom["from"])

	plan, err = New().Parse(`CREATE DATABASE metrics`)
	require.NoError(t, err)
	assert.Contains(t, plan.Hints.Custom["statement"], "CREATE DATABASE")
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "SELECT", "SELECT FROM cpu", "SELECT x FROM", "DROP EVERYTHING"} {
		_, err := New().Parse(in)
		var pe *queryir.ParseError
		require.ErrorAs(t, err, &pe, in)
		assert.Equal(t, queryir.InfluxQL, pe.Dialect)
	}
}

func TestParse_InvalidIsPositioned(t *testing.T) {
	_, err := New().Parse("SELECT x FROM cpu WHERE")
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)
	assert.Greater(t, pe.Column, 1)
}

func TestParse_FillBelongsToItsOwnStatement(t *testing.T) {
	plan, err := New().Parse(`SELECT mean(m) FROM (SELECT max(v) AS m FROM cpu GROUP BY time(1m) fill(null)) GROUP BY time(5m)`)
	require.NoError(t, err)
	require.Len(t, plan.Windows, 1)
	assert.Nil(t, plan.Windows[0].Fill)

	sub := plan.Sources[0].Subquery
	require.NotNil(t, sub)
	require.Len(t, sub.Windows, 1)
	require.NotNil(t, sub.Windows[0].Fill)
	assert.Equal(t, queryir.FillNull, sub.Windows[0].Fill.Mode)

	plan, err = New().Parse(`SELECT mean(m) FROM (SELECT max(v) AS m FROM cpu GROUP BY time(1m)) GROUP BY time(5m) FILL(none)`)
	require.NoError(t, err)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillNone, plan.Windows[0].Fill.Mode)
	assert.Nil(t, plan.Sources[0].Subquery.Windows[0].Fill)
}

func TestParse_FillInsideLiteralIsIgnored(t *testing.T) {
	plan, err := New().Parse(`SELECT max(v) FROM cpu WHERE msg = 'fill(0)' AND path =~ /fill(x)/ GROUP BY time(1m)`)
	require.NoError(t, err)
	assert.Nil(t, plan.Windows[0].Fill)
}

func TestScanFillClauses(t *testing.T) {
	tests := []struct {
		in   string
		want []bool
	}{
		{`SELECT x FROM m`, []bool{false}},
		{`SELECT x FROM m GROUP BY time(1m) FILL (0)`, []bool{true}},
		{`SELECT x FROM (SELECT y FROM m fill(linear)) -- fill(none)`, []bool{false, true}},
		{`SELECT x FROM (SELECT y FROM m), (SELECT z FROM n) fill(previous)`, []bool{true, false, false}},
		{`SELECT "fill(" FROM m`, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, scanFillClauses(tt.in).explicit)
		})
	}
}

func TestParse_NestingDepthCheckedBeforeParse(t *testing.T) {
	text := strings.Repeat("SELECT v FROM (", 70) + "SELECT v FROM cpu" + strings.Repeat(")", 70)
	_, err := New().Parse(text)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "maximum depth 64")
	assert.Equal(t, 1, pe.Line)
}

func TestParse_SubMillisecondIntervalRoundsUp(t *testing.T) {
	plan, err := New().Parse(`SELECT mean(v) FROM cpu GROUP BY time(1500u)`)
	require.NoError(t, err)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 2}, plan.Windows[0].Kind)
	assert.Equal(t, "1500u", plan.Hints.Custom["interval"])

	plan, err = New().Parse(`SELECT mean(v) FROM cpu GROUP BY time(1m)`)
	require.NoError(t, err)
	assert.NotContains(t, plan.Hints.Custom, "interval")
}
