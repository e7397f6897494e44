package jsonreq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

const openTSDBSample = `{
  "start": 1609459200,
  "end": 1609545600,
  "queries": [{
    "metric": "sys.cpu.user",
    "aggregator": "avg",
    "downsample": "1h-avg",
    "tags": {"host": "web01"}
  }]
}`

func TestOpenTSDB_AbsoluteQuery(t *testing.T) {
	plan, err := NewOpenTSDB().Parse(openTSDBSample)
	require.NoError(t, err)

	assert.Equal(t, queryir.OpenTSDB, plan.SourceDialect)
	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)

	require.Len(t, plan.Sources, 1)
	assert.Equal(t, queryir.DataSource{Name: "sys.cpu.user", Kind: queryir.SourceMetric}, plan.Sources[0])

	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.AggAvg, plan.Aggregations[0].Function.Kind)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000}, plan.Windows[0].Kind)
	assert.Nil(t, plan.Windows[0].Fill)

	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "host", Op: queryir.OpEq, Value: queryir.StringValue("web01")}, plan.Filters[0].Condition)
	assert.Empty(t, plan.GroupBy)

	ds, ok := plan.Hints.CustomValue("downsample")
	assert.True(t, ok)
	assert.Equal(t, "1h-avg", ds)
}

func TestOpenTSDB_RelativeRateAndGrouping(t *testing.T) {
	plan, err := NewOpenTSDB().Parse(`{
  "start": "1h-ago",
  "msResolution": true,
  "queries": [{
    "metric": "net.bytes",
    "aggregator": "sum",
    "rate": true,
    "rateOptions": {"counter": true},
    "downsample": "5m-max-zero",
    "tags": {"host": "*", "dc": "lga|sjc"}
  }]
}`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)

	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.AggSum, plan.Aggregations[1].Function.Kind)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillValue, plan.Windows[0].Fill.Mode)

	assert.ElementsMatch(t, []string{"host", "dc"}, plan.Tags())
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.In{
		Column: "dc",
		Values: []queryir.Value{queryir.StringValue("lga"), queryir.StringValue("sjc")},
	}, plan.Filters[0].Condition)

	counter, _ := plan.Hints.CustomValue("rate_counter")
	assert.Equal(t, "true", counter)
	require.NotNil(t, plan.OutputFormat)
	assert.Equal(t, "ms", plan.OutputFormat.TimestampFormat)
}

func TestOpenTSDB_Filters(t *testing.T) {
	plan, err := NewOpenTSDB().Parse(`{
  "start": "2024/01/02-15:04:05",
  "queries": [{
    "metric": "app.latency",
    "aggregator": "p99",
    "filters": [
      {"type": "wildcard", "tagk": "host", "filter": "web*", "groupBy": true},
      {"type": "not_literal_or", "tagk": "env", "filter": "dev"},
      {"type": "iliteral_or", "tagk": "region", "filter": "us-east|eu.west"},
      {"type": "regexp", "tagk": "pod", "filter": "api-[0-9]+"},
      {"type": "not_key", "tagk": "canary"}
    ]
  }]
}`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Since{StartMs: 1704207845000}, plan.TimeRange)
	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.Percentile(99), plan.Aggregations[0].Function)

	require.Len(t, plan.Filters, 5)
	assert.Equal(t, queryir.Regex{Column: "host", Pattern: "^web.*$"}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Comparison{Column: "env", Op: queryir.OpNotEq, Value: queryir.StringValue("dev")}, plan.Filters[1].Condition)
	assert.Equal(t, queryir.Regex{Column: "region", Pattern: `(?i)^(?:us-east|eu\.west)$`}, plan.Filters[2].Condition)
	assert.Equal(t, queryir.Regex{Column: "pod", Pattern: "api-[0-9]+"}, plan.Filters[3].Condition)
	assert.Equal(t, queryir.IsNull{Column: "canary"}, plan.Filters[4].Condition)
	assert.Equal(t, []string{"host"}, plan.Tags())
}

func TestOpenTSDB_Aggregators(t *testing.T) {
	tests := []struct {
		name string
		want queryir.AggFunction
	}{
		{"zimsum", queryir.Fn(queryir.AggSum)},
		{"mimmax", queryir.Fn(queryir.AggMax)},
		{"dev", queryir.Fn(queryir.AggStddev)},
		{"p50", queryir.Percentile(50)},
		{"p999", queryir.Percentile(99.9)},
		{"ep95r3", queryir.Apercentile(95)},
		{"squareSum", queryir.Custom("squaresum")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tsdbAggregator(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := tsdbAggregator("none")
	assert.False(t, ok)
}

func TestOpenTSDB_QueryString(t *testing.T) {
	plan, err := NewOpenTSDB().Parse(`start=1h-ago&m=sum:5m-avg:rate{counter}:sys.cpu.user{host=*}{dc=wildcard(lga*)}`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "sys.cpu.user", plan.Sources[0].Name)

	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.AggRate, plan.Aggregations[0].Function.Kind)
	assert.Equal(t, queryir.AggSum, plan.Aggregations[1].Function.Kind)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)

	assert.Equal(t, []string{"host"}, plan.Tags())
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Regex{Column: "dc", Pattern: "^lga.*$"}, plan.Filters[0].Condition)
}

func TestOpenTSDB_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", "empty document"},
		{"not json", "{start:", "invalid JSON"},
		{"array", "[1,2]", "expected a JSON object"},
		{"no start", `{"queries":[{"metric":"m","aggregator":"sum"}]}`, "start is required"},
		{"no queries", `{"start":"1h-ago","queries":[]}`, "at least one query"},
		{"no metric", `{"start":"1h-ago","queries":[{"aggregator":"sum"}]}`, "metric is required"},
		{"bad start", `{"start":"yesterday-ish","queries":[{"metric":"m"}]}`, "invalid start"},
		{"bad m", `start=1h-ago&m=sys.cpu`, "expected aggregator:metric"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewOpenTSDB().Parse(tt.text)
			assert.Nil(t, plan)
			var pe *queryir.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, queryir.OpenTSDB, pe.Dialect)
			assert.Contains(t, pe.Message, tt.want)
		})
	}
}

const druidSample = `{
  "queryType": "timeseries",
  "dataSource": "wikipedia",
  "granularity": "hour",
  "intervals": ["2021-01-01/2021-01-02"],
  "aggregations": [
    {"type": "count", "name": "edits"},
    {"type": "longSum", "name": "added", "fieldName": "added"}
  ],
  "context": {"timeout": 30000, "useCache": false}
}`

func TestDruidNative_Timeseries(t *testing.T) {
	plan, err := NewDruidNative().Parse(druidSample)
	require.NoError(t, err)

	assert.Equal(t, queryir.DruidNative, plan.SourceDialect)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, queryir.DataSource{Name: "wikipedia", Kind: queryir.SourceTable}, plan.Sources[0])
	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000}, plan.Windows[0].Kind)

	require.Len(t, plan.Aggregations, 2)
	assert.Equal(t, queryir.Aggregation{Function: queryir.Fn(queryir.AggCount), Column: "*", Alias: "edits"}, plan.Aggregations[0])
	assert.Equal(t, queryir.Aggregation{Function: queryir.Fn(queryir.AggSum), Column: "added", Alias: "added"}, plan.Aggregations[1])

	require.NotNil(t, plan.Hints.TimeoutMs)
	assert.Equal(t, int64(30000), *plan.Hints.TimeoutMs)
	require.NotNil(t, plan.Hints.UseCache)
	assert.False(t, *plan.Hints.UseCache)

	qt, _ := plan.Hints.CustomValue("query_type")
	assert.Equal(t, "timeseries", qt)
}

func TestDruidNative_TopN(t *testing.T) {
	plan, err := NewDruidNative().Parse(`{
  "queryType": "topN",
  "dataSource": {"type": "table", "name": "wikipedia"},
  "dimension": "page",
  "metric": "edits",
  "threshold": 10,
  "granularity": "all",
  "intervals": "2021-01-01T00:00:00Z/P1D",
  "aggregations": [{"type": "count", "name": "edits"}]
}`)
	require.NoError(t, err)

	assert.Empty(t, plan.Windows)
	assert.Equal(t, queryir.Absolute{StartMs: 1609459200000, EndMs: 1609545600000}, plan.TimeRange)
	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupColumn{Name: "page"}}}, plan.GroupBy)
	require.NotNil(t, plan.Limit)
	assert.Equal(t, int64(10), *plan.Limit)
	require.Len(t, plan.OrderBy, 1)
	assert.Equal(t, "edits", plan.OrderBy[0].Column)
	assert.False(t, plan.OrderBy[0].Ascending)
}

func TestDruidNative_Filters(t *testing.T) {
	plan, err := NewDruidNative().Parse(`{
  "queryType": "groupBy",
  "dataSource": "events",
  "granularity": {"type": "period", "period": "PT5M"},
  "dimensions": ["country", {"type": "default", "dimension": "city", "outputName": "c"}],
  "filter": {"type": "and", "fields": [
    {"type": "selector", "dimension": "channel", "value": "#en"},
    {"type": "in", "dimension": "os", "values": ["ios", "android"]},
    {"type": "bound", "dimension": "age", "lower": "18", "upper": "65", "ordering": "numeric"},
    {"type": "bound", "dimension": "score", "lower": 10, "lowerStrict": true},
    {"type": "not", "field": {"type": "regex", "dimension": "page", "pattern": "^Talk:"}},
    {"type": "or", "fields": [
      {"type": "like", "dimension": "user", "pattern": "bot%"},
      {"type": "selector", "dimension": "user", "value": null}
    ]}
  ]},
  "limitSpec": {"type": "default", "limit": 50, "columns": [{"dimension": "country", "direction": "descending"}]},
  "aggregations": [
    {"type": "filtered", "name": "mobile", "filter": {"type": "selector", "dimension": "os", "value": "ios"},
     "aggregator": {"type": "count", "name": "n"}},
    {"type": "HLLSketchBuild", "name": "users", "fieldName": "user"},
    {"type": "doubleMax", "name": "peak", "fieldName": "latency"}
  ],
  "postAggregations": [{"type": "arithmetic", "name": "ratio"}]
}`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	assert.Equal(t, []queryir.GroupBy{
		{Expr: queryir.GroupColumn{Name: "country"}},
		{Expr: queryir.GroupColumn{Name: "city"}},
	}, plan.GroupBy)

	require.Len(t, plan.Filters, 6)
	assert.Equal(t, queryir.Comparison{Column: "channel", Op: queryir.OpEq, Value: queryir.StringValue("#en")}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.In{Column: "os", Values: []queryir.Value{queryir.StringValue("ios"), queryir.StringValue("android")}}, plan.Filters[1].Condition)
	assert.Equal(t, queryir.Between{Column: "age", Low: queryir.IntValue(18), High: queryir.IntValue(65)}, plan.Filters[2].Condition)
	assert.Equal(t, queryir.Comparison{Column: "score", Op: queryir.OpGt, Value: queryir.IntValue(10)}, plan.Filters[3].Condition)
	assert.Equal(t, queryir.Not{Condition: queryir.Regex{Column: "page", Pattern: "^Talk:"}}, plan.Filters[4].Condition)
	assert.Equal(t, queryir.Or{Conditions: []queryir.Condition{
		queryir.Comparison{Column: "user", Op: queryir.OpLike, Value: queryir.StringValue("bot%")},
		queryir.IsNull{Column: "user"},
	}}, plan.Filters[5].Condition)

	require.Len(t, plan.Aggregations, 3)
	assert.Equal(t, queryir.Aggregation{Function: queryir.Fn(queryir.AggCount), Column: "*", Alias: "mobile"}, plan.Aggregations[0])
	assert.Equal(t, queryir.AggHyperLogLog, plan.Aggregations[1].Function.Kind)
	assert.Equal(t, queryir.Aggregation{Function: queryir.Fn(queryir.AggMax), Column: "latency", Alias: "peak"}, plan.Aggregations[2])

	require.NotNil(t, plan.Limit)
	assert.Equal(t, int64(50), *plan.Limit)
	require.Len(t, plan.OrderBy, 1)
	assert.Equal(t, "country", plan.OrderBy[0].Column)
	assert.False(t, plan.OrderBy[0].Ascending)

	_, ok := plan.Hints.CustomValue("postAggregations")
	assert.True(t, ok)
	_, ok = plan.Hints.CustomValue("aggregation_filter")
	assert.True(t, ok)
}

func TestDruidNative_NestedQueryDataSource(t *testing.T) {
	plan, err := NewDruidNative().Parse(`{
  "queryType": "groupBy",
  "dataSource": {"type": "query", "query": {
    "queryType": "groupBy", "dataSource": "wikipedia", "granularity": "all",
    "dimensions": ["page"], "aggregations": [{"type": "count", "name": "n"}]
  }},
  "granularity": "all",
  "aggregations": [{"type": "longMax", "name": "most", "fieldName": "n"}]
}`)
	require.NoError(t, err)

	require.Len(t, plan.Sources, 1)
	src := plan.Sources[0]
	assert.Equal(t, queryir.SourceSubquery, src.Kind)
	require.NotNil(t, src.Subquery)
	assert.Equal(t, "wikipedia", src.Subquery.Sources[0].Name)
	assert.Equal(t, []string{"page"}, []string{src.Subquery.GroupBy[0].Expr.(queryir.GroupColumn).Name})
}

func TestDruidNative_DeepNesting(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"queryType":"timeseries","dataSource":"t","filter":`)
	for i := 0; i < MaxDepth+5; i++ {
		b.WriteString(`{"type":"not","field":`)
	}
	b.WriteString(`{"type":"selector","dimension":"a","value":"b"}`)
	b.WriteString(strings.Repeat("}", MaxDepth+5))
	b.WriteString("}")

	plan, err := NewDruidNative().Parse(b.String())
	assert.Nil(t, plan)
	var pe *queryir.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "maximum depth")
}

func TestDruidNative_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "  ", "empty document"},
		{"no query type", `{"dataSource":"t"}`, "queryType is required"},
		{"no data source", `{"queryType":"scan"}`, "dataSource is required"},
		{"bad granularity", `{"queryType":"timeseries","dataSource":"t","granularity":"fortnight"}`, "unknown granularity"},
		{"bad interval", `{"queryType":"timeseries","dataSource":"t","intervals":["yesterday"]}`, "invalid interval"},
		{"unknown source type", `{"queryType":"scan","dataSource":{"type":"kafka"}}`, "unknown dataSource type"},
		{"open bound", `{"queryType":"scan","dataSource":"t","filter":{"type":"bound","dimension":"x"}}`, "requires lower or upper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewDruidNative().Parse(tt.text)
			assert.Nil(t, plan)
			var pe *queryir.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, queryir.DruidNative, pe.Dialect)
			assert.Contains(t, pe.Message, tt.want)
		})
	}
}
