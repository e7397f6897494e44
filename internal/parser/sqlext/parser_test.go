package sqlext

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/queryir"
)

func TestTimescale_TimeBucket(t *testing.T) {
	plan, err := NewTimescale().Parse(`SELECT time_bucket('5 minutes', time) AS bucket, avg(temperature)
		FROM conditions WHERE time > NOW() - INTERVAL '1 hour' GROUP BY bucket`)
	require.NoError(t, err)

	assert.Equal(t, queryir.TimescaleDB, plan.SourceDialect)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "conditions", plan.Sources[0].Name)
	assert.Equal(t, queryir.SourceTable, plan.Sources[0].Kind)

	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggAvg, "temperature")}, plan.Aggregations)
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	assert.Nil(t, plan.Windows[0].Fill)
	assert.Empty(t, plan.GroupBy, "the bucket alias is the window, not a group key")
}

func TestTimescale_GapfillWithLocf(t *testing.T) {
	plan, err := NewTimescale().Parse(`SELECT time_bucket_gapfill('1 hour', time) AS hour, locf(avg(value))
		FROM metrics WHERE time >= '2024-01-01' AND time < '2024-01-02' GROUP BY hour`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillPrevious, plan.Windows[0].Fill.Mode)

	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggAvg, "value")}, plan.Aggregations)
	assert.Equal(t, queryir.Absolute{StartMs: 1704067200000, EndMs: 1704153600000}, plan.TimeRange)
}

func TestTimescale_GapfillDefaultsToNull(t *testing.T) {
	plan, err := NewTimescale().Parse(`SELECT time_bucket_gapfill('10 minutes', time), max(cpu) FROM hosts GROUP BY 1`)
	require.NoError(t, err)
	require.Len(t, plan.Windows, 1)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillNull, plan.Windows[0].Fill.Mode)
	assert.Empty(t, plan.GroupBy)
}

func TestTimescale_PercentileAndFilters(t *testing.T) {
	plan, err := NewTimescale().Parse(`SELECT host, percentile_cont(0.5) WITHIN GROUP (ORDER BY latency) AS p50
		FROM requests WHERE host IN ('a', 'b') AND path LIKE '/api/%' AND status <> 200
		GROUP BY host ORDER BY p50 DESC NULLS LAST LIMIT 20 OFFSET 40`)
	require.NoError(t, err)

	require.Len(t, plan.Aggregations, 1)
	assert.Equal(t, queryir.Aggregation{Function: queryir.Percentile(50), Column: "latency", Alias: "p50"}, plan.Aggregations[0])
	assert.Equal(t, []string{"host"}, plan.Columns)

	require.Len(t, plan.Filters, 3)
	assert.Equal(t, queryir.In{Column: "host", Values: []queryir.Value{queryir.StringValue("a"), queryir.StringValue("b")}}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Comparison{Column: "path", Op: queryir.OpLike, Value: queryir.StringValue("/api/%")}, plan.Filters[1].Condition)
	assert.Equal(t, queryir.Comparison{Column: "status", Op: queryir.OpNotEq, Value: queryir.IntValue(200)}, plan.Filters[2].Condition)

	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupColumn{Name: "host"}}}, plan.GroupBy)
	require.Len(t, plan.OrderBy, 1)
	assert.Equal(t, "p50", plan.OrderBy[0].Column)
	assert.False(t, plan.OrderBy[0].Ascending)
	assert.Equal(t, queryir.BoolPtr(false), plan.OrderBy[0].NullsFirst)
	assert.Equal(t, int64(20), *plan.Limit)
	assert.Equal(t, int64(40), *plan.Offset)
}

func TestPostgresRegexOperators(t *testing.T) {
	for _, p := range []*Parser{NewTimescale(), NewQuestDB(), NewGeneric()} {
		t.Run(string(p.Dialect()), func(t *testing.T) {
			plan, err := p.Parse(`SELECT * FROM m WHERE host ~ 'web.*' AND dc !~ '^test'`)
			require.NoError(t, err)
			require.Len(t, plan.Filters, 2)
			assert.Equal(t, queryir.Regex{Column: "host", Pattern: "web.*"}, plan.Filters[0].Condition)
			assert.Equal(t, queryir.Regex{Column: "dc", Pattern: "^test", Negated: true}, plan.Filters[1].Condition)
		})
	}
}

func TestTimescale_MathOverAggregate(t *testing.T) {
	plan, err := NewTimescale().Parse(`SELECT round(avg(temp), 2), sum(bytes) * 8 AS bits FROM sensors`)
	require.NoError(t, err)

	assert.Equal(t, []queryir.Aggregation{
		queryir.Agg(queryir.AggAvg, "temp"),
		queryir.Agg(queryir.AggSum, "bytes"),
	}, plan.Aggregations)
	require.Len(t, plan.Transformations, 2)
	assert.Equal(t, queryir.MathOf(queryir.MathRound, 2), plan.Transformations[0].Op)
	assert.Equal(t, "", plan.Transformations[0].Column)
	assert.Equal(t, queryir.MathOf(queryir.MathScale, 8), plan.Transformations[1].Op)
	assert.Equal(t, "bits", plan.Transformations[1].Alias)
}

func TestTDengine_IntervalSlidingFill(t *testing.T) {
	plan, err := NewTDengine().Parse(`SELECT _wstart, avg(current) FROM power.meters WHERE ts > now - 1h
		PARTITION BY location INTERVAL(10m) SLIDING(5m) FILL(PREV)`)
	require.NoError(t, err)

	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "meters", plan.Sources[0].Name)
	assert.Equal(t, "power", plan.Sources[0].Database)
	assert.Equal(t, "power", plan.Database)

	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggAvg, "current")}, plan.Aggregations)
	assert.Empty(t, plan.Columns, "window pseudo-columns are not projected")
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupTag{Name: "location"}}}, plan.GroupBy)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 600000, SlidingMs: queryir.Int64Ptr(300000)}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillPrevious, plan.Windows[0].Fill.Mode)
}

func TestTDengine_IntervalOffsetAndMillisecondUnit(t *testing.T) {
	plan, err := NewTDengine().Parse(`SELECT max(voltage) FROM meters INTERVAL(500a, 100a) FILL(VALUE, 0)`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 500, OffsetMs: 100}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillValue, plan.Windows[0].Fill.Mode)
	assert.Equal(t, queryir.IntValue(0), plan.Windows[0].Fill.Value)
}

func TestTDengine_Windows(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  queryir.WindowKind
	}{
		{
			name:  "session",
			query: `SELECT count(*) FROM meters SESSION(ts, 10m)`,
			want:  queryir.SessionWindow{GapMs: 600000, Column: "ts"},
		},
		{
			name:  "state",
			query: `SELECT count(*) FROM meters STATE_WINDOW(status)`,
			want:  queryir.StateWindow{Column: "status"},
		},
		{
			name:  "event",
			query: `SELECT count(*) FROM meters EVENT_WINDOW START WITH voltage > 220 END WITH voltage < 200`,
			want: queryir.EventWindow{
				Start: queryir.Comparison{Column: "voltage", Op: queryir.OpGt, Value: queryir.IntValue(220)},
				End:   queryir.Comparison{Column: "voltage", Op: queryir.OpLt, Value: queryir.IntValue(200)},
			},
		},
		{
			name:  "count",
			query: `SELECT count(*) FROM meters COUNT_WINDOW(100, 50)`,
			want:  queryir.CountWindow{N: 100, Sliding: queryir.Int64Ptr(50)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewTDengine().Parse(tt.query)
			require.NoError(t, err)
			require.Len(t, plan.Windows, 1)
			assert.Equal(t, tt.want, plan.Windows[0].Kind)
			assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggCount, "*")}, plan.Aggregations)
		})
	}
}

func TestTDengine_Functions(t *testing.T) {
	plan, err := NewTDengine().Parse(`SELECT apercentile(current, 90), top(voltage, 3), last_row(phase), diff(current) FROM meters`)
	require.NoError(t, err)

	assert.Equal(t, []queryir.Aggregation{
		{Function: queryir.Apercentile(90), Column: "current"},
		{Function: queryir.TopK(3), Column: "voltage"},
		queryir.Agg(queryir.AggLastRow, "phase"),
	}, plan.Aggregations)
	assert.Equal(t, []queryir.Transformation{{Op: queryir.Difference{}, Column: "current"}}, plan.Transformations)
}

func TestTDengine_Match(t *testing.T) {
	plan, err := NewTDengine().Parse(`SELECT avg(current) FROM meters WHERE location MATCH '^Cal' AND tbname NMATCH 'd10'`)
	require.NoError(t, err)

	require.Len(t, plan.Filters, 2)
	assert.Equal(t, queryir.Regex{Column: "location", Pattern: "^Cal"}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Regex{Column: "tbname", Pattern: "d10", Negated: true}, plan.Filters[1].Condition)
}

func TestTDengine_SlidingWithoutInterval(t *testing.T) {
	_, err := NewTDengine().Parse(`SELECT avg(current) FROM meters SLIDING(5m)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLIDING requires a preceding INTERVAL")
}

func TestTDengine_CreateStatements(t *testing.T) {
	plan, err := NewTDengine().Parse(`CREATE STABLE IF NOT EXISTS meters (ts TIMESTAMP, current FLOAT) TAGS (location BINARY(64), groupId INT)`)
	require.NoError(t, err)
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, queryir.DataSource{Name: "meters", Kind: queryir.SourceSuperTable}, plan.Sources[0])
	assert.Equal(t, "CREATE STABLE", plan.Hints.Custom["statement"])
	assert.Equal(t, "location,groupId", plan.Hints.Custom["tags"])

	plan, err = NewTDengine().Parse(`CREATE TABLE d1001 USING meters TAGS ('California.SanFrancisco', 2)`)
	require.NoError(t, err)
	assert.Equal(t, queryir.DataSource{Name: "d1001", Kind: queryir.SourceSubTable}, plan.Sources[0])
	assert.Equal(t, "meters", plan.Hints.Custom["using"])
	assert.Equal(t, "'California.SanFrancisco', 2", plan.Hints.Custom["tag_values"])
}

func TestQuestDB_SampleBy(t *testing.T) {
	plan, err := NewQuestDB().Parse(`SELECT ts, avg(price) FROM trades WHERE ts > dateadd('h', -1, now())
		SAMPLE BY 15m FILL(PREV) ALIGN TO CALENDAR`)
	require.NoError(t, err)

	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggAvg, "price")}, plan.Aggregations)
	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.SampleByWindow{IntervalMs: 900000, Align: "calendar"}, plan.Windows[0].Kind)
	require.NotNil(t, plan.Windows[0].Fill)
	assert.Equal(t, queryir.FillPrevious, plan.Windows[0].Fill.Mode)
}

func TestQuestDB_CaseSensitiveUnits(t *testing.T) {
	month, err := NewQuestDB().Parse(`SELECT count() FROM trades SAMPLE BY 1M`)
	require.NoError(t, err)
	assert.Equal(t, queryir.SampleByWindow{IntervalMs: 30 * 24 * 3600000}, month.Windows[0].Kind)

	minute, err := NewQuestDB().Parse(`SELECT count() FROM trades SAMPLE BY 1m`)
	require.NoError(t, err)
	assert.Equal(t, queryir.SampleByWindow{IntervalMs: 60000}, minute.Windows[0].Kind)

	millis, err := NewQuestDB().Parse(`SELECT count() FROM trades SAMPLE BY 250T`)
	require.NoError(t, err)
	assert.Equal(t, queryir.SampleByWindow{IntervalMs: 250}, millis.Windows[0].Kind)
}

func TestQuestDB_LatestOn(t *testing.T) {
	plan, err := NewQuestDB().Parse(`SELECT * FROM trades LATEST ON ts PARTITION BY symbol`)
	require.NoError(t, err)
	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggLastRow, "ts")}, plan.Aggregations)
	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupTag{Name: "symbol"}}}, plan.GroupBy)
}

func TestQuestDB_AsofJoin(t *testing.T) {
	plan, err := NewQuestDB().Parse(`SELECT * FROM trades t ASOF JOIN quotes q ON (t.symbol = q.symbol)`)
	require.NoError(t, err)
	require.Len(t, plan.Sources, 2)
	assert.Equal(t, "t", plan.Sources[0].Alias)
	assert.Equal(t, "quotes", plan.Sources[1].Name)
	assert.Equal(t, "ASOF JOIN quotes", plan.Hints.Custom["join"])
}

func TestClickHouse_StartOfHourWithTotals(t *testing.T) {
	plan, err := NewClickHouse().Parse(`SELECT toStartOfHour(timestamp) AS hour, count() FROM events GROUP BY hour WITH TOTALS`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000}, plan.Windows[0].Kind)
	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggCount, "*")}, plan.Aggregations)
	assert.Equal(t, "true", plan.Hints.Custom["with_totals"])
	assert.Empty(t, plan.GroupBy)
}

func TestClickHouse_Extensions(t *testing.T) {
	plan, err := NewClickHouse().Parse(`SELECT uniq(user_id), quantile(0.5)(latency), anyLast(status)
		FROM db.requests FINAL SAMPLE 0.1
		PREWHERE service = 'api'
		WHERE timestamp > now() - INTERVAL 1 HOUR
		GROUP BY service
		LIMIT 5 BY service
		SETTINGS max_threads = 8, max_memory_usage = '1GB'
		FORMAT JSON`)
	require.NoError(t, err)

	assert.Equal(t, []queryir.Aggregation{
		queryir.Agg(queryir.AggCountDistinct, "user_id"),
		{Function: queryir.Percentile(50), Column: "latency"},
		queryir.Agg(queryir.AggLast, "status"),
	}, plan.Aggregations)
	assert.Equal(t, "db", plan.Database)
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "service", Op: queryir.OpEq, Value: queryir.StringValue("api")}, plan.Filters[0].Condition)
	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupColumn{Name: "service"}}}, plan.GroupBy)
	assert.Nil(t, plan.Limit)

	h := plan.Hints
	assert.Equal(t, "true", h.Custom["final"])
	assert.Equal(t, "0.1", h.Custom["sample"])
	assert.Equal(t, "5 BY service", h.Custom["limit_by"])
	assert.Equal(t, "service = 'api'", h.Custom["prewhere"])
	require.NotNil(t, h.Parallel)
	assert.Equal(t, 8, *h.Parallel)
	require.NotNil(t, h.MemoryLimitBytes)
	assert.Equal(t, int64(1<<30), *h.MemoryLimitBytes)
	require.NotNil(t, plan.OutputFormat)
	assert.Equal(t, "JSON", plan.OutputFormat.ResultType)
}

func TestClickHouse_StartOfInterval(t *testing.T) {
	plan, err := NewClickHouse().Parse(`SELECT toStartOfInterval(event_time, INTERVAL 15 minute) AS t, sum(bytes)
		FROM traffic GROUP BY t ORDER BY t`)
	require.NoError(t, err)
	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 900000}, plan.Windows[0].Kind)
	require.Len(t, plan.OrderBy, 1)
	assert.Equal(t, "t", plan.OrderBy[0].Column)
	assert.True(t, plan.OrderBy[0].Ascending)
}

func TestDruidSQL_TimeFloorAndInterval(t *testing.T) {
	plan, err := NewDruidSQL().Parse(`SELECT TIME_FLOOR(__time, 'PT5M') AS t, APPROX_COUNT_DISTINCT(user_id), EARLIEST(price)
		FROM wikipedia WHERE TIME_IN_INTERVAL(__time, '2024-01-01T00:00:00Z/PT1H') GROUP BY 1`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1)
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 300000}, plan.Windows[0].Kind)
	assert.Equal(t, []queryir.Aggregation{
		queryir.Agg(queryir.AggHyperLogLog, "user_id"),
		queryir.Agg(queryir.AggFirst, "price"),
	}, plan.Aggregations)
	assert.Equal(t, queryir.Absolute{StartMs: 1704067200000, EndMs: 1704070800000}, plan.TimeRange)
	assert.Empty(t, plan.GroupBy)
}

func TestDruidSQL_FloorToUnit(t *testing.T) {
	plan, err := NewDruidSQL().Parse(`SELECT FLOOR(__time TO HOUR), SUM(added) FROM wikipedia
		WHERE __time >= CURRENT_TIMESTAMP - INTERVAL '1' DAY GROUP BY FLOOR(__time TO HOUR)`)
	require.NoError(t, err)

	require.Len(t, plan.Windows, 1, "the grouped bucket matches the projected one")
	assert.Equal(t, queryir.IntervalWindow{DurationMs: 3600000}, plan.Windows[0].Kind)
	assert.Equal(t, queryir.Relative{DurationMs: 86400000}, plan.TimeRange)
	assert.Empty(t, plan.Transformations)
}

func TestDruidSQL_QuantileNeedsProbability(t *testing.T) {
	_, err := NewDruidSQL().Parse(`SELECT APPROX_QUANTILE(latency) FROM requests`)
	var pe *queryir.ParseError
	require.True(t, errors.As(err, &pe))
}

func TestGeneric_SelectAggregate(t *testing.T) {
	plan, err := NewGeneric().Parse(`SELECT host, avg(cpu) AS avg_cpu FROM metrics
		WHERE region = 'us-east' AND ts > NOW() - INTERVAL 1 HOUR
		GROUP BY host ORDER BY avg_cpu DESC LIMIT 10`)
	require.NoError(t, err)

	assert.Equal(t, queryir.SQL, plan.SourceDialect)
	assert.Equal(t, []string{"host"}, plan.Columns)
	assert.Equal(t, []queryir.Aggregation{{Function: queryir.Fn(queryir.AggAvg), Column: "cpu", Alias: "avg_cpu"}}, plan.Aggregations)
	require.Len(t, plan.Filters, 1)
	assert.Equal(t, queryir.Comparison{Column: "region", Op: queryir.OpEq, Value: queryir.StringValue("us-east")}, plan.Filters[0].Condition)
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	assert.Equal(t, []queryir.GroupBy{{Expr: queryir.GroupColumn{Name: "host"}}}, plan.GroupBy)
	assert.Equal(t, []queryir.OrderBy{{Column: "avg_cpu"}}, plan.OrderBy)
	assert.Equal(t, int64(10), *plan.Limit)
}

func TestGeneric_FallsBackForNonMySQLSyntax(t *testing.T) {
	// '1 hour' without a unit keyword is rejected by the MySQL grammar.
	plan, err := NewGeneric().Parse(`SELECT count(*) FROM logs WHERE ts > now() - INTERVAL '1 hour'`)
	require.NoError(t, err)
	assert.Equal(t, queryir.Relative{DurationMs: 3600000}, plan.TimeRange)
	assert.Equal(t, []queryir.Aggregation{queryir.Agg(queryir.AggCount, "*")}, plan.Aggregations)
}

func TestGeneric_SubqueryAndJoin(t *testing.T) {
	plan, err := NewGeneric().Parse(`SELECT a.host, b.owner FROM hosts a LEFT JOIN owners b ON a.host = b.host`)
	require.NoError(t, err)
	require.Len(t, plan.Sources, 2)
	assert.Equal(t, "hosts", plan.Sources[0].Name)
	assert.Equal(t, "a", plan.Sources[0].Alias)
	assert.Equal(t, "owners", plan.Sources[1].Name)
	assert.Equal(t, "LEFT JOIN owners", plan.Hints.Custom["join"])
	assert.Equal(t, []string{"host", "owner"}, plan.Columns)

	plan, err = NewGeneric().Parse(`SELECT max(v) FROM (SELECT v FROM samples WHERE v > 10) s`)
	require.NoError(t, err)
	require.Len(t, plan.Sources, 1)
	src := plan.Sources[0]
	assert.Equal(t, queryir.SourceSubquery, src.Kind)
	assert.Equal(t, "s", src.Name)
	require.NotNil(t, src.Subquery)
	assert.Equal(t, "samples", src.Subquery.Sources[0].Name)
	require.Len(t, src.Subquery.Filters, 1)
}

func TestSelectWithoutFromIsRejected(t *testing.T) {
	parsers := []*Parser{NewTimescale(), NewTDengine(), NewQuestDB(), NewClickHouse(), NewDruidSQL(), NewGeneric()}
	for _, p := range parsers {
		t.Run(string(p.Dialect()), func(t *testing.T) {
			_, err := p.Parse(`SELECT 1`)
			var pe *queryir.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, p.Dialect(), pe.Dialect)
			assert.Contains(t, pe.Error(), "FROM")
		})
	}
}

func TestInvalidStatements(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", "   "},
		{"missing table", "SELECT a FROM"},
		{"trailing garbage", "SELECT a FROM t )"},
		{"unclosed call", "SELECT avg(a FROM t"},
		{"unknown statement", "FROBNICATE t"},
		{"bad limit", "SELECT a FROM t LIMIT x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTimescale().Parse(tt.query)
			var pe *queryir.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestNestingDepthIsBounded(t *testing.T) {
	q := "SELECT " + strings.Repeat("(", maxDepth+10) + "1" + strings.Repeat(")", maxDepth+10) + " FROM t"
	_, err := NewTimescale().Parse(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth")
}

func TestOtherStatementsBecomeHints(t *testing.T) {
	plan, err := NewTimescale().Parse(`DROP TABLE IF EXISTS metrics`)
	require.NoError(t, err)
	assert.Equal(t, "DROP TABLE IF EXISTS", plan.Hints.Custom["statement"])
	require.Len(t, plan.Sources, 1)
	assert.Equal(t, "metrics", plan.Sources[0].Name)

	plan, err = NewClickHouse().Parse(`EXPLAIN SELECT count() FROM events`)
	require.NoError(t, err)
	assert.Equal(t, "true", plan.Hints.Custom["explain"])
}
