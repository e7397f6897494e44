package translate

import (
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/parser/promql"
	"github.com/roach88/polyql/internal/queryir"
	"github.com/roach88/polyql/internal/timeexpr"
)

// bucketedMean is mean(usage_idle) of cpu for host server01 over the last
// hour in 5m buckets, grouped by host.
func bucketedMean() *queryir.QueryPlan {
	p := queryir.NewPlan(queryir.InfluxQL, "")
	p.AddSource(queryir.DataSource{Name: "cpu", Kind: queryir.SourceMeasurement})
	p.TimeRange = queryir.Relative{DurationMs: timeexpr.Hour}
	p.AddFilter(queryir.Comparison{Column: "host", Op: queryir.OpEq, Value: queryir.StringValue("server01")})
	p.AddAggregation(queryir.Agg(queryir.AggAvg, "usage_idle"))
	p.AddWindow(queryir.Window{
		Kind: queryir.IntervalWindow{DurationMs: 5 * timeexpr.Minute},
		Fill: queryir.NewFill(queryir.FillNull),
	})
	p.AddGroupBy(queryir.GroupTag{Name: "host"})
	return p
}

// rateOf is rate(metric[5m]) with optional label equalities.
func rateOf(metric string, labels ...string) *queryir.QueryPlan {
	p := queryir.NewPlan(queryir.PromQL, "")
	p.AddSource(queryir.DataSource{Name: metric, Kind: queryir.SourceMetric})
	for i := 0; i+1 < len(labels); i += 2 {
		p.AddFilter(queryir.Comparison{Column: labels[i], Op: queryir.OpEq, Value: queryir.StringValue(labels[i+1])})
	}
	p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggRate)})
	p.AddWindow(queryir.Window{Kind: queryir.RangeWindow{DurationMs: 5 * timeexpr.Minute}})
	return p
}

func TestBuiltins_CoverEveryDialectButDruidNative(t *testing.T) {
	seen := map[queryir.Dialect]bool{}
	for _, tr := range Builtins() {
		assert.False(t, seen[tr.Target()], "duplicate translator for %s", tr.Target())
		seen[tr.Target()] = true
	}
	for _, d := range queryir.AllDialects() {
		if d == queryir.DruidNative {
			assert.False(t, seen[d])
			continue
		}
		assert.True(t, seen[d], "missing translator for %s", d)
	}
}

func TestTranslate_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tr := range Builtins() {
		tr := tr
		t.Run(string(tr.Target()), func(t *testing.T) {
			out, err := tr.Translate(bucketedMean())
			require.NoError(t, err)
			g.Assert(t, "bucketed_mean_"+string(tr.Target()), []byte(out))
		})
	}
}

func TestTranslate_NoSource(t *testing.T) {
	for _, tr := range Builtins() {
		t.Run(string(tr.Target()), func(t *testing.T) {
			_, err := tr.Translate(queryir.NewPlan(queryir.SQL, ""))
			require.Error(t, err)

			var te *queryir.TranslateError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tr.Target(), te.Target)
			assert.Equal(t, "source", te.Unsupported)
		})
	}
}

func TestTranslate_NilPlan(t *testing.T) {
	for _, tr := range Builtins() {
		_, err := tr.Translate(nil)
		assert.Error(t, err, tr.Target())
	}
}

func TestTranslate_DoesNotMutatePlan(t *testing.T) {
	for _, tr := range Builtins() {
		plan := bucketedMean()
		before := queryir.Describe(plan)
		_, err := tr.Translate(plan)
		require.NoError(t, err)
		assert.Equal(t, before, queryir.Describe(plan), tr.Target())
	}
}

func TestDurationFormatters_RoundTrip(t *testing.T) {
	formatters := map[string]func(int64) string{
		"influxql":    influxDuration,
		"flux":        fluxDuration,
		"promql":      promDuration,
		"graphite":    graphiteDuration,
		"questdb":     func(ms int64) string { return timeexpr.FormatShort(ms, "T") },
		"tdengine":    func(ms int64) string { return timeexpr.FormatShort(ms, "a") },
		"timescaledb": timeexpr.FormatInterval,
		"druidsql":    timeexpr.FormatISO8601,
	}
	want := map[string]string{
		"influxql":    "5m",
		"flux":        "5m",
		"promql":      "5m",
		"graphite":    "5min",
		"questdb":     "5m",
		"tdengine":    "5m",
		"timescaledb": "5 minutes",
		"druidsql":    "PT5M",
	}
	for name, format := range formatters {
		t.Run(name, func(t *testing.T) {
			ms, err := timeexpr.ParseDuration("5m")
			require.NoError(t, err)
			require.Equal(t, int64(300000), ms)

			text := format(ms)
			assert.Equal(t, want[name], text)

			back, err := timeexpr.ParseDuration(text)
			require.NoError(t, err)
			assert.Equal(t, ms, back)
		})
	}
}

func TestDurationFormatters_SubSecond(t *testing.T) {
	assert.Equal(t, "1500ms", influxDuration(1500))
	assert.Equal(t, "1500ms", graphiteDuration(1500))
	assert.Equal(t, "1500T", timeexpr.FormatShort(1500, "T"))
	assert.Equal(t, "1500a", timeexpr.FormatShort(1500, "a"))
	assert.Equal(t, "INTERVAL '1.5' SECOND", druidInterval(1500))
	assert.Equal(t, "INTERVAL 1500000 MICROSECOND", mysqlInterval(1500))
}

func TestPromQLRateToInfluxQL(t *testing.T) {
	plan, err := promql.New().Parse(`rate(http_requests_total{job="api"}[5m])`)
	require.NoError(t, err)

	out, err := NewInfluxQL().Translate(plan)
	require.NoError(t, err)
	assert.Contains(t, out, "derivative(")
	assert.Contains(t, out, `FROM "http_requests_total"`)
	assert.Contains(t, out, `"job" = 'api'`)
	assert.Contains(t, out, "time > now() - 5m")
}

func TestInfluxQL(t *testing.T) {
	tests := []struct {
		name string
		plan func() *queryir.QueryPlan
		want string
	}{
		{
			name: "regex and ordering",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "disk", Database: "telegraf", RetentionPolicy: "autogen"})
				p.AddFilter(queryir.Regex{Column: "path", Pattern: "/var/.*"})
				p.AddColumn("used")
				p.AddOrderBy("time", false)
				p.SetLimit(10)
				return p
			},
			want: `SELECT "used" FROM "telegraf"."autogen"."disk" WHERE "path" =~ /\/var\/.*/ ORDER BY time DESC LIMIT 10`,
		},
		{
			name: "chained aggregation nests",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.PromQL, "")
				p.AddSource(queryir.DataSource{Name: "reqs"})
				p.AddAggregation(queryir.Agg(queryir.AggMax, "count"))
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggSum)})
				return p
			},
			want: `SELECT sum(max("count")) FROM "reqs"`,
		},
		{
			name: "transform and fill value",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "mem"})
				p.AddAggregation(queryir.Agg(queryir.AggLast, "used"))
				p.AddTransformation(queryir.Transformation{Op: queryir.Derivative{UnitMs: timeexpr.Second, NonNegative: true}})
				p.AddWindow(queryir.Window{
					Kind: queryir.IntervalWindow{DurationMs: timeexpr.Minute},
					Fill: &queryir.Fill{Mode: queryir.FillValue, Value: queryir.IntValue(0)},
				})
				return p
			},
			want: `SELECT non_negative_derivative(last("used"), 1s) FROM "mem" GROUP BY time(1m) FILL(0)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewInfluxQL().Translate(tt.plan())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestFlux_QuantileWindowFunction(t *testing.T) {
	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "latency"})
	p.AddAggregation(queryir.Aggregation{Function: queryir.Percentile(95), Column: "ms"})
	p.AddWindow(queryir.Window{Kind: queryir.IntervalWindow{DurationMs: timeexpr.Minute}})

	out, err := NewFlux().Translate(p)
	require.NoError(t, err)
	assert.Contains(t, out, `|> filter(fn: (r) => r._field == "ms")`)
	assert.Contains(t, out, "aggregateWindow(every: 1m, fn: (column, tables=<-) => tables |> quantile(q: 0.95, column: column))")
	assert.Contains(t, out, "range(start: -1h)")
}

func TestFlux_MathImport(t *testing.T) {
	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "cpu"})
	p.AddTransformation(queryir.Transformation{Op: queryir.MathOf(queryir.MathLog, 10)})
	p.AddTransformation(queryir.Transformation{Op: queryir.MathOf(queryir.MathScale, 2)})

	out, err := NewFlux().Translate(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "import \"math\"\n\n"), out)
	assert.Contains(t, out, "map(fn: (r) => ({r with _value: math.log10(x: r._value)}))")
	assert.Contains(t, out, "map(fn: (r) => ({r with _value: r._value * 2.0}))")
}

func TestFlux_Conditions(t *testing.T) {
	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "cpu"})
	p.AddFilter(queryir.In{Column: "host", Values: []queryir.Value{queryir.StringValue("a"), queryir.StringValue("b")}})
	p.AddFilter(queryir.IsNull{Column: "region", Negated: true})
	p.AddFilter(queryir.Comparison{Column: "cpu-total", Op: queryir.OpGt, Value: queryir.FloatValue(0.5)})

	out, err := NewFlux().Translate(p)
	require.NoError(t, err)
	assert.Contains(t, out, `filter(fn: (r) => (r.host == "a" or r.host == "b") and exists r.region and r["cpu-total"] > 0.5)`)
}

func TestPromQL(t *testing.T) {
	tests := []struct {
		name string
		plan func() *queryir.QueryPlan
		want string
	}{
		{
			name: "rate",
			plan: func() *queryir.QueryPlan { return rateOf("http_requests_total", "job", "api") },
			want: `rate(http_requests_total{job="api"}[5m])`,
		},
		{
			name: "sum by over rate",
			plan: func() *queryir.QueryPlan {
				p := rateOf("http_requests_total")
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggSum)})
				p.AddGroupBy(queryir.GroupTag{Name: "job"})
				return p
			},
			want: `sum by (job) (rate(http_requests_total[5m]))`,
		},
		{
			name: "offset hint",
			plan: func() *queryir.QueryPlan {
				p := rateOf("up")
				p.Hints.SetCustom("offset_ms", "3600000")
				return p
			},
			want: `rate(up[5m] offset 1h)`,
		},
		{
			name: "absolute end becomes at",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "up"})
				p.TimeRange = queryir.Absolute{StartMs: 1609745700000, EndMs: 1609746000000}
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggRate)})
				return p
			},
			want: `rate(up[5m] @ 1609746000)`,
		},
		{
			name: "or of equalities folds into a regex",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "up"})
				p.AddFilter(queryir.Or{Conditions: []queryir.Condition{
					queryir.Comparison{Column: "env", Op: queryir.OpEq, Value: queryir.StringValue("prod")},
					queryir.Comparison{Column: "env", Op: queryir.OpEq, Value: queryir.StringValue("stage")},
				}})
				return p
			},
			want: `up{env=~"prod|stage"}`,
		},
		{
			name: "non-identifier metric uses __name__",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "cpu.load"})
				return p
			},
			want: `{__name__="cpu.load"}`,
		},
		{
			name: "limit with descending order",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.SQL, "")
				p.AddSource(queryir.DataSource{Name: "up"})
				p.AddOrderBy("value", false)
				p.SetLimit(3)
				return p
			},
			want: `sort_desc(topk(3, up))`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewPromQL().Translate(tt.plan())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestPromQL_CustomTransformChecksSignature(t *testing.T) {
	p := rateOf("up")
	p.AddTransformation(queryir.Transformation{Op: queryir.CustomTransform{
		Name: "clamp_max",
		Args: []queryir.Value{queryir.FloatValue(100)},
	}})
	out, err := NewPromQL().Translate(p)
	require.NoError(t, err)
	assert.Equal(t, `clamp_max(rate(up[5m]), 100)`, out)

	p = rateOf("up")
	p.AddTransformation(queryir.Transformation{Op: queryir.CustomTransform{
		Name: "clamp_max",
		Args: []queryir.Value{queryir.StringValue("x")},
	}})
	out, err = NewPromQL().Translate(p)
	require.NoError(t, err)
	assert.Equal(t, `rate(up[5m])`, out)
}

func TestMetricsQL(t *testing.T) {
	out, err := NewMetricsQL().Translate(rateOf("up", "job", "api"))
	require.NoError(t, err)
	assert.Equal(t, `rate(up{job="api"}[5m]) keep_metric_names`, out)

	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "up"})
	p.AddFilter(queryir.Or{Conditions: []queryir.Condition{
		queryir.Comparison{Column: "env", Op: queryir.OpEq, Value: queryir.StringValue("prod")},
		queryir.Comparison{Column: "dc", Op: queryir.OpEq, Value: queryir.StringValue("eu")},
	}})
	p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggSum)})
	p.SetLimit(5)
	out, err = NewMetricsQL().Translate(p)
	require.NoError(t, err)
	assert.Equal(t, `sum (up{env="prod" or dc="eu"}) limit 5`, out)
}

func TestGraphite(t *testing.T) {
	tests := []struct {
		name string
		plan func() *queryir.QueryPlan
		want string
	}{
		{
			name: "path with summarize and alias",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.Graphite, "")
				p.AddSource(queryir.DataSource{Name: "servers.*.cpu.load"})
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggMax), Alias: "peak"})
				p.AddWindow(queryir.Window{Kind: queryir.IntervalWindow{DurationMs: timeexpr.Hour}})
				return p
			},
			want: `alias(summarize(servers.*.cpu.load, '1h', 'max'), 'peak')`,
		},
		{
			name: "rate becomes perSecond",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.Graphite, "")
				p.AddSource(queryir.DataSource{Name: "app.requests"})
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggRate)})
				p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggSum)})
				return p
			},
			want: `sumSeries(perSecond(app.requests))`,
		},
		{
			name: "tags become seriesByTag and render params",
			plan: func() *queryir.QueryPlan {
				p := queryir.NewPlan(queryir.Graphite, "")
				p.AddSource(queryir.DataSource{Name: "disk.used"})
				p.AddFilter(queryir.Comparison{Column: "dc", Op: queryir.OpEq, Value: queryir.StringValue("eu")})
				p.TimeRange = queryir.Relative{DurationMs: 24 * timeexpr.Hour}
				return p
			},
			want: `target=seriesByTag('name=disk.used', 'dc=eu')&from=-1d`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewGraphite().Translate(tt.plan())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestOpenTSDB(t *testing.T) {
	p := queryir.NewPlan(queryir.PromQL, "")
	p.AddSource(queryir.DataSource{Name: "sys.cpu.user"})
	p.TimeRange = queryir.Absolute{StartMs: 1356998400000, EndMs: 1357002000000}
	p.AddFilter(queryir.Regex{Column: "host", Pattern: "web.*"})
	p.AddAggregation(queryir.Aggregation{Function: queryir.Fn(queryir.AggRate)})
	p.AddAggregation(queryir.Aggregation{Function: queryir.Percentile(99)})
	p.AddGroupBy(queryir.GroupTag{Name: "dc"})
	p.Hints.SetCustom("rate_counter", "true")

	out, err := NewOpenTSDB().Translate(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"start": 1356998400000,
		"end": 1357002000000,
		"queries": [{
			"metric": "sys.cpu.user",
			"aggregator": "p99",
			"rate": true,
			"rateOptions": {"counter": true},
			"filters": [
				{"type": "regexp", "tagk": "host", "filter": "web.*", "groupBy": false},
				{"type": "wildcard", "tagk": "dc", "filter": "*", "groupBy": true}
			]
		}]
	}`, out)
}

func TestOpenTSDB_SourcesBecomeSubQueries(t *testing.T) {
	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "a"})
	p.AddSource(queryir.DataSource{Name: "b"})
	p.OutputFormat = &queryir.OutputFormat{TimestampFormat: "ms"}

	out, err := NewOpenTSDB().Translate(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"start": "1h-ago",
		"msResolution": true,
		"queries": [
			{"metric": "a", "aggregator": "none"},
			{"metric": "b", "aggregator": "none"}
		]
	}`, out)
}

func TestSQLFamily_Features(t *testing.T) {
	withTotals := bucketedMean()
	withTotals.Hints.SetCustom("with_totals", "true")
	out, err := NewClickHouse().Translate(withTotals)
	require.NoError(t, err)
	assert.Contains(t, out, "GROUP BY bucket, host WITH TOTALS")

	locf := bucketedMean()
	locf.Windows[0].Fill = queryir.NewFill(queryir.FillPrevious)
	out, err = NewTimescale().Translate(locf)
	require.NoError(t, err)
	assert.Contains(t, out, "locf(avg(usage_idle))")

	session := queryir.NewPlan(queryir.SQL, "")
	session.AddSource(queryir.DataSource{Name: "meters"})
	session.AddAggregation(queryir.Agg(queryir.AggCount, "*"))
	session.AddWindow(queryir.Window{Kind: queryir.SessionWindow{GapMs: 10 * timeexpr.Second}})
	out, err = NewTDengine().Translate(session)
	require.NoError(t, err)
	assert.Equal(t, "SELECT _wstart, count(*) FROM meters SESSION(ts, 10s)", out)

	calendar := queryir.NewPlan(queryir.SQL, "")
	calendar.AddSource(queryir.DataSource{Name: "trades"})
	calendar.AddAggregation(queryir.Agg(queryir.AggFirst, "price"))
	calendar.AddWindow(queryir.Window{Kind: queryir.SampleByWindow{IntervalMs: timeexpr.Hour, Align: "calendar"}})
	out, err = NewQuestDB().Translate(calendar)
	require.NoError(t, err)
	assert.Equal(t, "SELECT timestamp, first(price) FROM trades SAMPLE BY 1h ALIGN TO CALENDAR", out)
}

func TestSQL_QuotesReservedIdentifiers(t *testing.T) {
	p := queryir.NewPlan(queryir.SQL, "")
	p.AddSource(queryir.DataSource{Name: "order"})
	p.AddColumn("select")
	p.AddColumn("ok")

	out, err := NewSQL().Translate(p)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `select`, ok FROM `order`", out)

	out, err = NewTimescale().Translate(p)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "select", ok FROM "order"`, out)
}
