package testutil

import "github.com/roach88/polyql/internal/queryir"

// CanonicalQueries holds one representative query per dialect. Each one
// parses in its own dialect and is detected as that dialect.
var CanonicalQueries = map[queryir.Dialect]string{
	queryir.ClickHouse:  `SELECT toStartOfHour(timestamp) AS hour, count() FROM events GROUP BY hour WITH TOTALS`,
	queryir.QuestDB:     `SELECT ts, avg(price) FROM trades WHERE ts > dateadd('h', -1, now()) SAMPLE BY 15m FILL(PREV) ALIGN TO CALENDAR`,
	queryir.TDengine:    `SELECT _wstart, avg(current) FROM power.meters WHERE ts > now - 1h INTERVAL(5m) FILL(PREV)`,
	queryir.TimescaleDB: `SELECT time_bucket('5 minutes', time) AS bucket, avg(temperature) FROM conditions WHERE time > NOW() - INTERVAL '1 hour' GROUP BY bucket`,
	queryir.DruidSQL:    `SELECT FLOOR(__time TO HOUR), SUM(added) FROM wikipedia WHERE __time >= CURRENT_TIMESTAMP - INTERVAL '1' DAY GROUP BY FLOOR(__time TO HOUR)`,
	queryir.InfluxQL:    `SELECT mean("value") FROM "cpu" WHERE time > now() - 1h GROUP BY time(5m) FILL(null)`,
	queryir.Flux:        `from(bucket: "metrics") |> range(start: -1h) |> filter(fn: (r) => r._measurement == "cpu") |> aggregateWindow(every: 5m, fn: mean)`,
	queryir.MetricsQL:   `WITH (cf = {job="api"}) range_max(rate(http_requests_total{cf}[5m])) keep_metric_names`,
	queryir.PromQL:      `rate(http_requests_total{job="api"}[5m])`,
	queryir.Graphite:    `summarize(servers.*.cpu.user, "1h", "avg")`,
	queryir.DruidNative: `{"queryType":"timeseries","dataSource":"wikipedia","granularity":"hour","intervals":["2021-01-01/2021-01-02"],"aggregations":[{"type":"count","name":"rows"}]}`,
	queryir.OpenTSDB:    `{"start":1609459200,"end":1609545600,"queries":[{"metric":"sys.cpu.user","aggregator":"avg","downsample":"1h-avg","tags":{"host":"web01"}}]}`,
	queryir.SQL:         `SELECT host, avg(cpu) AS avg_cpu FROM metrics WHERE region = 'us-east' GROUP BY host ORDER BY avg_cpu DESC LIMIT 10`,
}
