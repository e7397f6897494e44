package detect

import (
	"regexp"

	"github.com/roach88/polyql/internal/queryir"
)

// builtin holds the structural signatures and literal keywords of every
// built-in dialect. Keywords are matched case-insensitively.
var builtin = map[queryir.Dialect]struct {
	signatures []string
	keywords   []string
}{
	queryir.ClickHouse: {
		signatures: []string{
			`(?i)ENGINE\s*=\s*\w*MergeTree`,
			`(?i)\b(toDateTime|toDate|toStartOf\w+|toStartOfInterval|toInterval\w+)\s*\(`,
			`(?i)\barrayJoin\s*\(`,
			`(?i)\bWITH\s+TOTALS\b`,
			`(?i)\bPREWHERE\b`,
			`(?i)\bGLOBAL\s+(IN|JOIN)\b`,
			`(?i)\b(uniq|uniqExact|uniqCombined|quantile|quantiles|anyLast)\s*\([^)]*\)\s*\(`,
			`(?i)\bLIMIT\s+\d+\s+BY\b`,
		},
		keywords: []string{
			"MergeTree", "ENGINE=", "toDateTime(", "toStartOfHour(", "toStartOfInterval(",
			"arrayJoin(", "PREWHERE", "GLOBAL IN", "WITH TOTALS", "uniq(", "anyLast(",
		},
	},
	queryir.QuestDB: {
		signatures: []string{
			`(?i)\bSAMPLE\s+BY\b`,
			`(?i)\bLATEST\s+ON\b`,
			`(?i)\bASOF\s+JOIN\b`,
			`(?i)\b(LT|SPLICE)\s+JOIN\b`,
			`(?i)\bALIGN\s+TO\s+(CALENDAR|FIRST\s+OBSERVATION)\b`,
			`(?i)\bdateadd\s*\(\s*'[a-zA-Z]'`,
		},
		keywords: []string{
			"SAMPLE BY", "LATEST ON", "ASOF JOIN", "LT JOIN", "SPLICE JOIN",
			"ALIGN TO CALENDAR", "designated timestamp",
		},
	},
	queryir.TDengine: {
		signatures: []string{
			`(?i)\bCREATE\s+STABLE\b`,
			`(?i)\bUSING\s+\w+\s+TAGS\s*\(`,
			`(?i)\bINTERVAL\s*\(\s*\d+[a-z]+`,
			`(?i)\bPARTITION\s+BY\s+TBNAME\b`,
			`(?i)\b(STATE_WINDOW|SESSION|EVENT_WINDOW|COUNT_WINDOW)\s*\(`,
			`(?i)\bLAST_ROW\s*\(`,
			`(?i)\b_w(start|end|duration)\b`,
			`(?i)\bSLIDING\s*\(`,
		},
		keywords: []string{
			"CREATE STABLE", "TAGS(", "INTERVAL(", "STATE_WINDOW", "SESSION(",
			"LAST_ROW(", "TWA(", "SPREAD(", "_wstart", "_wend", "FILL(PREV)",
			"FILL(LINEAR)", "TBNAME", "SLIDING(",
		},
	},
	queryir.TimescaleDB: {
		signatures: []string{
			`(?i)\btime_bucket\s*\(`,
			`(?i)\btime_bucket_gapfill\s*\(`,
			`(?i)\b(CREATE\s+HYPERTABLE|create_hypertable\s*\()`,
			`(?i)\b(locf|interpolate)\s*\(`,
			`(?i)\bpercentile_cont\s*\(.*\bWITHIN\s+GROUP\b`,
		},
		keywords: []string{
			"time_bucket(", "time_bucket_gapfill(", "create_hypertable", "locf(",
			"interpolate(", "add_retention_policy", "add_compression_policy",
		},
	},
	queryir.DruidSQL: {
		signatures: []string{
			`(?i)\b__time\b`,
			`(?i)\bFLOOR\s*\(\s*__time\b`,
			`(?i)\bTIME_(FLOOR|SHIFT|CEIL|IN_INTERVAL|PARSE|FORMAT)\s*\(`,
			`(?i)\bAPPROX_(COUNT_DISTINCT|QUANTILE)\w*\s*\(`,
		},
		keywords: []string{
			"__time", "TIME_FLOOR(", "TIME_SHIFT(", "APPROX_COUNT_DISTINCT(",
			"DS_HLL", "DS_THETA", "EARLIEST(", "LATEST(",
		},
	},
	queryir.InfluxQL: {
		signatures: []string{
			`(?i)\bGROUP\s+BY\s+time\s*\(`,
			`(?i)^\s*SHOW\s+(MEASUREMENTS|TAG\s+KEYS|TAG\s+VALUES|FIELD\s+KEYS|DATABASES|RETENTION\s+POLICIES|SERIES|CONTINUOUS\s+QUERIES)\b`,
			`(?i)\bCREATE\s+(RETENTION\s+POLICY|CONTINUOUS\s+QUERY)\b`,
			`(?i)\btime\s*[<>=]+\s*now\(\)\s*-\s*\d+[a-z]+`,
			`(?i)\b(SLIMIT|SOFFSET)\s+\d+`,
			`(?i)\bFILL\s*\(\s*previous\s*\)`,
		},
		keywords: []string{
			"FILL(", "SLIMIT", "SOFFSET", "TZ(", "SHOW MEASUREMENTS", "SHOW TAG",
			"SHOW FIELD", "SHOW RETENTION", "GROUP BY time(", "now() -",
		},
	},
	queryir.Flux: {
		signatures: []string{
			`from\s*\(\s*bucket\s*:`,
			`\|>\s*range\s*\(`,
			`\|>\s*filter\s*\(`,
			`\|>\s*aggregateWindow\s*\(`,
			`\|>\s*yield\s*\(`,
			`\|>\s*map\s*\(`,
		},
		keywords: []string{
			"|>", "from(bucket:", "range(", "filter(fn:", "aggregateWindow(",
			"map(fn:", "pivot(",
		},
	},
	queryir.MetricsQL: {
		signatures: []string{
			`\b(range_\w+|topk_\w+|bottomk_\w+|rollup\w*|label_(set|del|keep|copy|move|map|value)|running_\w+|histogram_share|aggr_over_time|quantiles_over_time|share_le_over_time|count_eq_over_time)\s*\(`,
			`\bkeep_metric_names\b`,
			`(?i)^\s*WITH\s*\(`,
			`\[:\d+[a-z]+\]`,
			`\{[^}]*"\s+or\s+[^}]*\}`,
			`\b[a-zA-Z_]\w*\{\s*[a-zA-Z_]\w*\s*\}`,
		},
		keywords: []string{
			"keep_metric_names", "range_", "rollup", "with (", "topk_", "bottomk_",
			"label_set(",
		},
	},
	queryir.PromQL: {
		signatures: []string{
			`\b[a-zA-Z_][\w:]*\s*\{[^}]*\}`,
			`\b(rate|irate|increase|delta|idelta|deriv|predict_linear|histogram_quantile|resets|changes|\w+_over_time)\s*\(`,
			`\b(sum|avg|min|max|count|stddev|stdvar|topk|bottomk|quantile|count_values|group)\s*(by|without)\s*\(`,
			`\)\s*(by|without)\s*\(`,
			`\[\d+[smhdwy]+(:\d*[smhdwy]*)?\]`,
			`\boffset\s+-?\d+[smhdwy]`,
		},
		keywords: []string{
			"rate(", "irate(", "increase(", "histogram_quantile(", "sum by",
			"sum without", "avg by", "count by", "__name__", "job=", "instance=",
		},
	},
	queryir.Graphite: {
		signatures: []string{
			`\b(summarize|derivative|integral|movingAverage|alias|aliasByNode|aliasByTags|scale|offset)\s*\(`,
			`\b(sumSeries|averageSeries|maxSeries|minSeries|countSeries|groupByNode|groupByNodes|groupByTags|seriesByTag|highest\w+|lowest\w+|perSecond|nonNegativeDerivative|keepLastValue|transformNull|sortByMaxima|timeShift)\s*\(`,
			`\w\.\*\.\w`,
			`\.[\w\-]*\{[\w\-]+(,[\w\-]+)+\}`,
			`^\s*[A-Za-z_][\w\-]*(\.[\w\-*{}\[\],]+){2,}\s*$`,
			`^\s*target=`,
		},
		keywords: []string{
			"summarize(", "alias(", "scale(", "offset(", "derivative(", "integral(",
			"movingAverage(", "sumSeries(", "seriesByTag(",
		},
	},
	queryir.DruidNative: {
		signatures: []string{
			`"queryType"\s*:\s*"(timeseries|topN|groupBy|scan|search|timeBoundary|segmentMetadata|dataSourceMetadata)"`,
			`"dataSource"\s*:`,
			`"granularity"\s*:`,
		},
		keywords: []string{
			`"queryType"`, `"intervals"`, `"aggregations"`, `"postAggregations"`,
		},
	},
	queryir.OpenTSDB: {
		signatures: []string{
			`"queries"\s*:\s*\[`,
			`"metric"\s*:\s*"`,
			`"aggregator"\s*:\s*"\w+"`,
		},
		keywords: []string{
			`"downsample"`, `"aggregator"`, `-ago"`, `"msResolution"`,
		},
	},
}

// bareSelector is a PromQL instant selector: a metric name optionally
// followed by {...} and [...].
var bareSelector = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*(\{.*\})?(\[.*\])?$`)
