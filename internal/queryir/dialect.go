package queryir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Dialect identifies a supported query language. The set is closed; the
// string value is the registry key and the wire/CLI spelling.
type Dialect string

const (
	ClickHouse  Dialect = "clickhouse"
	QuestDB     Dialect = "questdb"
	TDengine    Dialect = "tdengine"
	TimescaleDB Dialect = "timescaledb"
	DruidSQL    Dialect = "druidsql"
	InfluxQL    Dialect = "influxql"
	Flux        Dialect = "flux"
	MetricsQL   Dialect = "metricsql"
	PromQL      Dialect = "promql"
	Graphite    Dialect = "graphite"
	DruidNative Dialect = "druidnative"
	OpenTSDB    Dialect = "opentsdb"
	SQL         Dialect = "sql"
)

// allDialects is ordered by priority. The detector uses this order to break
// score ties, so syntactically specific dialects come before general ones and
// generic SQL is always last.
var allDialects = []Dialect{
	ClickHouse,
	QuestDB,
	TDengine,
	TimescaleDB,
	DruidSQL,
	InfluxQL,
	Flux,
	MetricsQL,
	PromQL,
	Graphite,
	DruidNative,
	OpenTSDB,
	SQL,
}

var displayNames = map[Dialect]string{
	ClickHouse:  "ClickHouse",
	QuestDB:     "QuestDB",
	TDengine:    "TDengine",
	TimescaleDB: "TimescaleDB",
	DruidSQL:    "Druid SQL",
	InfluxQL:    "InfluxQL",
	Flux:        "Flux",
	MetricsQL:   "MetricsQL",
	PromQL:      "PromQL",
	Graphite:    "Graphite",
	DruidNative: "Druid native",
	OpenTSDB:    "OpenTSDB",
	SQL:         "SQL",
}

var dialectAliases = map[string]Dialect{
	"timescale":       TimescaleDB,
	"influx":          InfluxQL,
	"prometheus":      PromQL,
	"prom":            PromQL,
	"victoriametrics": MetricsQL,
	"druid":           DruidSQL,
	"druid-sql":       DruidSQL,
	"druid_sql":       DruidSQL,
	"druid-json":      DruidNative,
	"druid_native":    DruidNative,
	"druid-native":    DruidNative,
	"tsdb":            OpenTSDB,
	"questdb":         QuestDB,
	"ch":              ClickHouse,
	"taos":            TDengine,
}

// AllDialects returns every dialect in tie-break priority order.
// The returned slice is a copy.
func AllDialects() []Dialect {
	out := make([]Dialect, len(allDialects))
	copy(out, allDialects)
	return out
}

// Priority returns the tie-break rank of d (lower wins). Unknown dialects
// rank after every known one.
func (d Dialect) Priority() int {
	for i, known := range allDialects {
		if known == d {
			return i
		}
	}
	return len(allDialects)
}

// Valid reports whether d is one of the known dialects.
func (d Dialect) Valid() bool {
	_, ok := displayNames[d]
	return ok
}

func (d Dialect) String() string {
	return string(d)
}

// DisplayName returns the human-readable name ("Druid SQL", "InfluxQL").
func (d Dialect) DisplayName() string {
	if name, ok := displayNames[d]; ok {
		return name
	}
	return string(d)
}

// UnknownDialectError is returned by ParseDialect for names that match no
// dialect or alias. Suggestion is the closest known name, if any is close.
type UnknownDialectError struct {
	Name       string
	Suggestion Dialect
}

func (e *UnknownDialectError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown dialect %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown dialect %q", e.Name)
}

// ParseDialect resolves a dialect name or alias, case-insensitively.
func ParseDialect(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if d := Dialect(key); d.Valid() {
		return d, nil
	}
	if d, ok := dialectAliases[key]; ok {
		return d, nil
	}
	return "", &UnknownDialectError{Name: name, Suggestion: suggestDialect(key)}
}

// suggestDialect returns the known name within edit distance 3 of key.
func suggestDialect(key string) Dialect {
	if key == "" {
		return ""
	}
	best, bestDist := Dialect(""), 4
	for _, d := range allDialects {
		if dist := levenshtein.ComputeDistance(key, string(d)); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	aliases := make([]string, 0, len(dialectAliases))
	for alias := range dialectAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		if dist := levenshtein.ComputeDistance(key, alias); dist < bestDist {
			best, bestDist = dialectAliases[alias], dist
		}
	}
	return best
}
