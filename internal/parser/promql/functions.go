package promql

import (
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/roach88/polyql/internal/queryir"
)

// RangeFunctions are the functions that consume a range vector per series.
var RangeFunctions = map[string]queryir.AggKind{
	"rate":           queryir.AggRate,
	"irate":          queryir.AggIrate,
	"increase":       queryir.AggIncrease,
	"delta":          queryir.AggDelta,
	"idelta":         queryir.AggIdelta,
	"deriv":          queryir.AggDeriv,
	"predict_linear": queryir.AggPredictLinear,
	"resets":         queryir.AggResets,
	"changes":        queryir.AggChanges,
}

// OverTimeFunctions map <agg>_over_time to the aggregate applied over the
// range. quantile_over_time is handled separately (it carries φ).
var OverTimeFunctions = map[string]queryir.AggKind{
	"avg_over_time":    queryir.AggAvg,
	"sum_over_time":    queryir.AggSum,
	"min_over_time":    queryir.AggMin,
	"max_over_time":    queryir.AggMax,
	"count_over_time":  queryir.AggCount,
	"stddev_over_time": queryir.AggStddev,
	"stdvar_over_time": queryir.AggVariance,
	"last_over_time":   queryir.AggLast,
}

// AggregateOperators map PromQL aggregation operators to aggregate kinds.
// topk, bottomk, quantile and count_values carry a parameter and are
// handled by the walker.
var AggregateOperators = map[parser.ItemType]queryir.AggKind{
	parser.SUM:    queryir.AggSum,
	parser.AVG:    queryir.AggAvg,
	parser.MIN:    queryir.AggMin,
	parser.MAX:    queryir.AggMax,
	parser.COUNT:  queryir.AggCount,
	parser.STDDEV: queryir.AggStddev,
	parser.STDVAR: queryir.AggVariance,
}

// MathFunctions map unary math functions to transforms. Arg is set for
// log2 and log10.
var MathFunctions = map[string]queryir.Math{
	"abs":   {Func: queryir.MathAbs},
	"ceil":  {Func: queryir.MathCeil},
	"floor": {Func: queryir.MathFloor},
	"round": {Func: queryir.MathRound},
	"sqrt":  {Func: queryir.MathSqrt},
	"exp":   {Func: queryir.MathExp},
	"ln":    {Func: queryir.MathLog},
	"log2":  queryir.MathOf(queryir.MathLog, 2),
	"log10": queryir.MathOf(queryir.MathLog, 10),
}

// RangeFunctionName returns the PromQL spelling of a range-function kind.
func RangeFunctionName(k queryir.AggKind) (string, bool) {
	for name, kind := range RangeFunctions {
		if kind == k {
			return name, true
		}
	}
	return "", false
}

// OverTimeName returns the <agg>_over_time spelling for k.
func OverTimeName(k queryir.AggKind) (string, bool) {
	for name, kind := range OverTimeFunctions {
		if kind == k {
			return name, true
		}
	}
	return "", false
}

// IsFunction reports whether name is a function the PromQL engine knows.
func IsFunction(name string) bool {
	_, ok := parser.Functions[name]
	return ok
}
