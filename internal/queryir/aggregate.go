package queryir

import (
	"fmt"
	"strconv"
)

// AggKind enumerates the canonical aggregate functions.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggStddev
	AggStddevPop
	AggStddevSamp
	AggVariance
	AggVarPop
	AggVarSamp
	AggFirst
	AggLast
	AggFirstRow
	AggLastRow
	AggSpread
	AggMode
	AggMedian
	AggPercentile
	AggApercentile
	AggRate
	AggIrate
	AggIncrease
	AggDelta
	AggIdelta
	AggDeriv
	AggPredictLinear
	AggResets
	AggChanges
	AggTwa
	AggIntegral
	AggSample
	AggTopK
	AggBottomK
	AggCountDistinct
	AggHyperLogLog
	AggHistogramQuantile
	AggHistogram
	AggCustom
)

var aggKindNames = [...]string{
	AggCount:             "count",
	AggSum:               "sum",
	AggAvg:               "avg",
	AggMin:               "min",
	AggMax:               "max",
	AggStddev:            "stddev",
	AggStddevPop:         "stddev_pop",
	AggStddevSamp:        "stddev_samp",
	AggVariance:          "variance",
	AggVarPop:            "var_pop",
	AggVarSamp:           "var_samp",
	AggFirst:             "first",
	AggLast:              "last",
	AggFirstRow:          "first_row",
	AggLastRow:           "last_row",
	AggSpread:            "spread",
	AggMode:              "mode",
	AggMedian:            "median",
	AggPercentile:        "percentile",
	AggApercentile:       "apercentile",
	AggRate:              "rate",
	AggIrate:             "irate",
	AggIncrease:          "increase",
	AggDelta:             "delta",
	AggIdelta:            "idelta",
	AggDeriv:             "deriv",
	AggPredictLinear:     "predict_linear",
	AggResets:            "resets",
	AggChanges:           "changes",
	AggTwa:               "twa",
	AggIntegral:          "integral",
	AggSample:            "sample",
	AggTopK:              "topk",
	AggBottomK:           "bottomk",
	AggCountDistinct:     "count_distinct",
	AggHyperLogLog:       "hyperloglog",
	AggHistogramQuantile: "histogram_quantile",
	AggHistogram:         "histogram",
	AggCustom:            "custom",
}

func (k AggKind) String() string {
	if int(k) >= 0 && int(k) < len(aggKindNames) {
		return aggKindNames[k]
	}
	return fmt.Sprintf("AggKind(%d)", int(k))
}

// AggKindByName resolves the canonical snake_case name back to a kind.
func AggKindByName(name string) (AggKind, bool) {
	for i, n := range aggKindNames {
		if n == name {
			return AggKind(i), true
		}
	}
	return 0, false
}

// IsRangeFunction reports whether k consumes a range of samples per series
// (rate-like) rather than reducing across series.
func (k AggKind) IsRangeFunction() bool {
	switch k {
	case AggRate, AggIrate, AggIncrease, AggDelta, AggIdelta, AggDeriv,
		AggPredictLinear, AggResets, AggChanges:
		return true
	}
	return false
}

// AggFunction is the closed aggregate-function union: a kind plus the
// parameter that kind carries.
//
//   - Percentile, Apercentile: Param is a percentage in [0, 100]
//   - HistogramQuantile: Param is a quantile in [0, 1]
//   - TopK, BottomK, Sample: N is the count
//   - Custom: Name is the dialect-specific function name
type AggFunction struct {
	Kind  AggKind
	Param float64
	N     int64
	Name  string
}

// Fn returns a parameterless aggregate function.
func Fn(kind AggKind) AggFunction { return AggFunction{Kind: kind} }

// Percentile returns the percentile function for p in [0, 100].
func Percentile(p float64) AggFunction { return AggFunction{Kind: AggPercentile, Param: p} }

// Apercentile returns the approximate percentile function for p in [0, 100].
func Apercentile(p float64) AggFunction { return AggFunction{Kind: AggApercentile, Param: p} }

// HistogramQuantile returns the bucketed-histogram quantile for phi in [0, 1].
func HistogramQuantile(phi float64) AggFunction {
	return AggFunction{Kind: AggHistogramQuantile, Param: phi}
}

// TopK returns the top-n selector.
func TopK(n int64) AggFunction { return AggFunction{Kind: AggTopK, N: n} }

// BottomK returns the bottom-n selector.
func BottomK(n int64) AggFunction { return AggFunction{Kind: AggBottomK, N: n} }

// Sample returns the n-point sampler.
func Sample(n int64) AggFunction { return AggFunction{Kind: AggSample, N: n} }

// Custom returns a dialect-specific aggregate with no canonical mapping.
func Custom(name string) AggFunction { return AggFunction{Kind: AggCustom, Name: name} }

func (f AggFunction) String() string {
	switch f.Kind {
	case AggPercentile, AggApercentile, AggHistogramQuantile:
		return f.Kind.String() + "(" + FormatFloat(f.Param) + ")"
	case AggTopK, AggBottomK, AggSample:
		return f.Kind.String() + "(" + strconv.FormatInt(f.N, 10) + ")"
	case AggCustom:
		return "custom(" + f.Name + ")"
	default:
		return f.Kind.String()
	}
}

// Aggregation applies Function to Column. Args holds extra literal
// arguments the source dialect passed that the function kind does not
// already capture (e.g. predict_linear's horizon).
type Aggregation struct {
	Function AggFunction
	Column   string
	Args     []Value
	Alias    string
	Distinct bool
}

// Agg is shorthand for a parameterless aggregation over column.
func Agg(kind AggKind, column string) Aggregation {
	return Aggregation{Function: Fn(kind), Column: column}
}
