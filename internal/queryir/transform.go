package queryir

import "fmt"

// TransformOp is a post-aggregation operator.
//
// This is a sealed interface - only types in this package implement it.
type TransformOp interface {
	transformNode()
}

// MathFunc enumerates scalar math applied point-wise.
type MathFunc int

const (
	MathAbs MathFunc = iota
	MathCeil
	MathFloor
	MathRound
	MathSqrt
	MathLog
	MathExp
	MathPow
	MathScale
	MathShift
)

var mathFuncNames = [...]string{
	MathAbs:   "abs",
	MathCeil:  "ceil",
	MathFloor: "floor",
	MathRound: "round",
	MathSqrt:  "sqrt",
	MathLog:   "log",
	MathExp:   "exp",
	MathPow:   "pow",
	MathScale: "scale",
	MathShift: "shift",
}

func (f MathFunc) String() string {
	if int(f) >= 0 && int(f) < len(mathFuncNames) {
		return mathFuncNames[f]
	}
	return fmt.Sprintf("MathFunc(%d)", int(f))
}

// Math applies Func point-wise. Arg meaning depends on Func:
//   - Round: decimal digits (nil rounds to integer)
//   - Log: base (nil is the natural logarithm)
//   - Pow: exponent
//   - Scale: multiplier
//   - Shift: addend
type Math struct {
	Func MathFunc
	Arg  *float64
}

// Derivative is the rate of change per UnitMs (0 means per second).
type Derivative struct {
	UnitMs      int64
	NonNegative bool
}

// Difference is the delta between consecutive points.
type Difference struct {
	NonNegative bool
}

// MovingAverage averages the trailing Points values.
type MovingAverage struct {
	Points int64
}

// CumulativeSum is the running total.
type CumulativeSum struct{}

// Elapsed is the time between consecutive points in UnitMs.
type Elapsed struct {
	UnitMs int64
}

// LabelReplace rewrites label Dst from Src matched against Regex.
type LabelReplace struct {
	Dst         string
	Replacement string
	Src         string
	Regex       string
}

// LabelJoin joins Src label values with Separator into Dst.
type LabelJoin struct {
	Dst       string
	Separator string
	Src       []string
}

// DataType is the target of a Cast.
type DataType string

const (
	TypeInt       DataType = "int"
	TypeFloat     DataType = "float"
	TypeString    DataType = "string"
	TypeBool      DataType = "bool"
	TypeTimestamp DataType = "timestamp"
)

// Cast converts values to Type.
type Cast struct {
	Type DataType
}

// CustomTransform is a dialect function with no canonical mapping.
type CustomTransform struct {
	Name string
	Args []Value
}

func (Math) transformNode()            {}
func (Derivative) transformNode()      {}
func (Difference) transformNode()      {}
func (MovingAverage) transformNode()   {}
func (CumulativeSum) transformNode()   {}
func (Elapsed) transformNode()         {}
func (LabelReplace) transformNode()    {}
func (LabelJoin) transformNode()       {}
func (Cast) transformNode()            {}
func (CustomTransform) transformNode() {}

// MathOf returns a Math transform with an argument.
func MathOf(fn MathFunc, arg float64) Math {
	return Math{Func: fn, Arg: &arg}
}

// Transformation applies Op to Column (empty means the preceding result).
type Transformation struct {
	Op     TransformOp
	Column string
	Alias  string
}

// TransformName returns a short name for op, used in diagnostics.
func TransformName(op TransformOp) string {
	switch t := op.(type) {
	case Math:
		return t.Func.String()
	case Derivative:
		if t.NonNegative {
			return "non_negative_derivative"
		}
		return "derivative"
	case Difference:
		if t.NonNegative {
			return "non_negative_difference"
		}
		return "difference"
	case MovingAverage:
		return "moving_average"
	case CumulativeSum:
		return "cumulative_sum"
	case Elapsed:
		return "elapsed"
	case LabelReplace:
		return "label_replace"
	case LabelJoin:
		return "label_join"
	case Cast:
		return "cast"
	case CustomTransform:
		return t.Name
	default:
		return fmt.Sprintf("%T", op)
	}
}
