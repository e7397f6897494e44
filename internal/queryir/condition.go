package queryir

import (
	"fmt"
	"strings"
)

// Condition is a filter predicate.
//
// This is a sealed interface - only types in this package implement it.
//
// Condition types:
//   - Comparison: column <op> value
//   - Regex: column =~ /pattern/ (or !~ when Negated)
//   - In: column IN (values...)
//   - Between: column BETWEEN low AND high
//   - IsNull: column IS NULL
//   - And, Or: n-ary conjunction/disjunction
//   - Not: negation
type Condition interface {
	conditionNode()
	String() string
}

// CompareOp is a binary comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpLike
	OpNotLike
)

var compareOpSymbols = [...]string{
	OpEq:      "==",
	OpNotEq:   "!=",
	OpLt:      "<",
	OpLtEq:    "<=",
	OpGt:      ">",
	OpGtEq:    ">=",
	OpLike:    "LIKE",
	OpNotLike: "NOT LIKE",
}

// String returns the canonical symbol. Equality is "==" regardless of the
// spelling the source dialect used.
func (op CompareOp) String() string {
	if int(op) < len(compareOpSymbols) {
		return compareOpSymbols[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// Negate returns the operator with inverted truth, e.g. < becomes >=.
func (op CompareOp) Negate() CompareOp {
	switch op {
	case OpEq:
		return OpNotEq
	case OpNotEq:
		return OpEq
	case OpLt:
		return OpGtEq
	case OpLtEq:
		return OpGt
	case OpGt:
		return OpLtEq
	case OpGtEq:
		return OpLt
	case OpLike:
		return OpNotLike
	default:
		return OpLike
	}
}

// Flip returns the operator for swapped operands, e.g. 5 < x becomes x > 5.
func (op CompareOp) Flip() CompareOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLtEq:
		return OpGtEq
	case OpGt:
		return OpLt
	case OpGtEq:
		return OpLtEq
	default:
		return op
	}
}

// Comparison is column <op> value.
type Comparison struct {
	Column string
	Op     CompareOp
	Value  Value
}

// Regex is a regular-expression match on a column. Pattern is stored
// without delimiters.
type Regex struct {
	Column  string
	Pattern string
	Negated bool
}

// In is a set-membership test.
type In struct {
	Column  string
	Values  []Value
	Negated bool
}

// Between is an inclusive range test.
type Between struct {
	Column  string
	Low     Value
	High    Value
	Negated bool
}

// IsNull tests for a missing value (IS NOT NULL when Negated).
type IsNull struct {
	Column  string
	Negated bool
}

// And is satisfied when every condition is.
type And struct {
	Conditions []Condition
}

// Or is satisfied when any condition is.
type Or struct {
	Conditions []Condition
}

// Not inverts a condition.
type Not struct {
	Condition Condition
}

func (Comparison) conditionNode() {}
func (Regex) conditionNode()      {}
func (In) conditionNode()         {}
func (Between) conditionNode()    {}
func (IsNull) conditionNode()     {}
func (And) conditionNode()        {}
func (Or) conditionNode()         {}
func (Not) conditionNode()        {}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Op, valueString(c.Value))
}

func (c Regex) String() string {
	op := "=~"
	if c.Negated {
		op = "!~"
	}
	return fmt.Sprintf("%s %s /%s/", c.Column, op, c.Pattern)
}

func (c In) String() string {
	op := "IN"
	if c.Negated {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s %s", c.Column, op, ListValue(c.Values).String())
}

func (c Between) String() string {
	op := "BETWEEN"
	if c.Negated {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s %s AND %s", c.Column, op, valueString(c.Low), valueString(c.High))
}

func (c IsNull) String() string {
	if c.Negated {
		return c.Column + " IS NOT NULL"
	}
	return c.Column + " IS NULL"
}

func (c And) String() string { return joinConditions(c.Conditions, " AND ") }

func (c Or) String() string { return joinConditions(c.Conditions, " OR ") }

func (c Not) String() string {
	if c.Condition == nil {
		return "NOT ()"
	}
	return "NOT (" + c.Condition.String() + ")"
}

func joinConditions(conds []Condition, sep string) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			continue
		}
		parts = append(parts, "("+c.String()+")")
	}
	return strings.Join(parts, sep)
}

func valueString(v Value) string {
	if v == nil {
		return "null"
	}
	return v.String()
}

// Filter wraps one top-level conjunct of a query's predicate.
type Filter struct {
	Condition Condition
}

// Eq is shorthand for an equality filter on a string value.
func Eq(column, value string) Filter {
	return Filter{Condition: Comparison{Column: column, Op: OpEq, Value: StringValue(value)}}
}

// Columns returns every column referenced by c, in first-seen order.
func Columns(c Condition) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Condition)
	add := func(col string) {
		if col != "" && !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	walk = func(c Condition) {
		switch cond := c.(type) {
		case Comparison:
			add(cond.Column)
		case Regex:
			add(cond.Column)
		case In:
			add(cond.Column)
		case Between:
			add(cond.Column)
		case IsNull:
			add(cond.Column)
		case And:
			for _, sub := range cond.Conditions {
				walk(sub)
			}
		case Or:
			for _, sub := range cond.Conditions {
				walk(sub)
			}
		case Not:
			walk(cond.Condition)
		}
	}
	walk(c)
	return out
}
