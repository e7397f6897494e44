package queryir

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Value is a literal operand in a filter, window fill, or function argument.
//
// This is a sealed interface - only types in this package implement it.
// Timestamps and durations are stored in milliseconds, never as
// dialect-native literals.
type Value interface {
	valueNode()
	// String renders the value for diagnostics. It is not a dialect literal.
	String() string
}

// NullValue is SQL NULL / an absent value.
type NullValue struct{}

// BoolValue is a boolean literal.
type BoolValue bool

// IntValue is a signed integer literal.
type IntValue int64

// UIntValue is an unsigned integer literal.
type UIntValue uint64

// FloatValue is a floating point literal.
type FloatValue float64

// StringValue is a string literal (unquoted contents).
type StringValue string

// TimestampValue is an absolute instant in Unix milliseconds.
type TimestampValue int64

// DurationValue is a span in milliseconds.
type DurationValue int64

// BytesValue is a binary literal.
type BytesValue []byte

// ListValue is an ordered list of values, e.g. the right side of IN.
type ListValue []Value

func (NullValue) valueNode()      {}
func (BoolValue) valueNode()      {}
func (IntValue) valueNode()       {}
func (UIntValue) valueNode()      {}
func (FloatValue) valueNode()     {}
func (StringValue) valueNode()    {}
func (TimestampValue) valueNode() {}
func (DurationValue) valueNode()  {}
func (BytesValue) valueNode()     {}
func (ListValue) valueNode()      {}

func (NullValue) String() string { return "null" }

func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

func (v UIntValue) String() string { return strconv.FormatUint(uint64(v), 10) }

func (v FloatValue) String() string { return FormatFloat(float64(v)) }

func (v StringValue) String() string { return strconv.Quote(string(v)) }

func (v TimestampValue) String() string {
	return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339Nano)
}

func (v DurationValue) String() string {
	return (time.Duration(v) * time.Millisecond).String()
}

func (v BytesValue) String() string { return "0x" + hex.EncodeToString(v) }

func (v ListValue) String() string {
	parts := make([]string, len(v))
	for i, elem := range v {
		parts[i] = elem.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatFloat renders f in the shortest form that round-trips.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NumberOf returns the numeric value of v and whether v is numeric.
func NumberOf(v Value) (float64, bool) {
	switch val := v.(type) {
	case IntValue:
		return float64(val), true
	case UIntValue:
		return float64(val), true
	case FloatValue:
		return float64(val), true
	case DurationValue:
		return float64(val), true
	case TimestampValue:
		return float64(val), true
	default:
		return 0, false
	}
}

// ParseNumber turns a numeric literal into an IntValue when it is integral
// and a FloatValue otherwise. ok is false for non-numeric text.
func ParseNumber(text string) (Value, bool) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return IntValue(i), true
	}
	if u, err := strconv.ParseUint(text, 10, 64); err == nil {
		return UIntValue(u), true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return FloatValue(f), true
	}
	return nil, false
}
