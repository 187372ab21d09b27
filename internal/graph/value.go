package graph

import (
	"fmt"
	"math"
	"strconv"
)

// DataType identifies the kind of a property value.
type DataType uint8

const (
	TypeBool DataType = iota + 1
	TypeString
	TypeInt
	TypeFloat
)

// String returns the lower-case data type name.
func (t DataType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(t))
	}
}

// ParseDataType converts a data type name to a DataType.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "bool", "boolean":
		return TypeBool, nil
	case "string":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "float", "double":
		return TypeFloat, nil
	default:
		return 0, fmt.Errorf("%w: unknown data type %q", ErrInvalidArgument, s)
	}
}

// Value is a typed property value. The zero Value is invalid.
type Value struct {
	kind DataType
	b    bool
	s    string
	i    int32
	f    float64
}

// BoolValue returns a bool Value.
func BoolValue(b bool) Value { return Value{kind: TypeBool, b: b} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: TypeString, s: s} }

// IntValue returns a 32-bit integer Value.
func IntValue(i int32) Value { return Value{kind: TypeInt, i: i} }

// FloatValue returns a float Value.
func FloatValue(f float64) Value { return Value{kind: TypeFloat, f: f} }

// Kind returns the data type of v.
func (v Value) Kind() DataType { return v.kind }

// IsValid reports whether v was built by one of the constructors.
func (v Value) IsValid() bool { return v.kind != 0 }

// Bool returns the bool payload; false for other kinds.
func (v Value) Bool() bool { return v.b }

// Str returns the string payload; empty for other kinds.
func (v Value) Str() string { return v.s }

// Int returns the int payload; 0 for other kinds.
func (v Value) Int() int32 { return v.i }

// Float returns the float payload; 0 for other kinds.
func (v Value) Float() float64 { return v.f }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case TypeBool:
		return v.b
	case TypeString:
		return v.s
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	default:
		return nil
	}
}

// String formats the payload.
func (v Value) String() string {
	switch v.kind {
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return "<invalid>"
	}
}

// Equal reports whether v and o have the same kind and payload.
// Used by equality-only edge filters, so int 1 and float 1.0 differ.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case TypeBool:
		return v.b == o.b
	case TypeString:
		return v.s == o.s
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	default:
		return true
	}
}

// CoerceValue converts a decoded YAML or JSON scalar into a Value.
func CoerceValue(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case int:
		return intValue(int64(t))
	case int32:
		return IntValue(t), nil
	case int64:
		return intValue(t)
	case uint64:
		if t > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: integer %d overflows int32", ErrInvalidArgument, t)
		}
		return IntValue(int32(t)), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported property value %T", ErrInvalidArgument, x)
	}
}

// ConvertNumber converts a numeric v to dt. Ints widen to floats; floats
// with an integral value in int32 range narrow to ints. Anything else is
// returned unchanged.
func ConvertNumber(v Value, dt DataType) Value {
	switch {
	case v.kind == TypeInt && dt == TypeFloat:
		return FloatValue(float64(v.i))
	case v.kind == TypeFloat && dt == TypeInt && v.f == math.Trunc(v.f) &&
		v.f >= math.MinInt32 && v.f <= math.MaxInt32:
		return IntValue(int32(v.f))
	default:
		return v
	}
}

func intValue(n int64) (Value, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return Value{}, fmt.Errorf("%w: integer %d overflows int32", ErrInvalidArgument, n)
	}
	return IntValue(int32(n)), nil
}

// ComparisonOperator is one of the six comparison operators.
type ComparisonOperator uint8

const (
	OpEqual ComparisonOperator = iota + 1
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

// String returns the operator symbol.
func (op ComparisonOperator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// ParseOperator converts an operator symbol to a ComparisonOperator.
func ParseOperator(s string) (ComparisonOperator, error) {
	switch s {
	case "=", "==":
		return OpEqual, nil
	case "!=", "<>":
		return OpNotEqual, nil
	case "<":
		return OpLess, nil
	case "<=":
		return OpLessOrEqual, nil
	case ">":
		return OpGreater, nil
	case ">=":
		return OpGreaterOrEqual, nil
	default:
		return 0, fmt.Errorf("%w: unknown comparison operator %q", ErrInvalidArgument, s)
	}
}

// Ordering reports whether op needs an ordered domain.
func (op ComparisonOperator) Ordering() bool {
	return op == OpLess || op == OpLessOrEqual || op == OpGreater || op == OpGreaterOrEqual
}

// Compare evaluates "a op b".
//
// Bools and strings support only = and !=. An int compared with a float is
// promoted to float64. Any other mixed pair fails with ErrTypeMismatch.
func Compare(a, b Value, op ComparisonOperator) (bool, error) {
	if op < OpEqual || op > OpGreaterOrEqual {
		return false, fmt.Errorf("%w: unknown comparison operator %d", ErrInvalidArgument, op)
	}
	switch {
	case a.kind == TypeBool && b.kind == TypeBool:
		if op.Ordering() {
			return false, fmt.Errorf("%w: operator %s on bool", ErrTypeMismatch, op)
		}
		return (a.b == b.b) == (op == OpEqual), nil
	case a.kind == TypeString && b.kind == TypeString:
		if op.Ordering() {
			return false, fmt.Errorf("%w: operator %s on string", ErrTypeMismatch, op)
		}
		return (a.s == b.s) == (op == OpEqual), nil
	case a.kind == TypeInt && b.kind == TypeInt:
		return compareOrdered(a.i, b.i, op), nil
	case a.kind == TypeFloat && b.kind == TypeFloat:
		return compareOrdered(a.f, b.f, op), nil
	case a.kind == TypeInt && b.kind == TypeFloat:
		return compareOrdered(float64(a.i), b.f, op), nil
	case a.kind == TypeFloat && b.kind == TypeInt:
		return compareOrdered(a.f, float64(b.i), op), nil
	default:
		return false, fmt.Errorf("%w: cannot compare %s with %s", ErrTypeMismatch, a.kind, b.kind)
	}
}

func compareOrdered[T int32 | float64](a, b T, op ComparisonOperator) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpLess:
		return a < b
	case OpLessOrEqual:
		return a <= b
	case OpGreater:
		return a > b
	default:
		return a >= b
	}
}
