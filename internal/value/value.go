// Package value implements the dynamic runtime Value the constraint
// checker and planner exchange: a tagged union over the SQL types the
// engine supports, with comparison and arithmetic dispatching on the tag
// and returning Null on a type mismatch instead of panicking.
package value

import (
	"bytes"
	"fmt"
	"time"

	"novadb/internal/coreerr"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindText
	KindBytes
	KindTime
)

// Value is a tagged union over the runtime SQL value domain.
type Value struct {
	Kind  Kind
	I64   int64
	F64   float64
	Bool  bool
	Str   string
	Bytes []byte
	Time  time.Time
}

func Null() Value              { return Value{Kind: KindNull} }
func Int64(v int64) Value      { return Value{Kind: KindInt64, I64: v} }
func Float64(v float64) Value  { return Value{Kind: KindFloat64, F64: v} }
func Bool(v bool) Value        { return Value{Kind: KindBool, Bool: v} }
func Text(v string) Value      { return Value{Kind: KindText, Str: v} }
func Bytes(v []byte) Value     { return Value{Kind: KindBytes, Bytes: v} }
func Time(v time.Time) Value   { return Value{Kind: KindTime, Time: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt64:
		return fmt.Sprintf("%d", v.I64)
	case KindFloat64:
		return fmt.Sprintf("%g", v.F64)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindText:
		return v.Str
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case KindTime:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return "?"
	}
}

// asFloat coerces numeric kinds to float64 for mixed int/float arithmetic.
func (v Value) asFloat() (float64, bool) {
	switch v.Kind {
	case KindInt64:
		return float64(v.I64), true
	case KindFloat64:
		return v.F64, true
	default:
		return 0, false
	}
}

// Add dispatches on tag; Null propagates on any mismatch rather than
// panicking, per the dynamic-value design note.
func Add(a, b Value) Value {
	if a.Kind == KindNull || b.Kind == KindNull {
		return Null()
	}
	if a.Kind == KindInt64 && b.Kind == KindInt64 {
		return Int64(a.I64 + b.I64)
	}
	if af, ok := a.asFloat(); ok {
		if bf, ok := b.asFloat(); ok {
			return Float64(af + bf)
		}
	}
	if a.Kind == KindText && b.Kind == KindText {
		return Text(a.Str + b.Str)
	}
	return Null()
}

func Sub(a, b Value) Value { return arith(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y }) }
func Mul(a, b Value) Value { return arith(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y }) }

func arith(a, b Value, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) Value {
	if a.Kind == KindNull || b.Kind == KindNull {
		return Null()
	}
	if a.Kind == KindInt64 && b.Kind == KindInt64 {
		return Int64(intOp(a.I64, b.I64))
	}
	if af, ok := a.asFloat(); ok {
		if bf, ok := b.asFloat(); ok {
			return Float64(floatOp(af, bf))
		}
	}
	return Null()
}

// Div returns a ConstraintViolation-adjacent error on division by zero,
// per the design note that this is the one arithmetic case that does not
// silently produce Null.
func Div(a, b Value) (Value, error) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return Null(), nil
	}
	if a.Kind == KindInt64 && b.Kind == KindInt64 {
		if b.I64 == 0 {
			return Value{}, fmt.Errorf("division by zero: %w", coreerr.ErrConstraintViolation)
		}
		return Int64(a.I64 / b.I64), nil
	}
	if af, ok := a.asFloat(); ok {
		if bf, ok := b.asFloat(); ok {
			if bf == 0 {
				return Value{}, fmt.Errorf("division by zero: %w", coreerr.ErrConstraintViolation)
			}
			return Float64(af / bf), nil
		}
	}
	return Null(), nil
}

// Compare returns -1/0/1 and ok=false if the two values are not
// comparable (mismatched kinds, or either is Null).
func Compare(a, b Value) (cmp int, ok bool) {
	if a.Kind == KindNull || b.Kind == KindNull || a.Kind != b.Kind {
		return 0, false
	}
	switch a.Kind {
	case KindInt64:
		return cmpInt64(a.I64, b.I64), true
	case KindFloat64:
		return cmpFloat64(a.F64, b.F64), true
	case KindBool:
		return cmpBool(a.Bool, b.Bool), true
	case KindText:
		return cmpText(a.Str, b.Str), true
	case KindTime:
		if a.Time.Before(b.Time) {
			return -1, true
		}
		if a.Time.After(b.Time) {
			return 1, true
		}
		return 0, true
	case KindBytes:
		return bytes.Compare(a.Bytes, b.Bytes), true
	default:
		return 0, false
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func cmpText(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b are comparable and equal.
func Equal(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c == 0
}

// FromAny lifts a raw decoded column value (the Go type record.DecodeRow
// produces: int32, int64, bool, float64, string, []byte, time.Time, or
// nil) into the tagged union, so callers that only hold `any` off the
// heap can still use Compare/Equal instead of Go's own `==`/`!=`, which
// panics on a non-comparable []byte.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case int32:
		return Int64(int64(x))
	case int64:
		return Int64(x)
	case int:
		return Int64(int64(x))
	case float32:
		return Float64(float64(x))
	case float64:
		return Float64(x)
	case bool:
		return Bool(x)
	case string:
		return Text(x)
	case []byte:
		return Bytes(x)
	case time.Time:
		return Time(x)
	default:
		return Null()
	}
}

// EqualAny compares two raw decoded column values via FromAny, the
// panic-safe replacement for `a != b` on values that may be []byte.
func EqualAny(a, b any) bool {
	return Equal(FromAny(a), FromAny(b))
}
