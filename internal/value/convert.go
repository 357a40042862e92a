package value

import (
	"math"
	"unicode/utf8"

	"github.com/cryguy/sqlbridge/internal/core"
)

// ToTyped converts a host value into a database value.
//
// Booleans are stored as integers 1 and 0. Numbers must be finite and
// strings must be valid UTF-8. Tables, functions, userdata, threads and
// error values have no database representation.
func ToTyped(v Value) (Typed, error) {
	switch v.kind {
	case KindNil:
		return Null(), nil
	case KindBoolean:
		if v.b {
			return Integer(1), nil
		}
		return Integer(0), nil
	case KindInteger:
		return Integer(v.i), nil
	case KindNumber:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return Typed{}, core.NewConversionError(core.NotFinite, v.kind.String())
		}
		return Real(v.f), nil
	case KindString:
		if !utf8.ValidString(v.s) {
			return Typed{}, core.NewConversionError(core.InvalidEncoding, v.kind.String())
		}
		return Text(v.s), nil
	}
	return Typed{}, core.NewConversionError(core.UnsupportedType, v.kind.String())
}

// ToTypedList converts values in order, stopping at the first failure.
// The returned error records the failing position.
func ToTypedList(vs []Value) ([]Typed, error) {
	out := make([]Typed, 0, len(vs))
	for i, v := range vs {
		t, err := ToTyped(v)
		if err != nil {
			if ce, ok := err.(*core.ConversionError); ok {
				return nil, ce.AtIndex(i)
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// FromTyped converts a database value into a host value. Blobs are not
// representable on the host side.
func FromTyped(t Typed) (Value, error) {
	switch t.Kind {
	case TypedNull:
		return Nil(), nil
	case TypedInteger:
		return Int(t.Integer), nil
	case TypedReal:
		return Number(t.Real), nil
	case TypedText:
		return String(t.Text), nil
	}
	return Value{}, core.NewConversionError(core.UnsupportedType, t.Kind.String())
}
