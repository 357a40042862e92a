package adapt

import (
	"fmt"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/value"
)

// Args is the positional argument tuple of a call.
type Args []value.Value

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// At returns argument i, or nil when absent.
func (a Args) At(i int) value.Value {
	if i < 0 || i >= len(a) {
		return value.Nil()
	}
	return a[i]
}

func mismatch(i int, got value.Value, want string) error {
	return core.NewConversionError(core.UnsupportedType, fmt.Sprintf("%s, expected %s", got.Kind(), want)).AtIndex(i)
}

// Int returns argument i as an integer. Integral numbers are accepted.
func (a Args) Int(i int) (int64, error) {
	v := a.At(i)
	if n, ok := v.AsInt(); ok {
		return n, nil
	}
	if f, ok := v.AsNumber(); ok && f == float64(int64(f)) {
		return int64(f), nil
	}
	return 0, mismatch(i, v, "integer")
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	v := a.At(i)
	if s, ok := v.AsString(); ok {
		return s, nil
	}
	return "", mismatch(i, v, "string")
}

// Table returns argument i as a table.
func (a Args) Table(i int) (*value.Table, error) {
	v := a.At(i)
	if t, ok := v.AsTable(); ok {
		return t, nil
	}
	return nil, mismatch(i, v, "table")
}

// List returns the array part of table argument i. A nil or absent
// argument is an empty list.
func (a Args) List(i int) ([]value.Value, error) {
	v := a.At(i)
	if v.IsNil() {
		return nil, nil
	}
	t, ok := v.AsTable()
	if !ok {
		return nil, mismatch(i, v, "table")
	}
	return t.Array, nil
}

// Callback returns argument i, which must be a function.
func (a Args) Callback(i int) (value.Value, error) {
	v := a.At(i)
	if v.Kind() != value.KindFunction {
		return value.Nil(), mismatch(i, v, "function")
	}
	return v, nil
}
