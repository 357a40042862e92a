package value

import (
	"fmt"
	"strconv"
	"time"
)

// TypedKind is the storage class of a database value.
type TypedKind int

const (
	TypedNull TypedKind = iota
	TypedInteger
	TypedReal
	TypedText
	TypedBlob
)

// String returns the column type name reported to scripts.
func (k TypedKind) String() string {
	switch k {
	case TypedNull:
		return "null"
	case TypedInteger:
		return "integer"
	case TypedReal:
		return "real"
	case TypedText:
		return "text"
	case TypedBlob:
		return "blob"
	}
	return "TypedKind(" + strconv.Itoa(int(k)) + ")"
}

// Typed is a value as stored by the database client.
type Typed struct {
	Kind    TypedKind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

// Null returns the typed null.
func Null() Typed { return Typed{Kind: TypedNull} }

// Integer returns a typed integer.
func Integer(i int64) Typed { return Typed{Kind: TypedInteger, Integer: i} }

// Real returns a typed real.
func Real(f float64) Typed { return Typed{Kind: TypedReal, Real: f} }

// Text returns a typed text value.
func Text(s string) Typed { return Typed{Kind: TypedText, Text: s} }

// Blob returns a typed blob.
func Blob(b []byte) Typed { return Typed{Kind: TypedBlob, Blob: b} }

// Driver returns t as a database/sql driver argument.
func (t Typed) Driver() any {
	switch t.Kind {
	case TypedInteger:
		return t.Integer
	case TypedReal:
		return t.Real
	case TypedText:
		return t.Text
	case TypedBlob:
		return t.Blob
	}
	return nil
}

// DriverArgs converts a typed list to database/sql arguments.
func DriverArgs(ts []Typed) []any {
	args := make([]any, len(ts))
	for i, t := range ts {
		args[i] = t.Driver()
	}
	return args
}

// FromDriver converts a value scanned from database/sql.
func FromDriver(v any) (Typed, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case float64:
		return Real(x), nil
	case float32:
		return Real(float64(x)), nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case string:
		return Text(x), nil
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return Blob(b), nil
	case time.Time:
		return Text(x.Format(time.RFC3339Nano)), nil
	}
	return Typed{}, fmt.Errorf("unexpected driver value of type %T", v)
}

func (t Typed) String() string {
	switch t.Kind {
	case TypedNull:
		return "NULL"
	case TypedInteger:
		return strconv.FormatInt(t.Integer, 10)
	case TypedReal:
		return strconv.FormatFloat(t.Real, 'g', -1, 64)
	case TypedText:
		return strconv.Quote(t.Text)
	case TypedBlob:
		return fmt.Sprintf("blob(%d)", len(t.Blob))
	}
	return "?"
}
