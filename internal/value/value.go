// Package value converts between the script host's dynamic values and the
// typed values the database client accepts and returns.
package value

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the dynamic type of a host value.
type Kind int

const (
	KindNil Kind = iota
	KindBoolean
	KindInteger
	KindNumber
	KindString
	KindTable
	KindFunction
	KindUserdata
	KindThread
	KindError
)

var kindNames = [...]string{
	KindNil:      "nil",
	KindBoolean:  "boolean",
	KindInteger:  "integer",
	KindNumber:   "number",
	KindString:   "string",
	KindTable:    "table",
	KindFunction: "function",
	KindUserdata: "userdata",
	KindThread:   "thread",
	KindError:    "error",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Table is a host aggregate: an array part and a keyed part.
type Table struct {
	Array  []Value
	Fields map[string]Value
}

// Value is a dynamic host value. The zero Value is nil.
//
// Strings hold raw bytes and may be invalid UTF-8. Function, Userdata and
// Thread values carry only an opaque reference id.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	table *Table
	ref   int64
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Number returns a floating point value.
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }

// String returns a string value holding s as raw bytes.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns a string value holding b, which need not be UTF-8.
func Bytes(b []byte) Value { return Value{kind: KindString, s: string(b)} }

// NewTable returns a table value.
func NewTable(t *Table) Value {
	if t == nil {
		t = &Table{}
	}
	return Value{kind: KindTable, table: t}
}

// List returns a table value with only an array part.
func List(items ...Value) Value { return NewTable(&Table{Array: items}) }

// Function returns a function value referring to host callback ref.
func Function(ref int64) Value { return Value{kind: KindFunction, ref: ref} }

// Userdata returns an opaque host object referring to handle ref.
func Userdata(ref int64) Value { return Value{kind: KindUserdata, ref: ref} }

// Thread returns an opaque coroutine value.
func Thread(ref int64) Value { return Value{kind: KindThread, ref: ref} }

// Error returns a host error value with the given message.
func Error(msg string) Value { return Value{kind: KindError, s: msg} }

// Kind reports the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBoolean }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInteger }

// AsNumber returns the numeric payload, widening integers.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.f, true
	case KindInteger:
		return float64(v.i), true
	}
	return 0, false
}

// AsString returns the raw string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTable returns the table payload.
func (v Value) AsTable() (*Table, bool) { return v.table, v.kind == KindTable }

// Ref returns the reference id of function, userdata and thread values.
func (v Value) Ref() (int64, bool) {
	switch v.kind {
	case KindFunction, KindUserdata, KindThread:
		return v.ref, true
	}
	return 0, false
}

// ErrorMessage returns the message of an error value.
func (v Value) ErrorMessage() (string, bool) { return v.s, v.kind == KindError }

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindNumber:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return fmt.Sprint(v.f)
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindTable:
		return fmt.Sprintf("table(%d, %d)", len(v.table.Array), len(v.table.Fields))
	case KindError:
		return "error(" + strconv.Quote(v.s) + ")"
	}
	return fmt.Sprintf("%s: %d", v.kind, v.ref)
}
