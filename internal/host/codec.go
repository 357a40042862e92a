package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/value"
)

// wireValue is the tagged JSON form values take between the JS glue and
// Go. Integers travel as decimal strings so int64 survives the trip.
type wireValue struct {
	T    string               `json:"t"`
	B    bool                 `json:"b,omitempty"`
	I    string               `json:"i,omitempty"`
	N    *float64             `json:"n,omitempty"`
	NS   string               `json:"ns,omitempty"` // NaN, Infinity, -Infinity
	S    *string              `json:"s,omitempty"`
	U    []uint16             `json:"u,omitempty"` // code units of a string with lone surrogates
	ID   int64                `json:"id,omitempty"`
	Type string               `json:"type,omitempty"`
	A    []wireValue          `json:"a,omitempty"`
	F    map[string]wireValue `json:"f,omitempty"`
	M    string               `json:"m,omitempty"`
}

// envelope is the reply of one __libsql_call.
type envelope struct {
	OK     *wireValue      `json:"ok,omitempty"`
	Err    *core.ErrorInfo `json:"err,omitempty"`
	Settle []settlement    `json:"settle,omitempty"`
}

// settlement is a callback result delivered inline with a call reply.
type settlement struct {
	CB  int64           `json:"cb"`
	OK  *wireValue      `json:"ok,omitempty"`
	Err *core.ErrorInfo `json:"err,omitempty"`
}

func decodeArgs(argsJSON string) ([]value.Value, error) {
	var wire []wireValue
	if err := json.Unmarshal([]byte(argsJSON), &wire); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	out := make([]value.Value, len(wire))
	for i, w := range wire {
		v, err := decodeValue(w)
		if err != nil {
			var ce *core.ConversionError
			if errors.As(err, &ce) {
				return nil, ce.AtIndex(i)
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeValue(w wireValue) (value.Value, error) {
	switch w.T {
	case "nil":
		return value.Nil(), nil
	case "bool":
		return value.Bool(w.B), nil
	case "int":
		i, err := strconv.ParseInt(w.I, 10, 64)
		if err != nil {
			return value.Nil(), core.NewConversionError(core.UnsupportedType, "integer out of int64 range")
		}
		return value.Int(i), nil
	case "num":
		switch w.NS {
		case "NaN":
			return value.Number(math.NaN()), nil
		case "Infinity":
			return value.Number(math.Inf(1)), nil
		case "-Infinity":
			return value.Number(math.Inf(-1)), nil
		}
		if w.N == nil {
			return value.Number(0), nil
		}
		return value.Number(*w.N), nil
	case "str":
		if w.U != nil {
			return value.Bytes(wtf8(w.U)), nil
		}
		if w.S == nil {
			return value.String(""), nil
		}
		return value.String(*w.S), nil
	case "fn":
		return value.Function(w.ID), nil
	case "ud":
		return value.Userdata(w.ID), nil
	case "thread":
		return value.Thread(w.ID), nil
	case "err":
		return value.Error(w.M), nil
	case "tbl":
		t := &value.Table{}
		for _, item := range w.A {
			v, err := decodeValue(item)
			if err != nil {
				return value.Nil(), err
			}
			t.Array = append(t.Array, v)
		}
		if len(w.F) > 0 {
			t.Fields = make(map[string]value.Value, len(w.F))
			for k, item := range w.F {
				v, err := decodeValue(item)
				if err != nil {
					return value.Nil(), err
				}
				t.Fields[k] = v
			}
		}
		return value.NewTable(t), nil
	}
	return value.Nil(), fmt.Errorf("unknown wire tag %q", w.T)
}

// wtf8 encodes UTF-16 code units as generalized UTF-8: surrogate pairs
// become their code point, lone surrogates keep their 3-byte encoding.
// The result is invalid UTF-8 exactly when the input was ill-formed.
func wtf8(units []uint16) []byte {
	out := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if utf16.IsSurrogate(u) && i+1 < len(units) {
			if r := utf16.DecodeRune(u, rune(units[i+1])); r != utf8.RuneError {
				out = utf8.AppendRune(out, r)
				i++
				continue
			}
		}
		if utf16.IsSurrogate(u) {
			out = append(out, byte(0xE0|u>>12), byte(0x80|(u>>6)&0x3F), byte(0x80|u&0x3F))
			continue
		}
		out = utf8.AppendRune(out, u)
	}
	return out
}

// encodeValue converts a host value to its wire form. typeOf names the
// class of a userdata handle.
func encodeValue(v value.Value, typeOf func(id int64) string) wireValue {
	switch v.Kind() {
	case value.KindBoolean:
		b, _ := v.AsBool()
		return wireValue{T: "bool", B: b}
	case value.KindInteger:
		i, _ := v.AsInt()
		return wireValue{T: "int", I: strconv.FormatInt(i, 10)}
	case value.KindNumber:
		f, _ := v.AsNumber()
		switch {
		case math.IsNaN(f):
			return wireValue{T: "num", NS: "NaN"}
		case math.IsInf(f, 1):
			return wireValue{T: "num", NS: "Infinity"}
		case math.IsInf(f, -1):
			return wireValue{T: "num", NS: "-Infinity"}
		}
		return wireValue{T: "num", N: &f}
	case value.KindString:
		s, _ := v.AsString()
		return wireValue{T: "str", S: &s}
	case value.KindUserdata:
		id, _ := v.Ref()
		return wireValue{T: "ud", ID: id, Type: typeOf(id)}
	case value.KindError:
		m, _ := v.ErrorMessage()
		return wireValue{T: "err", M: m}
	case value.KindTable:
		t, _ := v.AsTable()
		w := wireValue{T: "tbl", A: []wireValue{}}
		for _, item := range t.Array {
			w.A = append(w.A, encodeValue(item, typeOf))
		}
		if len(t.Fields) > 0 {
			w.A = nil
			w.F = make(map[string]wireValue, len(t.Fields))
			for k, item := range t.Fields {
				w.F[k] = encodeValue(item, typeOf)
			}
		}
		return w
	}
	return wireValue{T: "nil"}
}
