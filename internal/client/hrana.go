package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/cryguy/sqlbridge/internal/value"
)

// Hrana protocol messages exchanged over the WebSocket.

const (
	hranaV3 = "hrana3"
	hranaV2 = "hrana2"
)

type helloMsg struct {
	Type string  `json:"type"`
	JWT  *string `json:"jwt"`
}

type requestMsg struct {
	Type      string `json:"type"`
	RequestID int64  `json:"request_id"`
	Request   any    `json:"request"`
}

type serverMsg struct {
	Type      string          `json:"type"`
	RequestID int64           `json:"request_id,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *wireError) Error() string {
	if e.Code != "" {
		return e.Message + " (" + e.Code + ")"
	}
	return e.Message
}

type openStreamReq struct {
	Type     string `json:"type"`
	StreamID int32  `json:"stream_id"`
}

type closeStreamReq struct {
	Type     string `json:"type"`
	StreamID int32  `json:"stream_id"`
}

type wireStmt struct {
	SQL      string      `json:"sql"`
	Args     []wireValue `json:"args"`
	WantRows bool        `json:"want_rows"`
}

type executeReq struct {
	Type     string   `json:"type"`
	StreamID int32    `json:"stream_id"`
	Stmt     wireStmt `json:"stmt"`
}

type sequenceReq struct {
	Type     string `json:"type"`
	StreamID int32  `json:"stream_id"`
	SQL      string `json:"sql"`
}

type getAutocommitReq struct {
	Type     string `json:"type"`
	StreamID int32  `json:"stream_id"`
}

type wireCol struct {
	Name     *string `json:"name"`
	Decltype *string `json:"decltype"`
}

type stmtResult struct {
	Cols             []wireCol     `json:"cols"`
	Rows             [][]wireValue `json:"rows"`
	AffectedRowCount uint64        `json:"affected_row_count"`
	LastInsertRowid  *string       `json:"last_insert_rowid"`
}

type executeResp struct {
	Type   string     `json:"type"`
	Result stmtResult `json:"result"`
}

type getAutocommitResp struct {
	Type         string `json:"type"`
	IsAutocommit bool   `json:"is_autocommit"`
}

// wireValue is the tagged value encoding. Integers travel as decimal
// strings so no precision is lost in JSON numbers.
type wireValue struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Base64 string          `json:"base64,omitempty"`
}

func encodeValue(t value.Typed) wireValue {
	switch t.Kind {
	case value.TypedInteger:
		raw, _ := json.Marshal(strconv.FormatInt(t.Integer, 10))
		return wireValue{Type: "integer", Value: raw}
	case value.TypedReal:
		raw, _ := json.Marshal(t.Real)
		return wireValue{Type: "float", Value: raw}
	case value.TypedText:
		raw, _ := json.Marshal(t.Text)
		return wireValue{Type: "text", Value: raw}
	case value.TypedBlob:
		return wireValue{Type: "blob", Base64: base64.StdEncoding.EncodeToString(t.Blob)}
	}
	return wireValue{Type: "null"}
}

func encodeValues(ts []value.Typed) []wireValue {
	out := make([]wireValue, len(ts))
	for i, t := range ts {
		out[i] = encodeValue(t)
	}
	return out
}

func decodeValue(w wireValue) (value.Typed, error) {
	switch w.Type {
	case "null":
		return value.Null(), nil
	case "integer":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return value.Typed{}, fmt.Errorf("decoding integer: %w", err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value.Typed{}, fmt.Errorf("decoding integer: %w", err)
		}
		return value.Integer(i), nil
	case "float":
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return value.Typed{}, fmt.Errorf("decoding float: %w", err)
		}
		return value.Real(f), nil
	case "text":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return value.Typed{}, fmt.Errorf("decoding text: %w", err)
		}
		return value.Text(s), nil
	case "blob":
		b, err := base64.StdEncoding.DecodeString(w.Base64)
		if err != nil {
			return value.Typed{}, fmt.Errorf("decoding blob: %w", err)
		}
		return value.Blob(b), nil
	}
	return value.Typed{}, fmt.Errorf("unknown value type %q", w.Type)
}

// websocketURL maps a libsql/http(s)/ws(s) URL to the WebSocket endpoint.
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	switch u.Scheme {
	case "libsql", "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}
