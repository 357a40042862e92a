package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/sqlbridge/internal/value"
)

// newHranaServer serves a minimal Hrana endpoint backed by a local memory
// database. An empty token disables authentication.
func newHranaServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	backend := openMemory(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{hranaV3}})
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()
		streams := make(map[int32]Conn)
		defer func() {
			for _, c := range streams {
				c.Close()
			}
		}()

		for {
			var msg struct {
				Type      string          `json:"type"`
				JWT       *string         `json:"jwt"`
				RequestID int64           `json:"request_id"`
				Request   json.RawMessage `json:"request"`
			}
			if err := wsjson.Read(ctx, ws, &msg); err != nil {
				return
			}
			switch msg.Type {
			case "hello":
				if token != "" && (msg.JWT == nil || *msg.JWT != token) {
					_ = wsjson.Write(ctx, ws, serverMsg{Type: "hello_error", Error: &wireError{Message: "bad token"}})
					continue
				}
				_ = wsjson.Write(ctx, ws, serverMsg{Type: "hello_ok"})
			case "request":
				resp, err := serveRequest(ctx, backend, streams, msg.Request)
				if err != nil {
					_ = wsjson.Write(ctx, ws, serverMsg{
						Type:      "response_error",
						RequestID: msg.RequestID,
						Error:     &wireError{Message: err.Error()},
					})
					continue
				}
				raw, _ := json.Marshal(resp)
				_ = wsjson.Write(ctx, ws, serverMsg{Type: "response_ok", RequestID: msg.RequestID, Response: raw})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serveRequest(ctx context.Context, db Database, streams map[int32]Conn, raw json.RawMessage) (any, error) {
	var req struct {
		Type     string   `json:"type"`
		StreamID int32    `json:"stream_id"`
		Stmt     wireStmt `json:"stmt"`
		SQL      string   `json:"sql"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	switch req.Type {
	case "open_stream":
		c, err := db.Connect(ctx)
		if err != nil {
			return nil, err
		}
		streams[req.StreamID] = c
		return map[string]string{"type": "open_stream"}, nil
	case "close_stream":
		if c, ok := streams[req.StreamID]; ok {
			c.Close()
			delete(streams, req.StreamID)
		}
		return map[string]string{"type": "close_stream"}, nil
	}

	c := streams[req.StreamID]
	switch req.Type {
	case "sequence":
		if err := c.ExecuteBatch(ctx, req.SQL); err != nil {
			return nil, err
		}
		return map[string]string{"type": "sequence"}, nil
	case "get_autocommit":
		auto, err := c.IsAutocommit(ctx)
		if err != nil {
			return nil, err
		}
		return getAutocommitResp{Type: "get_autocommit", IsAutocommit: auto}, nil
	case "execute":
		args := make([]value.Typed, len(req.Stmt.Args))
		for i, w := range req.Stmt.Args {
			t, err := decodeValue(w)
			if err != nil {
				return nil, err
			}
			args[i] = t
		}
		if !req.Stmt.WantRows {
			n, err := c.Execute(ctx, req.Stmt.SQL, args)
			if err != nil {
				return nil, err
			}
			return executeResp{Type: "execute", Result: stmtResult{AffectedRowCount: n}}, nil
		}
		rows, err := c.Query(ctx, req.Stmt.SQL, args)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var res stmtResult
		for i := 0; i < rows.ColumnCount(); i++ {
			name, _ := rows.ColumnName(i)
			kind, _ := rows.ColumnType(i)
			col := wireCol{Name: &name}
			if kind != value.TypedNull {
				decl := kind.String()
				col.Decltype = &decl
			}
			res.Cols = append(res.Cols, col)
		}
		for {
			row, ok, err := rows.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			res.Rows = append(res.Rows, encodeValues(row))
		}
		return executeResp{Type: "execute", Result: res}, nil
	}
	return nil, &wireError{Message: "unknown request " + req.Type}
}

func TestRemoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newHranaServer(t, "secret")

	db, err := Open(ctx, Config{Kind: KindRemote, URL: srv.URL, Token: "secret"}, quietLogger())
	require.NoError(t, err)
	defer db.Close()

	conn, err := db.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, hranaV3, db.Protocol())

	_, err = conn.Execute(ctx, "CREATE TABLE t (id INTEGER, label TEXT, score REAL, data BLOB)", nil)
	require.NoError(t, err)

	big := int64(1<<53 + 1)
	n, err := conn.Execute(ctx, "INSERT INTO t VALUES (?, ?, ?, ?)",
		[]value.Typed{value.Integer(big), value.Text("héllo"), value.Real(0.25), value.Blob([]byte{1, 2, 3})})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	rows, err := conn.Query(ctx, "SELECT id, label, score, data, NULL AS nothing FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, rows.ColumnCount())
	name, ok := rows.ColumnName(4)
	assert.True(t, ok)
	assert.Equal(t, "nothing", name)
	kind, ok := rows.ColumnType(0)
	assert.True(t, ok)
	assert.Equal(t, value.TypedInteger, kind)

	row, ok, err := rows.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []value.Typed{
		value.Integer(big), value.Text("héllo"), value.Real(0.25), value.Blob([]byte{1, 2, 3}), value.Null(),
	}, row)

	_, ok, err = rows.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteBatchAndAutocommit(t *testing.T) {
	ctx := context.Background()
	srv := newHranaServer(t, "")
	db, err := Open(ctx, Config{Kind: KindRemote, URL: srv.URL}, quietLogger())
	require.NoError(t, err)
	conn, err := db.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.ExecuteBatch(ctx, "CREATE TABLE a (x); INSERT INTO a VALUES (1);"))
	auto, err := conn.IsAutocommit(ctx)
	require.NoError(t, err)
	assert.True(t, auto)

	_, err = conn.Execute(ctx, "BEGIN", nil)
	require.NoError(t, err)
	auto, err = conn.IsAutocommit(ctx)
	require.NoError(t, err)
	assert.False(t, auto)
}

func TestRemoteServerError(t *testing.T) {
	ctx := context.Background()
	srv := newHranaServer(t, "")
	db, err := Open(ctx, Config{Kind: KindRemote, URL: srv.URL}, quietLogger())
	require.NoError(t, err)
	conn, err := db.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Query(ctx, "SELECT * FROM missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestRemoteBadToken(t *testing.T) {
	ctx := context.Background()
	srv := newHranaServer(t, "secret")
	db, err := Open(ctx, Config{Kind: KindRemote, URL: srv.URL, Token: "wrong"}, quietLogger())
	require.NoError(t, err)

	_, err = db.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestRemoteUseAfterClose(t *testing.T) {
	ctx := context.Background()
	srv := newHranaServer(t, "")
	db, err := Open(ctx, Config{Kind: KindRemote, URL: srv.URL}, quietLogger())
	require.NoError(t, err)
	conn, err := db.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	_, err = conn.Execute(ctx, "SELECT 1", nil)
	assert.Error(t, err)
}

func TestWireValueEncoding(t *testing.T) {
	for _, v := range []value.Typed{
		value.Null(), value.Integer(-9007199254740993), value.Real(1.5), value.Text("x"), value.Blob([]byte("ab")),
	} {
		got, err := decodeValue(encodeValue(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := decodeValue(wireValue{Type: "decimal"})
	assert.Error(t, err)
}

func TestRemoteServerDropsBeforeHello(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{hranaV3}})
		if err != nil {
			return
		}
		var hello json.RawMessage
		_ = wsjson.Read(r.Context(), ws, &hello)
		ws.Close(websocket.StatusGoingAway, "bye")
	}))
	t.Cleanup(srv.Close)

	db, err := Open(context.Background(), Config{Kind: KindRemote, URL: srv.URL}, quietLogger())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := db.Connect(context.Background())
		errc <- err
	}()
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.ErrorIs(t, err, errConnClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return after the server closed the socket")
	}
}
