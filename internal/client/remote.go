package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cryguy/sqlbridge/internal/value"
)

const (
	// maxMessageBytes bounds a single Hrana message (large result sets).
	maxMessageBytes = 64 << 20
	closeTimeout    = 5 * time.Second
)

var errConnClosed = errors.New("remote connection closed")

// remoteDB dials one WebSocket per connection.
type remoteDB struct {
	url    string
	token  string
	logger *slog.Logger

	protocol atomic.Value // string, negotiated by the last Connect
}

var _ Database = (*remoteDB)(nil)

func openRemote(cfg Config, logger *slog.Logger) (*remoteDB, error) {
	u, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	r := &remoteDB{url: u, token: cfg.Token, logger: logger}
	r.protocol.Store(hranaV3)
	return r, nil
}

func (r *remoteDB) Protocol() string { return r.protocol.Load().(string) }

func (r *remoteDB) Sync(context.Context) error { return nil }

func (r *remoteDB) Close() error { return nil }

func (r *remoteDB) Connect(ctx context.Context) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{
		Subprotocols: []string{hranaV3, hranaV2},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", r.url, err)
	}
	ws.SetReadLimit(maxMessageBytes)
	if p := ws.Subprotocol(); p != "" {
		r.protocol.Store(p)
	}

	c := &remoteConn{
		ws:      ws,
		logger:  r.logger,
		pending: make(map[int64]chan serverMsg),
		hello:   make(chan error, 1),
		done:    make(chan struct{}),
		stream:  1,
	}
	go c.readLoop()

	hello := helloMsg{Type: "hello"}
	if r.token != "" {
		hello.JWT = &r.token
	}
	if err := c.write(ctx, hello); err != nil {
		c.shutdown(err)
		return nil, err
	}
	select {
	case err := <-c.hello:
		if err != nil {
			c.shutdown(err)
			return nil, err
		}
	case <-c.done:
		return nil, fmt.Errorf("waiting for hello: %w", c.closedErr())
	case <-ctx.Done():
		c.shutdown(ctx.Err())
		return nil, ctx.Err()
	}

	if _, err := c.request(ctx, openStreamReq{Type: "open_stream", StreamID: c.stream}); err != nil {
		c.shutdown(err)
		return nil, err
	}
	r.logger.Debug("remote stream opened", "url", r.url, "protocol", ws.Subprotocol())
	return c, nil
}

// remoteConn is one WebSocket carrying one Hrana stream.
type remoteConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	stream int32

	wmu    sync.Mutex
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan serverMsg
	err     error
	hello   chan error
	done    chan struct{}
	once    sync.Once
}

var _ Conn = (*remoteConn)(nil)

func (c *remoteConn) write(ctx context.Context, msg any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsjson.Write(ctx, c.ws, msg)
}

// readLoop dispatches server messages to waiting requests by request_id.
func (c *remoteConn) readLoop() {
	for {
		var msg serverMsg
		if err := wsjson.Read(context.Background(), c.ws, &msg); err != nil {
			c.shutdown(fmt.Errorf("%w: %v", errConnClosed, err))
			return
		}
		switch msg.Type {
		case "hello_ok":
			c.helloDone(nil)
		case "hello_error":
			reason := "no reason given"
			if msg.Error != nil {
				reason = msg.Error.Error()
			}
			c.helloDone(fmt.Errorf("authentication failed: %s", reason))
		case "response_ok", "response_error":
			c.mu.Lock()
			ch, ok := c.pending[msg.RequestID]
			delete(c.pending, msg.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			} else {
				c.logger.Warn("response for unknown request", "request_id", msg.RequestID)
			}
		default:
			c.logger.Warn("unexpected server message", "type", msg.Type)
		}
	}
}

func (c *remoteConn) helloDone(err error) {
	select {
	case c.hello <- err:
	default:
	}
}

// shutdown fails every pending request and closes the socket.
func (c *remoteConn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
		c.ws.CloseNow()
	})
}

// closedErr is the error the connection was shut down with.
func (c *remoteConn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errConnClosed
	}
	return c.err
}

func (c *remoteConn) request(ctx context.Context, req any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan serverMsg, 1)

	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(ctx, requestMsg{Type: "request", RequestID: id, Request: req}); err != nil {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Type == "response_error" {
			if msg.Error == nil {
				return nil, errors.New("server returned an error without a message")
			}
			return nil, msg.Error
		}
		return msg.Response, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *remoteConn) execute(ctx context.Context, sql string, args []value.Typed, wantRows bool) (*stmtResult, error) {
	raw, err := c.request(ctx, executeReq{
		Type:     "execute",
		StreamID: c.stream,
		Stmt:     wireStmt{SQL: sql, Args: encodeValues(args), WantRows: wantRows},
	})
	if err != nil {
		return nil, err
	}
	var resp executeResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding execute response: %w", err)
	}
	return &resp.Result, nil
}

func (c *remoteConn) Execute(ctx context.Context, sql string, args []value.Typed) (uint64, error) {
	res, err := c.execute(ctx, sql, args, false)
	if err != nil {
		return 0, err
	}
	return res.AffectedRowCount, nil
}

func (c *remoteConn) Query(ctx context.Context, sql string, args []value.Typed) (Rows, error) {
	res, err := c.execute(ctx, sql, args, true)
	if err != nil {
		return nil, err
	}
	return &remoteRows{cols: res.Cols, rows: res.Rows}, nil
}

func (c *remoteConn) ExecuteBatch(ctx context.Context, sql string) error {
	_, err := c.request(ctx, sequenceReq{Type: "sequence", StreamID: c.stream, SQL: sql})
	return err
}

func (c *remoteConn) IsAutocommit(ctx context.Context) (bool, error) {
	raw, err := c.request(ctx, getAutocommitReq{Type: "get_autocommit", StreamID: c.stream})
	if err != nil {
		return false, err
	}
	var resp getAutocommitResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("decoding get_autocommit response: %w", err)
	}
	return resp.IsAutocommit, nil
}

func (c *remoteConn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_, err := c.request(ctx, closeStreamReq{Type: "close_stream", StreamID: c.stream})
	c.ws.Close(websocket.StatusNormalClosure, "")
	c.shutdown(errConnClosed)
	return err
}

// remoteRows iterates a result set the server returned in full.
type remoteRows struct {
	cols []wireCol
	rows [][]wireValue
	pos  int
}

var _ Rows = (*remoteRows)(nil)

func (r *remoteRows) ColumnCount() int { return len(r.cols) }

func (r *remoteRows) ColumnName(i int) (string, bool) {
	if i < 0 || i >= len(r.cols) || r.cols[i].Name == nil {
		return "", false
	}
	return *r.cols[i].Name, true
}

func (r *remoteRows) ColumnType(i int) (value.TypedKind, bool) {
	if i < 0 || i >= len(r.cols) {
		return value.TypedNull, false
	}
	if r.cols[i].Decltype == nil {
		return value.TypedNull, true
	}
	return declaredKind(*r.cols[i].Decltype), true
}

func (r *remoteRows) Next(context.Context) ([]value.Typed, bool, error) {
	if r.pos >= len(r.rows) {
		return nil, false, nil
	}
	wire := r.rows[r.pos]
	r.pos++
	row := make([]value.Typed, len(wire))
	for i, w := range wire {
		t, err := decodeValue(w)
		if err != nil {
			return nil, false, err
		}
		row[i] = t
	}
	return row, true, nil
}

func (r *remoteRows) Close() error {
	r.pos = len(r.rows)
	return nil
}
