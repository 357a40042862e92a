// Package host binds the libsql API into a JavaScript runtime.
//
// JS sees a frozen libsql global plus Database, Connection, Cursor and Row
// classes whose methods all funnel into one registered Go function. Async
// methods take a trailing node-style callback, cb(err, value), which runs
// exactly once on the JS goroutine.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cryguy/sqlbridge/internal/adapt"
	"github.com/cryguy/sqlbridge/internal/bridge"
	"github.com/cryguy/sqlbridge/internal/client"
	"github.com/cryguy/sqlbridge/internal/conn"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/cursor"
	"github.com/cryguy/sqlbridge/internal/value"
)

// Host is the binding state of one JS runtime. Apart from Close, its
// methods must be called on the runtime's goroutine.
type Host struct {
	ctx     context.Context
	rt      core.JSRuntime
	bridge  *bridge.Bridge
	logger  *slog.Logger
	tables  *methodTables
	handles *handleTable

	inCall   bool
	inline   []settlement
	uncaught []string
}

var _ adapt.Host = (*Host)(nil)

// New installs the libsql binding into rt. Results of async calls are
// delivered through b's event loop.
func New(ctx context.Context, rt core.JSRuntime, b *bridge.Bridge, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := tables()
	if err != nil {
		return nil, err
	}
	h := &Host{
		ctx:     ctx,
		rt:      rt,
		bridge:  b,
		logger:  logger.With("component", "host"),
		tables:  t,
		handles: newHandleTable(),
	}
	b.OnDiscard(h.reclaim)

	if err := rt.RegisterFunc("__libsql_call", h.call); err != nil {
		return nil, fmt.Errorf("registering __libsql_call: %w", err)
	}
	if err := rt.RegisterFunc("__libsql_uncaught", h.reportUncaught); err != nil {
		return nil, fmt.Errorf("registering __libsql_uncaught: %w", err)
	}
	if err := rt.RegisterFunc("__libsql_release", h.releaseRow); err != nil {
		return nil, fmt.Errorf("registering __libsql_release: %w", err)
	}

	desc := struct {
		Version string              `json:"version"`
		Module  []string            `json:"module"`
		Classes map[string][]string `json:"classes"`
	}{
		Version: client.Version,
		Module:  t.module.Names(),
		Classes: make(map[string][]string, len(t.classes)),
	}
	for name, reg := range t.classes {
		desc.Classes[name] = reg.Names()
	}
	descJSON, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	if err := rt.Eval(glueJS + "(" + string(descJSON) + ");"); err != nil {
		return nil, fmt.Errorf("installing libsql glue: %w", err)
	}
	return h, nil
}

// Context returns the context of the run.
func (h *Host) Context() context.Context { return h.ctx }

// Logger returns the host logger.
func (h *Host) Logger() *slog.Logger { return h.logger }

// Bridge returns the bridge async calls run on.
func (h *Host) Bridge() *bridge.Bridge { return h.bridge }

// Uncaught returns the exceptions thrown by callbacks so far.
func (h *Host) Uncaught() []string { return h.uncaught }

// Handle registers obj and returns its userdata reference. A connection
// also registers its database so it is closed with the host.
func (h *Host) Handle(obj any) value.Value {
	if c, ok := obj.(*conn.Conn); ok {
		h.handles.put(c.Database())
	}
	return value.Userdata(h.handles.put(obj))
}

// Drop forgets obj. Later calls through its handle fail.
func (h *Host) Drop(obj any) { h.handles.drop(obj) }

// Submit runs task on a worker and settles cb with its result.
func (h *Host) Submit(cb value.Value, task adapt.Task) error {
	return bridge.Call[any](h.bridge, bridge.Op[any](task.Run), func(v any, err error) {
		h.deliver(cb, v, err)
	})
}

// Settle delivers a result to cb without a worker. Inside a call the
// callback runs when the call returns to JS; otherwise immediately.
func (h *Host) Settle(cb value.Value, result any, err error) {
	bridge.Settle[any](h.bridge, func(v any, err error) {
		if h.inCall {
			h.inline = append(h.inline, h.settlement(cb, v, err))
			return
		}
		h.deliver(cb, v, err)
	}, result, err)
}

// deliver invokes a parked JS callback. Runs on the JS goroutine.
func (h *Host) deliver(cb value.Value, result any, err error) {
	s := h.settlement(cb, result, err)
	data, merr := json.Marshal(s)
	if merr != nil {
		h.logger.Error("encoding settlement", "err", merr)
		return
	}
	quoted, _ := json.Marshal(string(data))
	if err := h.rt.Eval(fmt.Sprintf("__libsqlSettle(%d, %s);", s.CB, quoted)); err != nil {
		h.logger.Warn("callback delivery failed", "callback", s.CB, "err", err)
	}
}

func (h *Host) settlement(cb value.Value, result any, err error) settlement {
	id, _ := cb.Ref()
	s := settlement{CB: id}
	if err != nil {
		info := core.Describe(err)
		s.Err = &info
		return s
	}
	w := encodeValue(h.toValue(result), h.handles.class)
	s.OK = &w
	return s
}

// toValue turns the result of a task into a host value, registering
// handle objects.
func (h *Host) toValue(result any) value.Value {
	switch r := result.(type) {
	case nil:
		return value.Nil()
	case value.Value:
		return r
	case *conn.Database, *conn.Conn, *cursor.Cursor, *cursor.Row:
		return h.Handle(r)
	case openedConn:
		return h.Handle(r.Conn)
	}
	h.logger.Error("unexpected task result", "type", fmt.Sprintf("%T", result))
	return value.Nil()
}

// releaseRow forgets a row handle whose JS wrapper was collected. Other
// handles can have several wrappers and are kept.
func (h *Host) releaseRow(handle int) {
	obj, err := h.handles.get(int64(handle))
	if err != nil {
		return
	}
	if _, ok := obj.(*cursor.Row); ok {
		h.handles.drop(obj)
	}
}

// reclaim releases a task result that will never reach JS. It runs off
// the JS goroutine and must not touch the handle table.
func (h *Host) reclaim(result any) {
	var err error
	switch r := result.(type) {
	case openedConn:
		err = errors.Join(r.Release(), r.Database().Close())
	case *conn.Conn:
		err = r.Release()
	case *cursor.Cursor:
		err = r.Close()
	case *conn.Database:
		err = r.Close()
	}
	if err != nil {
		h.logger.Debug("releasing discarded result", "type", fmt.Sprintf("%T", result), "err", err)
	}
}

func (h *Host) reportUncaught(msg string) {
	h.logger.Warn("uncaught exception in callback", "err", msg)
	h.uncaught = append(h.uncaught, msg)
}

// call is the single entry point from JS. It never returns a Go error;
// failures travel in the envelope so JS can throw a structured error.
func (h *Host) call(handle int, method, argsJSON string) string {
	h.inCall = true
	h.inline = nil
	defer func() { h.inCall = false }()

	env := envelope{}
	v, err := h.dispatch(int64(handle), method, argsJSON)
	if err != nil {
		info := core.Describe(err)
		env.Err = &info
	} else {
		w := encodeValue(v, h.handles.class)
		env.OK = &w
		env.Settle = h.inline
	}
	h.inline = nil

	data, merr := json.Marshal(env)
	if merr != nil {
		info := core.Describe(merr)
		data, _ = json.Marshal(envelope{Err: &info})
	}
	return string(data)
}

func (h *Host) dispatch(handle int64, method, argsJSON string) (v value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in host method", "method", method, "panic", r)
			err = core.NewBridgeError(core.WorkerPanicked, fmt.Sprintf("%s: %v", method, r))
		}
	}()

	args, err := decodeArgs(argsJSON)
	if err != nil {
		return value.Nil(), err
	}
	if handle == moduleHandle {
		return h.tables.module.Call(h, method, nil, args)
	}
	recv, err := h.handles.get(handle)
	if err != nil {
		return value.Nil(), err
	}
	reg, ok := h.tables.classes[className(recv)]
	if !ok {
		return value.Nil(), fmt.Errorf("handle %d has no methods", handle)
	}
	return reg.Call(h, method, recv, args)
}

// Close stops delivering results and releases every object still
// reachable from JS: cursors, then connections, then databases.
func (h *Host) Close() {
	h.bridge.Close()

	objs := h.handles.objects()
	for _, o := range objs {
		if c, ok := o.(*cursor.Cursor); ok {
			c.Close()
		}
	}
	for _, o := range objs {
		if c, ok := o.(*conn.Conn); ok {
			if err := c.Release(); err != nil {
				h.logger.Debug("releasing connection", "conn_id", c.ID(), "err", err)
			}
		}
	}
	for _, o := range objs {
		if d, ok := o.(*conn.Database); ok {
			if err := d.Close(); err != nil {
				h.logger.Debug("closing database", "err", err)
			}
		}
	}
	if n := h.handles.len(); n > 0 {
		h.logger.Debug("host closed", "handles", n, "discarded", h.bridge.Stats().Discarded)
	}
	h.handles = newHandleTable()
}
