// Package adapt turns domain methods of several natural shapes into the
// single shape the host binding dispatches: (host, receiver, args).
//
// The shape of a method is declared once, at registration, with a Shape
// descriptor. Bind checks the function against the descriptor and builds
// the dispatch closure up front, so a call does no reflection.
package adapt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/value"
)

// Shape describes how a method wants to be called.
type Shape struct {
	// NeedsContext methods receive the Host as their first parameter.
	NeedsContext bool
	// MutableReceiver methods run under the receiver's write lock; others
	// under its read lock. Only applies to receivers implementing RWLocker.
	MutableReceiver bool
	// Async methods return a Task and take a trailing callback argument.
	Async bool
}

func (s Shape) String() string {
	return fmt.Sprintf("{ctx:%t mut:%t async:%t}", s.NeedsContext, s.MutableReceiver, s.Async)
}

// Host is the host context handed to methods that ask for it.
type Host interface {
	// Submit runs task on a worker and later invokes cb on the host
	// goroutine with its result.
	Submit(cb value.Value, task Task) error
	// Settle invokes cb inline with an already known result.
	Settle(cb value.Value, result any, err error)
	// Handle exposes a Go object to the host and returns its reference.
	Handle(obj any) value.Value
	// Drop removes a Go object from the host's reference table.
	Drop(obj any)
	// Context is the context of the current run, for sync methods that
	// touch storage.
	Context() context.Context
	Logger() *slog.Logger
}

// RWLocker is implemented by receivers that want the adapter to take
// their lock around sync calls.
type RWLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Task is the deferred body of an async method.
type Task struct {
	run   func(ctx context.Context) (any, error)
	ready bool
	val   any
	err   error
}

// Defer returns a Task that runs fn on a worker.
func Defer(fn func(ctx context.Context) (any, error)) Task {
	return Task{run: fn}
}

// Ready returns a Task whose result is already known. It is settled inline
// without starting a worker.
func Ready(v any, err error) Task {
	return Task{ready: true, val: v, err: err}
}

// IsReady reports whether the result is already known.
func (t Task) IsReady() bool { return t.ready }

// Run executes the task body.
func (t Task) Run(ctx context.Context) (any, error) {
	if t.ready {
		return t.val, t.err
	}
	if t.run == nil {
		return nil, nil
	}
	return t.run(ctx)
}

// Method is a bound, uniformly callable method.
type Method struct {
	Name  string
	Shape Shape
	call  func(h Host, recv any, args Args) (value.Value, error)
}

// Call invokes the method. Async methods return nil once their task has
// been accepted; the result reaches the trailing callback later.
func (m Method) Call(h Host, recv any, args Args) (value.Value, error) {
	return m.call(h, recv, args)
}

type (
	invoker     func(h Host, recv any, args Args) (value.Value, error)
	taskInvoker func(h Host, recv any, args Args) (Task, error)
)

// Bind wraps fn, whose receiver type is T, as a Method with the given
// shape. fn must be one of:
//
//	func(T, Args) (value.Value, error)
//	func(Host, T, Args) (value.Value, error)
//	func(Args) (value.Value, error)
//	func(Host, Args) (value.Value, error)
//	func(T, Args) (Task, error)
//	func(Host, T, Args) (Task, error)
//	func(Args) (Task, error)
//	func(Host, Args) (Task, error)
//
// and must agree with shape.
func Bind[T any](name string, shape Shape, fn any) (Method, error) {
	if name == "" {
		return Method{}, fmt.Errorf("method name cannot be empty")
	}

	var (
		needsCtx, async, hasRecv bool
		inv                      invoker
		tinv                     taskInvoker
	)
	switch f := fn.(type) {
	case func(T, Args) (value.Value, error):
		hasRecv = true
		inv = func(_ Host, r any, a Args) (value.Value, error) {
			t, err := receiver[T](r)
			if err != nil {
				return value.Nil(), err
			}
			return f(t, a)
		}
	case func(Host, T, Args) (value.Value, error):
		hasRecv, needsCtx = true, true
		inv = func(h Host, r any, a Args) (value.Value, error) {
			t, err := receiver[T](r)
			if err != nil {
				return value.Nil(), err
			}
			return f(h, t, a)
		}
	case func(Args) (value.Value, error):
		inv = func(_ Host, _ any, a Args) (value.Value, error) { return f(a) }
	case func(Host, Args) (value.Value, error):
		needsCtx = true
		inv = func(h Host, _ any, a Args) (value.Value, error) { return f(h, a) }
	case func(T, Args) (Task, error):
		hasRecv, async = true, true
		tinv = func(_ Host, r any, a Args) (Task, error) {
			t, err := receiver[T](r)
			if err != nil {
				return Task{}, err
			}
			return f(t, a)
		}
	case func(Host, T, Args) (Task, error):
		hasRecv, needsCtx, async = true, true, true
		tinv = func(h Host, r any, a Args) (Task, error) {
			t, err := receiver[T](r)
			if err != nil {
				return Task{}, err
			}
			return f(h, t, a)
		}
	case func(Args) (Task, error):
		async = true
		tinv = func(_ Host, _ any, a Args) (Task, error) { return f(a) }
	case func(Host, Args) (Task, error):
		needsCtx, async = true, true
		tinv = func(h Host, _ any, a Args) (Task, error) { return f(h, a) }
	default:
		return Method{}, fmt.Errorf("method %q: unsupported function type %T", name, fn)
	}

	if needsCtx != shape.NeedsContext || async != shape.Async {
		return Method{}, fmt.Errorf("method %q: function type %T does not match shape %s", name, fn, shape)
	}
	if shape.MutableReceiver && !hasRecv {
		return Method{}, fmt.Errorf("method %q: mutable receiver declared for a receiverless function", name)
	}

	m := Method{Name: name, Shape: shape}
	if async {
		m.call = asyncCall(tinv)
	} else {
		m.call = lockedCall(inv, shape.MutableReceiver)
	}
	return m, nil
}

func receiver[T any](r any) (T, error) {
	t, ok := r.(T)
	if !ok {
		var zero T
		return zero, core.NewConversionError(core.UnsupportedType, fmt.Sprintf("receiver %T, expected %T", r, zero))
	}
	return t, nil
}

func lockedCall(inv invoker, mutable bool) invoker {
	return func(h Host, r any, a Args) (value.Value, error) {
		if l, ok := r.(RWLocker); ok {
			if mutable {
				l.Lock()
				defer l.Unlock()
			} else {
				l.RLock()
				defer l.RUnlock()
			}
		}
		return inv(h, r, a)
	}
}

// asyncCall splits off the trailing callback, runs the prepare phase
// synchronously and hands the resulting task to the host.
func asyncCall(tinv taskInvoker) invoker {
	return func(h Host, r any, a Args) (value.Value, error) {
		n := a.Len()
		if n == 0 {
			return value.Nil(), core.NewConversionError(core.UnsupportedType, "missing callback, expected function")
		}
		cb, err := a.Callback(n - 1)
		if err != nil {
			return value.Nil(), err
		}
		task, err := tinv(h, r, a[:n-1])
		if err != nil {
			return value.Nil(), err
		}
		if task.IsReady() {
			v, err := task.Run(context.Background())
			h.Settle(cb, v, err)
			return value.Nil(), nil
		}
		if err := h.Submit(cb, task); err != nil {
			return value.Nil(), err
		}
		return value.Nil(), nil
	}
}
