// Package bridge runs blocking database operations on worker goroutines
// and delivers each result back to the single host goroutine.
//
// One call owns one Slot and one wake handle. The worker writes the slot
// and then signals the handle; the handle's callback runs on the host
// goroutine, takes the slot and invokes the completion exactly once.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/eventloop"
)

// Op is a blocking operation run on a worker goroutine.
type Op[T any] func(ctx context.Context) (T, error)

// Completion receives the outcome of an Op on the host goroutine.
type Completion[T any] func(T, error)

type outcome[T any] struct {
	val T
	err error
}

// Stats counts bridge activity.
type Stats struct {
	Submitted int64 // workers accepted by the executor
	Settled   int64 // completions run, async or inline
	Discarded int64 // results dropped because the host was gone
}

// Bridge ties an event loop to an executor.
type Bridge struct {
	loop   *eventloop.EventLoop
	exec   Executor
	logger *slog.Logger
	reclaim func(any)

	submitted atomic.Int64
	settled   atomic.Int64
	discarded atomic.Int64
}

// New creates a Bridge delivering into loop and running work on exec.
func New(loop *eventloop.EventLoop, exec Executor, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		loop:   loop,
		exec:   exec,
		logger: logger.With("component", "bridge"),
	}
}

// OnDiscard sets fn to receive every successful result that is dropped
// because the host closed first, so resources it holds can be released.
// fn may run on any goroutine. Set it before the first Call.
func (b *Bridge) OnDiscard(fn func(any)) { b.reclaim = fn }

// Loop returns the event loop results are delivered on.
func (b *Bridge) Loop() *eventloop.EventLoop { return b.loop }

// Stats returns a snapshot of the counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Submitted: b.submitted.Load(),
		Settled:   b.settled.Load(),
		Discarded: b.discarded.Load(),
	}
}

// Close marks the host dead and waits for running workers. Results that
// arrive afterwards are discarded.
func (b *Bridge) Close() {
	b.loop.Close()
	b.exec.Close()
}

// Call starts op on a worker and arranges for cb to run on the host
// goroutine with its outcome. A nil return means the call was accepted and
// cb will run exactly once, unless the host is closed first. A non-nil
// return means nothing was started and cb will not run.
func Call[T any](b *Bridge, op Op[T], cb Completion[T]) error {
	slot := &Slot[outcome[T]]{}
	h, err := b.loop.NewWakeHandle(func() {
		b.settled.Add(1)
		out, err := slot.Take()
		if err != nil {
			var zero T
			cb(zero, err)
			return
		}
		cb(out.val, out.err)
	})
	if err != nil {
		return err
	}
	h.OnDiscard(func() {
		b.discarded.Add(1)
		out, err := slot.Take()
		if err != nil || out.err != nil || b.reclaim == nil {
			return
		}
		b.logger.Debug("result discarded", "type", fmt.Sprintf("%T", out.val))
		b.reclaim(out.val)
	})

	err = b.exec.Go(func(ctx context.Context) {
		if err := slot.Put(run(ctx, op)); err != nil {
			b.logger.Error("slot write rejected", "err", err)
		}
		_ = h.Signal()
	})
	if err != nil {
		h.Release()
		return err
	}
	b.submitted.Add(1)
	return nil
}

// Settle completes a call inline on the host goroutine without a worker.
func Settle[T any](b *Bridge, cb Completion[T], v T, err error) {
	b.settled.Add(1)
	cb(v, err)
}

func run[T any](ctx context.Context, op Op[T]) (out outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome[T]{err: core.NewBridgeError(core.WorkerPanicked, fmt.Sprint(r))}
		}
	}()
	if cause := context.Cause(ctx); cause != nil {
		return outcome[T]{err: cause}
	}
	v, err := op(context.WithoutCancel(ctx))
	return outcome[T]{val: v, err: core.NewStorageError(err)}
}
