package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cryguy/sqlbridge/internal/bridge"
	"github.com/cryguy/sqlbridge/internal/core"
	"github.com/cryguy/sqlbridge/internal/eventloop"
)

// resultJS serializes globalThis.result, the value a script leaves for
// its caller.
const resultJS = `(function() {
	var r = globalThis.result;
	if (r === undefined) return '';
	return JSON.stringify(r, function(k, v) {
		return typeof v === 'bigint' ? v.toString() : v;
	});
})()`

// Run executes source in rt and keeps the event loop going until the
// script, its pending database calls and its timers are done, or the
// execution timeout passes. interrupt must abort running JS and is called
// from another goroutine on timeout or cancellation.
func Run(ctx context.Context, rt core.JSRuntime, interrupt func(), cfg core.EngineConfig, logger *slog.Logger, source string) (result *core.RunResult) {
	start := time.Now()
	result = &core.RunResult{}
	if logger == nil {
		logger = slog.Default()
	}
	logs := core.NewLogBuffer(cfg.MaxLogEntries)
	defer func() {
		result.Logs = logs.Entries()
		result.Duration = time.Since(start)
	}()

	if limit := cfg.MaxScriptSizeKB * 1024; limit > 0 && len(source) > limit {
		result.Error = fmt.Errorf("script is %d bytes, limit is %d KB", len(source), cfg.MaxScriptSizeKB)
		return result
	}

	loop := eventloop.New(cfg.MaxPendingOps)
	b := bridge.New(loop, bridge.NewExecutor(cfg.MaxWorkers), logger)

	if err := installConsole(rt, logs, logger); err != nil {
		b.Close()
		result.Error = fmt.Errorf("installing console: %w", err)
		return result
	}
	if err := installTimers(rt, loop); err != nil {
		b.Close()
		result.Error = fmt.Errorf("installing timers: %w", err)
		return result
	}
	h, err := New(ctx, rt, b, logger)
	if err != nil {
		b.Close()
		result.Error = err
		return result
	}
	defer h.Close()

	timeout := time.Duration(cfg.ExecutionTimeout) * time.Millisecond
	deadline := start.Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var timedOut, canceled atomic.Bool
	watchdog := time.AfterFunc(time.Until(deadline), func() {
		timedOut.Store(true)
		interrupt()
	})
	defer watchdog.Stop()
	stop := context.AfterFunc(ctx, func() {
		canceled.Store(true)
		interrupt()
		loop.Close()
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Errorf("script panic: %v", r)
		}
	}()

	abort := func(err error) error {
		switch {
		case canceled.Load():
			return fmt.Errorf("script canceled: %w", context.Cause(ctx))
		case timedOut.Load():
			return fmt.Errorf("script timed out (limit: %v)", timeout)
		}
		return err
	}

	if err := rt.Eval(source); err != nil {
		result.Error = abort(fmt.Errorf("evaluating script: %w", err))
		return result
	}
	rt.RunMicrotasks()
	loop.Drain(rt, deadline)

	switch {
	case canceled.Load() || timedOut.Load():
		result.Error = abort(nil)
	case loop.HasPending():
		result.Error = fmt.Errorf("script timed out (limit: %v) with %d calls pending", timeout, loop.Pending())
	case len(h.Uncaught()) > 0:
		result.Error = fmt.Errorf("uncaught exception in callback: %s", h.Uncaught()[0])
	}

	if data, err := rt.EvalString(resultJS); err == nil {
		result.Data = data
	}
	return result
}
