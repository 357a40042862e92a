package bridge

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cryguy/sqlbridge/internal/core"
)

// Executor runs bridge workers off the host goroutine.
type Executor interface {
	// Go starts task. An error means the task was not accepted and will
	// never run. Once accepted, task runs exactly once. If the executor
	// closes while task is still queued, task runs with a cancelled
	// context whose cause is an ExecutorClosed BridgeError.
	Go(task func(ctx context.Context)) error
	Close()
}

// NewExecutor returns an executor that runs at most maxWorkers tasks at
// once. maxWorkers <= 0 starts one goroutine per task with no bound.
func NewExecutor(maxWorkers int) Executor {
	ctx, cancel := context.WithCancelCause(context.Background())
	e := &executor{ctx: ctx, cancel: cancel}
	if maxWorkers > 0 {
		e.sem = semaphore.NewWeighted(int64(maxWorkers))
	}
	return e
}

type executor struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sem    *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (e *executor) Go(task func(ctx context.Context)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.NewBridgeError(core.ExecutorClosed, "")
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if e.sem != nil {
			// Waiting happens here, never on the submitting goroutine.
			if err := e.sem.Acquire(e.ctx, 1); err != nil {
				task(e.ctx)
				return
			}
			defer e.sem.Release(1)
		}
		task(e.ctx)
	}()
	return nil
}

// Close stops accepting tasks, cancels the shared context so queued tasks
// run immediately with a cancelled context, and waits for all accepted
// tasks to finish.
func (e *executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cancel(core.NewBridgeError(core.ExecutorClosed, ""))
	e.wg.Wait()
}
