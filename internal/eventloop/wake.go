package eventloop

import (
	"sync/atomic"

	"github.com/cryguy/sqlbridge/internal/core"
)

const (
	handleArmed int32 = iota
	handleSignaled
	handleDone
)

// WakeHandle is a one-shot, thread-safe signal that schedules its bound
// callback to run on the loop's goroutine.
type WakeHandle struct {
	el        *EventLoop
	cb        func()
	onDiscard func()
	state     atomic.Int32
}

// NewWakeHandle binds cb to a new handle. It fails when the loop is closed
// or the pending limit has been reached.
func (el *EventLoop) NewWakeHandle(cb func()) (*WakeHandle, error) {
	if cb == nil {
		return nil, core.NewBridgeError(core.HandleCreationFailed, "nil callback")
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.closed {
		return nil, core.NewBridgeError(core.HandleCreationFailed, "event loop closed")
	}
	if el.maxPending > 0 && el.pending >= el.maxPending {
		return nil, core.NewBridgeError(core.HandleCreationFailed, "too many pending operations")
	}
	el.pending++
	return &WakeHandle{el: el, cb: cb}, nil
}

// OnDiscard sets fn to run instead of the callback if the loop is closed
// before the callback could run. fn runs at most once, on whichever
// goroutine signals the handle or closes the loop. Set it before Signal.
func (h *WakeHandle) OnDiscard(fn func()) { h.onDiscard = fn }

func (h *WakeHandle) discard() {
	if h.onDiscard != nil {
		h.onDiscard()
	}
}

// Signal queues the handle's callback on the loop. Safe to call from any
// goroutine; only the first call has an effect. If the loop was closed the
// signal is dropped and ErrHostClosed is returned.
func (h *WakeHandle) Signal() error {
	if !h.state.CompareAndSwap(handleArmed, handleSignaled) {
		return core.ErrAlreadySignaled
	}
	el := h.el
	el.mu.Lock()
	if el.closed {
		el.discarded++
		el.mu.Unlock()
		h.state.Store(handleDone)
		h.discard()
		return core.ErrHostClosed
	}
	el.ready = append(el.ready, h)
	el.mu.Unlock()

	select {
	case el.notify <- struct{}{}:
	default:
	}
	return nil
}

// Release gives back a handle that will never be signaled.
func (h *WakeHandle) Release() {
	if !h.state.CompareAndSwap(handleArmed, handleDone) {
		return
	}
	el := h.el
	el.mu.Lock()
	if !el.closed {
		el.pending--
	}
	el.mu.Unlock()
}

func (h *WakeHandle) run() {
	if h.state.Swap(handleDone) != handleSignaled {
		return
	}
	h.cb()
}
