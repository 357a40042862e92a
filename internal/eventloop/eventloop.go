package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/sqlbridge/internal/core"
)

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop is the host-side loop of one script host. It owns Go-backed
// timers for setTimeout/setInterval and the queue of signaled wake handles
// whose callbacks must run on the JS goroutine.
type EventLoop struct {
	mu     sync.Mutex
	timers map[int]*timerEntry
	nextID int

	maxPending int
	pending    int           // wake handles created and not yet run
	ready      []*WakeHandle // signaled, waiting for the JS goroutine
	notify     chan struct{}
	closed     bool
	discarded  int
}

// New creates a new EventLoop. maxPending bounds the number of outstanding
// wake handles; 0 means unlimited.
func New(maxPending int) *EventLoop {
	return &EventLoop{
		timers:     make(map[int]*timerEntry),
		maxPending: maxPending,
		notify:     make(chan struct{}, 1),
	}
}

// RegisterTimer creates a timer entry and returns its ID.
// The actual JS callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// RunReady runs the callbacks of every signaled wake handle in signal
// order, pumping microtasks after each. Returns the number run.
// Must be called on the runtime's goroutine.
func (el *EventLoop) RunReady(rt core.JSRuntime) int {
	el.mu.Lock()
	if len(el.ready) == 0 {
		el.mu.Unlock()
		return 0
	}
	batch := el.ready
	el.ready = nil
	el.mu.Unlock()

	for _, h := range batch {
		h.run()
		if rt != nil {
			rt.RunMicrotasks()
		}
	}

	el.mu.Lock()
	if !el.closed {
		el.pending -= len(batch)
	}
	el.mu.Unlock()
	return len(batch)
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// nextTimerLocked returns the earliest live timer. Caller holds el.mu.
func (el *EventLoop) nextTimerLocked() *timerEntry {
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	return next
}

// Drain runs wake callbacks and fires timers until nothing is outstanding
// or the deadline is reached. Wake callbacks always run before due timers.
// Must be called on the runtime's goroutine (JS engines are single-threaded).
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) {
	for {
		if el.RunReady(rt) > 0 {
			continue
		}

		now := time.Now()
		if !now.Before(deadline) {
			return
		}

		el.mu.Lock()
		next := el.nextTimerLocked()
		waiting := el.pending > 0
		el.mu.Unlock()

		if next == nil && !waiting {
			return
		}

		if next != nil && !next.deadline.After(now) {
			el.mu.Lock()
			if next.cleared {
				el.mu.Unlock()
				continue
			}
			if next.interval > 0 {
				next.deadline = now.Add(next.interval)
			} else {
				delete(el.timers, next.id)
			}
			el.mu.Unlock()

			el.fireTimer(rt, next.id)
			rt.RunMicrotasks()
			continue
		}

		wait := deadline.Sub(now)
		if next != nil {
			if d := next.deadline.Sub(now); d < wait {
				wait = d
			}
		}
		el.wait(wait)
	}
}

// wait blocks until a wake handle is signaled or d elapses.
func (el *EventLoop) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-el.notify:
	case <-t.C:
	}
}

// HasPending returns true if there are any active timers or outstanding
// wake handles.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || el.pending > 0
}

// Pending returns the number of wake handles created and not yet run.
func (el *EventLoop) Pending() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.pending
}

// Ready returns the number of signaled wake handles waiting to run.
func (el *EventLoop) Ready() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.ready)
}

// Discarded returns the number of results dropped because the loop was
// closed before they could be delivered.
func (el *EventLoop) Discarded() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.discarded
}

// Close marks the loop dead. Outstanding and future signals are discarded
// and no new wake handles can be created. Discard hooks of handles that
// were signaled but not yet run are called before Close returns.
func (el *EventLoop) Close() {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return
	}
	el.closed = true
	dropped := el.ready
	el.discarded += len(dropped)
	el.ready = nil
	el.pending = 0
	el.timers = make(map[int]*timerEntry)
	el.mu.Unlock()

	select {
	case el.notify <- struct{}{}:
	default:
	}
	for _, h := range dropped {
		if h.state.CompareAndSwap(handleSignaled, handleDone) {
			h.discard()
		}
	}
}

// Closed reports whether Close has been called.
func (el *EventLoop) Closed() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.closed
}
