package bridge

import (
	"sync"

	"github.com/cryguy/sqlbridge/internal/core"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotFilled
	slotConsumed
)

// Slot carries exactly one value from a worker goroutine to the host
// goroutine. It moves empty -> filled -> consumed.
type Slot[T any] struct {
	mu    sync.Mutex
	state slotState
	val   T
}

// Put stores v. A slot accepts a single write.
func (s *Slot[T]) Put(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotEmpty {
		return core.NewBridgeError(core.DataAlreadySet, "")
	}
	s.val = v
	s.state = slotFilled
	return nil
}

// Take removes the stored value. It fails if nothing was written or the
// value was already taken.
func (s *Slot[T]) Take() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if s.state != slotFilled {
		return zero, core.NewBridgeError(core.DataNotSet, "")
	}
	v := s.val
	s.val = zero
	s.state = slotConsumed
	return v, nil
}
