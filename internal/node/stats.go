package node

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

// SlotStats is what slots share with the liveness reporter: the number of
// active units and the last error of each slot.
type SlotStats struct {
	active atomic.Int64

	mu     sync.Mutex
	errors map[int]string
}

// NewSlotStats creates empty stats.
func NewSlotStats() *SlotStats {
	return &SlotStats{errors: make(map[int]string)}
}

// IncActive records a unit start.
func (s *SlotStats) IncActive() {
	s.active.Add(1)
}

// DecActive records a unit end.
func (s *SlotStats) DecActive() {
	s.active.Add(-1)
}

// Active returns the number of active units.
func (s *SlotStats) Active() int {
	return int(s.active.Load())
}

// SetError records the last error of a slot.
func (s *SlotStats) SetError(slot int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[slot] = msg
}

// ClearError removes the error of a slot.
func (s *SlotStats) ClearError(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, slot)
}

// Errors returns a copy of the per-slot errors.
func (s *SlotStats) Errors() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.errors)
}

// Status derives the reported runtime status: Error if any slot has an error,
// else Running if any unit is active, else Idle.
func (s *SlotStats) Status() types.RuntimeStatus {
	s.mu.Lock()
	hasErrors := len(s.errors) > 0
	s.mu.Unlock()

	switch {
	case hasErrors:
		return types.RuntimeStatusError
	case s.Active() > 0:
		return types.RuntimeStatusRunning
	default:
		return types.RuntimeStatusIdle
	}
}
