package node

import (
	"sync"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

// TaskSignal holds the node's current task and wakes receivers when it changes.
// Only the latest value is kept; receivers that miss intermediate values see
// the newest one.
type TaskSignal struct {
	mu      sync.RWMutex
	value   *types.TaskConfig
	version uint64
	changed chan struct{}
}

// NewTaskSignal creates a signal holding initial.
func NewTaskSignal(initial *types.TaskConfig) *TaskSignal {
	return &TaskSignal{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Publish replaces the current value and wakes every receiver.
func (s *TaskSignal) Publish(task *types.TaskConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = task
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Load returns the current value.
func (s *TaskSignal) Load() *types.TaskConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Subscribe returns a receiver that has seen the current value.
func (s *TaskSignal) Subscribe() *Receiver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Receiver{signal: s, seen: s.version}
}

// Receiver tracks which value of a TaskSignal its owner last acted on.
// A Receiver belongs to one goroutine.
type Receiver struct {
	signal *TaskSignal
	seen   uint64
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Current returns the current value and marks it seen.
func (r *Receiver) Current() *types.TaskConfig {
	r.signal.mu.RLock()
	defer r.signal.mu.RUnlock()
	r.seen = r.signal.version
	return r.signal.value
}

// HasChanged reports whether a value was published since the last Current.
func (r *Receiver) HasChanged() bool {
	r.signal.mu.RLock()
	defer r.signal.mu.RUnlock()
	return r.signal.version != r.seen
}

// Changed returns a channel that is closed once a value newer than the last
// seen one is published. It is already closed if that happened.
func (r *Receiver) Changed() <-chan struct{} {
	r.signal.mu.RLock()
	defer r.signal.mu.RUnlock()
	if r.signal.version != r.seen {
		return closedChan
	}
	return r.signal.changed
}
