package hub

import (
	"fmt"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

// QueueEntry is one (task, status) pair of the queue.
type QueueEntry struct {
	Task   types.Task       `json:"task"`
	Status types.TaskStatus `json:"status"`
}

// TaskQueue is the ordered task list with an optional current index.
// It only moves forward: no rewind, no removal, no jump. It is not safe for
// concurrent use; State serializes access.
type TaskQueue struct {
	entries []QueueEntry
	current int // -1 until the first advance
}

// NewTaskQueue creates an empty queue with no current task.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{current: -1}
}

// Append pushes task to the end as Pending.
func (q *TaskQueue) Append(task types.Task) {
	q.entries = append(q.entries, QueueEntry{Task: task, Status: types.TaskStatusPending})
}

// Current returns the task at the current index, or nil.
func (q *TaskQueue) Current() *types.Task {
	if q.current < 0 || q.current >= len(q.entries) {
		return nil
	}
	task := q.entries[q.current].Task
	return &task
}

// CurrentIndex returns the current index and whether one is set.
func (q *TaskQueue) CurrentIndex() (int, bool) {
	return q.current, q.current >= 0
}

// Len returns the number of entries.
func (q *TaskQueue) Len() int {
	return len(q.entries)
}

// Advance completes the current entry and makes the next one Running.
// It returns the previous task name ("none" before the first advance) and the new
// one. When there is no next entry it returns ErrQueueExhausted and leaves the
// queue untouched, so repeated calls on an exhausted queue are harmless.
func (q *TaskQueue) Advance() (previous, current string, err error) {
	next := q.current + 1
	if next >= len(q.entries) {
		return "", "", ErrQueueExhausted
	}

	previous = "none"
	if q.current >= 0 {
		previous = q.entries[q.current].Task.Name
		q.entries[q.current].Status = types.TaskStatusCompleted
	}

	q.current = next
	q.entries[next].Status = types.TaskStatusRunning
	return previous, q.entries[next].Task.Name, nil
}

// Entries returns a copy of the queue entries in order.
func (q *TaskQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// QueueSnapshot is the persisted form of a TaskQueue.
type QueueSnapshot struct {
	Version uint64       `json:"version"`
	Entries []QueueEntry `json:"entries"`
	Current *int         `json:"current"`
}

// Snapshot captures the queue state.
func (q *TaskQueue) Snapshot(version uint64) *QueueSnapshot {
	snap := &QueueSnapshot{Version: version, Entries: q.Entries()}
	if q.current >= 0 {
		idx := q.current
		snap.Current = &idx
	}
	return snap
}

// RestoreQueue rebuilds a queue from a snapshot after checking its invariants:
// entries before the current index are Completed, the current entry is Running,
// entries after it are Pending.
func RestoreQueue(snap *QueueSnapshot) (*TaskQueue, error) {
	q := NewTaskQueue()
	if snap == nil {
		return q, nil
	}

	current := -1
	if snap.Current != nil {
		current = *snap.Current
		if current < 0 || current >= len(snap.Entries) {
			return nil, fmt.Errorf("snapshot current index %d out of range [0,%d)", current, len(snap.Entries))
		}
	}

	for i, e := range snap.Entries {
		want := types.TaskStatusPending
		switch {
		case i < current:
			want = types.TaskStatusCompleted
		case i == current:
			want = types.TaskStatusRunning
		}
		if e.Status != want {
			return nil, fmt.Errorf("snapshot entry %d (%s) has status %s, want %s", i, e.Task.Name, e.Status, want)
		}
	}

	q.entries = append(q.entries, snap.Entries...)
	q.current = current
	return q, nil
}
