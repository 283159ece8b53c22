package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// Persister receives a queue snapshot after every queue mutation.
// Implementations must not block.
type Persister interface {
	Persist(snap *QueueSnapshot)
}

// Option configures a State.
type Option func(*State)

// WithClock sets the clock used for heartbeat timestamps and sweeps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *State) {
		s.clock = clock
	}
}

// WithPersister sets where queue snapshots are sent.
func WithPersister(p Persister) Option {
	return func(s *State) {
		s.persister = p
	}
}

// WithIDGenerator overrides how node ids are assigned.
func WithIDGenerator(gen func() string) Option {
	return func(s *State) {
		s.newID = gen
	}
}

// State is the hub's shared state: the task queue and the node registry behind
// one reader/writer lock. Reads take the shared lock, mutations the exclusive one,
// and each operation holds the lock for its whole read-modify-write.
type State struct {
	mu      sync.RWMutex
	queue   *TaskQueue
	nodes   *NodeRegistry
	version uint64

	clock     clockwork.Clock
	persister Persister
	newID     func() string
}

// NewState creates an empty hub state.
func NewState(opts ...Option) *State {
	s := &State{
		queue: NewTaskQueue(),
		nodes: NewNodeRegistry(),
		clock: clockwork.NewRealClock(),
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore replaces the queue with the one held by snap.
func (s *State) Restore(snap *QueueSnapshot) error {
	q, err := RestoreQueue(snap)
	if err != nil {
		return fmt.Errorf("failed to restore queue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
	if snap != nil {
		s.version = snap.Version
	}
	return nil
}

// AddTask appends a task as Pending.
func (s *State) AddTask(task types.Task) {
	s.mu.Lock()
	s.queue.Append(task)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
}

// CurrentTask returns the current task, or nil before the first advance.
func (s *State) CurrentTask() *types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Current()
}

// TaskFor resolves the current task for a platform. It returns nil when there is
// no current task or the task has no image for the platform.
func (s *State) TaskFor(platform string) *types.TaskConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskForLocked(platform)
}

func (s *State) taskForLocked(platform string) *types.TaskConfig {
	task := s.queue.Current()
	if task == nil {
		return nil
	}
	return task.ConfigFor(platform)
}

// TaskForNode resolves the current task for a registered node's platform.
func (s *State) TaskForNode(id string) (*types.TaskConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return s.taskForLocked(n.Platform()), nil
}

// Advance switches the queue to the next task.
func (s *State) Advance() (previous, current string, err error) {
	s.mu.Lock()
	previous, current, err = s.queue.Advance()
	if err != nil {
		s.mu.Unlock()
		return "", "", err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snap)
	return previous, current, nil
}

// ListTasks summarizes the queue by status.
func (s *State) ListTasks() types.TaskListResponse {
	s.mu.RLock()
	entries := s.queue.Entries()
	s.mu.RUnlock()

	names := func(status types.TaskStatus) []string {
		matched := slice.Filter(entries, func(_ int, e QueueEntry) bool {
			return e.Status == status
		})
		return slice.Map(matched, func(_ int, e QueueEntry) string {
			return e.Task.Name
		})
	}

	resp := types.TaskListResponse{
		Pending:   names(types.TaskStatusPending),
		Completed: names(types.TaskStatusCompleted),
	}
	if running := names(types.TaskStatusRunning); len(running) > 0 {
		resp.Current = &running[0]
	}
	return resp
}

// RegisterNode records a node and returns its id together with the current task
// resolved for its platform. A request without a node id gets a fresh one; a
// request for a known id overwrites that record.
func (s *State) RegisterNode(req types.RegisterNodeRequest) types.RegisterNodeResponse {
	id := req.NodeID
	if id == "" {
		id = s.newID()
	}

	node := &types.Node{
		ID:           id,
		Hostname:     req.Hostname,
		Architecture: req.Architecture,
		CPUCount:     req.CPUCount,
		LastSeen:     s.clock.Now(),
		Status:       types.NodeStatusOnline,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes.Register(node)
	return types.RegisterNodeResponse{
		NodeID:      id,
		CurrentTask: s.taskForLocked(node.Platform()),
	}
}

// Heartbeat records a liveness report and returns whether the node should drain.
func (s *State) Heartbeat(req types.HeartbeatRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.Heartbeat(req.NodeID, req.Status, req.ActiveContainers, s.clock.Now())
}

// RequestStop asks a node to drain on its next heartbeat.
func (s *State) RequestStop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.SetStopRequested(id, true)
}

// ClearStop withdraws a pending drain request.
func (s *State) ClearStop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes.SetStopRequested(id, false)
}

// Node returns a copy of one node record.
func (s *State) Node(id string) (types.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes.Get(id)
}

// ListNodes returns all node records ordered by id.
func (s *State) ListNodes() []types.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes.List()
}

// CleanupOffline removes nodes silent for longer than timeout and returns how
// many were removed.
func (s *State) CleanupOffline(timeout time.Duration) int {
	s.mu.Lock()
	removed := s.nodes.CleanupOffline(timeout, s.clock.Now())
	s.mu.Unlock()

	for _, id := range removed {
		logger.Info("Removed offline node", zap.String("node_id", id))
	}
	return len(removed)
}

// Sweep marks nodes silent for longer than offlineAfter as Offline and removes
// those silent for longer than timeout, in one exclusive pass.
func (s *State) Sweep(offlineAfter, timeout time.Duration) (marked, removed int) {
	s.mu.Lock()
	now := s.clock.Now()
	removedIDs := s.nodes.CleanupOffline(timeout, now)
	markedIDs := s.nodes.MarkOffline(offlineAfter, now)
	s.mu.Unlock()

	for _, id := range markedIDs {
		logger.Warn("Node missed heartbeats", zap.String("node_id", id))
	}
	for _, id := range removedIDs {
		logger.Info("Removed offline node", zap.String("node_id", id))
	}
	return len(markedIDs), len(removedIDs)
}

func (s *State) snapshotLocked() *QueueSnapshot {
	s.version++
	return s.queue.Snapshot(s.version)
}

func (s *State) persist(snap *QueueSnapshot) {
	if s.persister != nil {
		s.persister.Persist(snap)
	}
}
