package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wolido/idm-gridcore/api/rest/client"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

func fastSlotConfig() SlotConfig {
	return SlotConfig{
		PullAttempts:    3,
		PullRetryDelay:  time.Millisecond,
		PullFailureWait: 20 * time.Millisecond,
		StartAttempts:   3,
		StartRetryDelay: time.Millisecond,
		BackoffStep:     5 * time.Millisecond,
		BackoffCap:      20 * time.Millisecond,
		IdleWait:        10 * time.Millisecond,
		LoopPause:       time.Millisecond,
		WaitPoll:        5 * time.Millisecond,
		StopTimeout:     10 * time.Millisecond,
		MemoryMB:        64,
		CPUs:            1,
	}
}

func taskConfig(name string) *types.TaskConfig {
	return &types.TaskConfig{TaskName: name, Image: "img/" + name + ":latest"}
}

// fakeHub is an in-memory HubClient.
type fakeHub struct {
	mu sync.Mutex

	task    *types.TaskConfig
	taskErr error

	stop     bool
	unknown  bool
	hbErr    error
	assignID string

	heartbeats []types.HeartbeatRequest
	registers  []types.RegisterNodeRequest
}

func (h *fakeHub) CurrentTask(ctx context.Context, platform string) (*types.TaskConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.taskErr != nil {
		return nil, h.taskErr
	}
	return h.task, nil
}

func (h *fakeHub) Register(ctx context.Context, req *types.RegisterNodeRequest) (*types.RegisterNodeResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registers = append(h.registers, *req)
	h.unknown = false

	id := req.NodeID
	if id == "" {
		if h.assignID == "" {
			return nil, errors.New("no id to assign")
		}
		id = h.assignID
	}
	return &types.RegisterNodeResponse{NodeID: id, CurrentTask: h.task}, nil
}

func (h *fakeHub) Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heartbeats = append(h.heartbeats, *req)
	if h.hbErr != nil {
		return false, h.hbErr
	}
	if h.unknown {
		return false, client.ErrNodeNotFound
	}
	return h.stop, nil
}

func (h *fakeHub) setTask(task *types.TaskConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.task = task
}

func (h *fakeHub) setStop(stop bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stop = stop
}

func (h *fakeHub) heartbeatCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.heartbeats)
}

func (h *fakeHub) lastHeartbeat() types.HeartbeatRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.heartbeats) == 0 {
		return types.HeartbeatRequest{}
	}
	return h.heartbeats[len(h.heartbeats)-1]
}

func (h *fakeHub) registrations() []types.RegisterNodeRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.RegisterNodeRequest(nil), h.registers...)
}
