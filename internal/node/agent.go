package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/container"
	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// ErrSlotsCollapsed is returned by Run when every slot stopped without a
// shutdown request.
var ErrSlotsCollapsed = errors.New("all slots finished unexpectedly")

// Intervals used when a caller passes zero or a negative duration.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTaskPollInterval  = 10 * time.Second
)

// AgentConfig holds the node identity and loop intervals.
type AgentConfig struct {
	NodeID            string
	Hostname          string
	Architecture      string
	Parallelism       int
	HeartbeatInterval time.Duration
	TaskPollInterval  time.Duration
	Slot              SlotConfig
}

// Platform returns the image platform for the configured architecture.
func (c *AgentConfig) Platform() string {
	return types.PlatformFor(c.Architecture)
}

// Agent runs a registered node: task feed, liveness reporter and one slot
// controller per unit of parallelism.
type Agent struct {
	config   AgentConfig
	hub      HubClient
	shutdown *Shutdown
	stats    *SlotStats
	log      *zap.Logger

	mu    sync.Mutex
	slots []*Slot
}

// NewAgent creates an agent. shutdown is the flag shared with the signal watcher.
func NewAgent(config AgentConfig, hub HubClient, shutdown *Shutdown) *Agent {
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	return &Agent{
		config:   config,
		hub:      hub,
		shutdown: shutdown,
		stats:    NewSlotStats(),
		log:      logger.Named("agent"),
	}
}

// NodeID returns the node id, assigned by the hub if it was not configured.
func (a *Agent) NodeID() string {
	return a.config.NodeID
}

// Stats returns the counters shared by the slots.
func (a *Agent) Stats() *SlotStats {
	return a.stats
}

// Register registers the node with the hub and adopts the id it returns.
func (a *Agent) Register(ctx context.Context) (*types.RegisterNodeResponse, error) {
	resp, err := a.hub.Register(ctx, a.registerRequest())
	if err != nil {
		return nil, err
	}

	a.config.NodeID = resp.NodeID
	a.log.Info("Registered with hub",
		zap.String("node_id", resp.NodeID),
		zap.String("platform", a.config.Platform()),
		zap.Int("parallelism", a.config.Parallelism),
		zap.String("task", displayName(resp.CurrentTask.Name())),
	)
	return resp, nil
}

func (a *Agent) registerRequest() *types.RegisterNodeRequest {
	return &types.RegisterNodeRequest{
		NodeID:       a.config.NodeID,
		Hostname:     a.config.Hostname,
		Architecture: a.config.Architecture,
		CPUCount:     a.config.Parallelism,
	}
}

// Run drives the node until every slot has stopped. It returns nil after a
// requested shutdown and ErrSlotsCollapsed if the slots stopped on their own.
// Cancelling ctx requests shutdown.
func (a *Agent) Run(ctx context.Context, driver container.Driver, initial *types.TaskConfig) error {
	if a.config.NodeID == "" {
		return errors.New("node is not registered")
	}

	if j, ok := driver.(container.Janitor); ok {
		if n, err := j.RemoveExited(ctx); err != nil {
			a.log.Warn("Failed to clean up exited units", zap.Error(err))
		} else if n > 0 {
			a.log.Info("Removed exited units from a previous run", zap.Int("count", n))
		}
	}

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()

	// Slot work stops on shutdown; stop and remove calls use their own contexts.
	workCtx, cancelWork := context.WithCancel(bgCtx)
	defer cancelWork()
	go func() {
		select {
		case <-ctx.Done():
			a.shutdown.Trigger("context cancelled")
		case <-a.shutdown.Done():
		case <-bgCtx.Done():
			return
		}
		cancelWork()
	}()

	signal := NewTaskSignal(initial)
	platform := a.config.Platform()

	feed := NewFeed(a.hub, platform, a.config.TaskPollInterval, signal)
	go feed.Run(workCtx)

	reg := *a.registerRequest()
	reporter := NewReporter(a.hub, reg, a.stats, a.shutdown, a.config.HeartbeatInterval)
	go reporter.Run(bgCtx)

	pool, err := ants.NewPool(a.config.Parallelism, ants.WithPanicHandler(func(p any) {
		a.log.Error("Slot panicked", zap.Any("panic", p), zap.Stack("stack"))
	}))
	if err != nil {
		return fmt.Errorf("failed to create slot pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := 0; i < a.config.Parallelism; i++ {
		slot := NewSlot(i, a.config.NodeID, platform, a.config.Slot, driver, signal, a.shutdown, a.stats)
		a.mu.Lock()
		a.slots = append(a.slots, slot)
		a.mu.Unlock()

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			slot.Run(workCtx)
		}); err != nil {
			wg.Done()
			a.log.Error("Failed to start slot", zap.Int("slot", i), zap.Error(err))
		}
	}

	a.log.Info("Node running",
		zap.String("node_id", a.config.NodeID),
		zap.String("platform", platform),
		zap.Int("slots", a.config.Parallelism),
	)

	wg.Wait()

	if !a.shutdown.IsSet() {
		a.log.Error("All slots finished unexpectedly")
		return ErrSlotsCollapsed
	}

	a.log.Info("All slots stopped", zap.String("reason", a.shutdown.Reason()))
	return nil
}

// Slots returns the slot controllers started by Run.
func (a *Agent) Slots() []*Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Slot(nil), a.slots...)
}
