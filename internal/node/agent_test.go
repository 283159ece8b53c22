package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/internal/container/containertest"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

func testAgentConfig(parallelism int) AgentConfig {
	return AgentConfig{
		Hostname:          "worker-1",
		Architecture:      "aarch64",
		Parallelism:       parallelism,
		HeartbeatInterval: 5 * time.Millisecond,
		TaskPollInterval:  5 * time.Millisecond,
		Slot:              fastSlotConfig(),
	}
}

type agentRun struct {
	err  error
	done chan struct{}
}

func runAgent(a *Agent, ctx context.Context, driver *containertest.Driver, initial *types.TaskConfig) *agentRun {
	r := &agentRun{done: make(chan struct{})}
	go func() {
		r.err = a.Run(ctx, driver, initial)
		close(r.done)
	}()
	return r
}

func (r *agentRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
		return nil
	}
}

func TestAgent_RegisterAdoptsAssignedID(t *testing.T) {
	hub := &fakeHub{assignID: "assigned-1", task: taskConfig("A")}
	a := NewAgent(testAgentConfig(2), hub, NewShutdown())

	resp, err := a.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "assigned-1", a.NodeID())
	assert.Equal(t, "A", resp.CurrentTask.Name())

	regs := hub.registrations()
	require.Len(t, regs, 1)
	assert.Empty(t, regs[0].NodeID)
	assert.Equal(t, 2, regs[0].CPUCount)
	assert.Equal(t, "aarch64", regs[0].Architecture)
}

func TestAgent_RunRequiresRegistration(t *testing.T) {
	a := NewAgent(testAgentConfig(1), &fakeHub{}, NewShutdown())
	assert.Error(t, a.Run(context.Background(), containertest.New(), nil))
}

func TestAgent_RunsSlotsAndFollowsTask(t *testing.T) {
	hub := &fakeHub{assignID: "n1", task: taskConfig("A")}
	shutdown := NewShutdown()
	a := NewAgent(testAgentConfig(3), hub, shutdown)
	resp, err := a.Register(context.Background())
	require.NoError(t, err)

	driver := containertest.New()
	run := runAgent(a, context.Background(), driver, resp.CurrentTask)

	require.Eventually(t, func() bool { return len(driver.Running()) == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return hub.lastHeartbeat().Status == types.RuntimeStatusRunning && hub.lastHeartbeat().ActiveContainers == 3
	}, 2*time.Second, 5*time.Millisecond)

	for _, spec := range driver.Running() {
		assert.Equal(t, "linux/arm64", spec.Platform)
	}

	hub.setTask(taskConfig("B"))
	require.Eventually(t, func() bool {
		running := driver.Running()
		if len(running) != 3 {
			return false
		}
		for _, spec := range running {
			if spec.Env["TASK_NAME"] != "B" {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	shutdown.Trigger("test")
	require.NoError(t, run.wait(t))
	assert.Empty(t, driver.Running())
	assert.Zero(t, a.Stats().Active())
	assert.Len(t, a.Slots(), 3)
}

func TestAgent_HubStopDrainsNode(t *testing.T) {
	hub := &fakeHub{assignID: "n1", task: taskConfig("A")}
	shutdown := NewShutdown()
	a := NewAgent(testAgentConfig(2), hub, shutdown)
	resp, err := a.Register(context.Background())
	require.NoError(t, err)

	driver := containertest.New()
	run := runAgent(a, context.Background(), driver, resp.CurrentTask)
	require.Eventually(t, func() bool { return len(driver.Running()) == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.setStop(true)
	require.NoError(t, run.wait(t))
	assert.Equal(t, "stop requested by hub", shutdown.Reason())
	assert.Empty(t, driver.Running())
}

func TestAgent_ContextCancelIsShutdown(t *testing.T) {
	hub := &fakeHub{assignID: "n1"}
	shutdown := NewShutdown()
	a := NewAgent(testAgentConfig(1), hub, shutdown)
	_, err := a.Register(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	run := runAgent(a, ctx, containertest.New(), nil)

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, run.wait(t))
	assert.True(t, shutdown.IsSet())
}

type panickingDriver struct {
	*containertest.Driver
}

func (d panickingDriver) PullImage(ctx context.Context, image, platform string) error {
	panic("driver exploded")
}

func TestAgent_SlotCollapseIsAnError(t *testing.T) {
	hub := &fakeHub{assignID: "n1", task: taskConfig("A")}
	shutdown := NewShutdown()
	a := NewAgent(testAgentConfig(2), hub, shutdown)
	resp, err := a.Register(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(context.Background(), panickingDriver{containertest.New()}, resp.CurrentTask)
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSlotsCollapsed)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not report collapse")
	}
	assert.False(t, shutdown.IsSet())
}
