package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

func newTestReporter(hub *fakeHub) (*Reporter, *SlotStats, *Shutdown) {
	stats := NewSlotStats()
	shutdown := NewShutdown()
	reg := types.RegisterNodeRequest{NodeID: "n1", Hostname: "h", Architecture: "x86_64", CPUCount: 2}
	return NewReporter(hub, reg, stats, shutdown, time.Hour), stats, shutdown
}

func TestReporter_DerivesStatus(t *testing.T) {
	hub := &fakeHub{}
	r, stats, _ := newTestReporter(hub)
	ctx := context.Background()

	r.Tick(ctx)
	assert.Equal(t, types.HeartbeatRequest{NodeID: "n1", Status: types.RuntimeStatusIdle}, hub.lastHeartbeat())

	stats.IncActive()
	stats.IncActive()
	r.Tick(ctx)
	assert.Equal(t, types.HeartbeatRequest{NodeID: "n1", Status: types.RuntimeStatusRunning, ActiveContainers: 2}, hub.lastHeartbeat())

	stats.SetError(1, "pull failed")
	r.Tick(ctx)
	assert.Equal(t, types.RuntimeStatusError, hub.lastHeartbeat().Status)
}

func TestReporter_StopAckSetsShutdown(t *testing.T) {
	hub := &fakeHub{}
	r, _, shutdown := newTestReporter(hub)

	r.Tick(context.Background())
	assert.False(t, shutdown.IsSet())

	hub.setStop(true)
	r.Tick(context.Background())
	assert.True(t, shutdown.IsSet())
	assert.Equal(t, "stop requested by hub", shutdown.Reason())
}

func TestReporter_TransportErrorDoesNotStop(t *testing.T) {
	hub := &fakeHub{hbErr: errors.New("connection refused")}
	r, _, shutdown := newTestReporter(hub)

	r.Tick(context.Background())
	assert.False(t, shutdown.IsSet())
	assert.Empty(t, hub.registrations())
}

func TestReporter_ReRegistersUnknownNode(t *testing.T) {
	hub := &fakeHub{unknown: true}
	r, _, shutdown := newTestReporter(hub)

	r.Tick(context.Background())

	regs := hub.registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "n1", regs[0].NodeID, "re-registration keeps the node id")
	assert.False(t, shutdown.IsSet())

	r.Tick(context.Background())
	assert.Len(t, hub.registrations(), 1)
	assert.Equal(t, 2, hub.heartbeatCount())
}

func TestReporter_Run(t *testing.T) {
	hub := &fakeHub{}
	stats := NewSlotStats()
	shutdown := NewShutdown()
	r := NewReporter(hub, types.RegisterNodeRequest{NodeID: "n1"}, stats, shutdown, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.heartbeatCount() >= 3 }, time.Second, 5*time.Millisecond)

	hub.setStop(true)
	require.Eventually(t, shutdown.IsSet, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}

func TestReporter_NonPositiveIntervalUsesDefault(t *testing.T) {
	hub := &fakeHub{}
	for _, d := range []time.Duration{0, -time.Second} {
		r := NewReporter(hub, types.RegisterNodeRequest{NodeID: "n1"}, NewSlotStats(), NewShutdown(), d)
		assert.Equal(t, DefaultHeartbeatInterval, r.interval)
	}

	r := NewReporter(hub, types.RegisterNodeRequest{NodeID: "n1"}, NewSlotStats(), NewShutdown(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.heartbeatCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
