package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

func TestNewSweeper_RejectsZeroInterval(t *testing.T) {
	_, err := NewSweeper(NewState(), SweeperConfig{})
	assert.Error(t, err)
}

func TestSweeper_RunOnce(t *testing.T) {
	s, clock := newTestState(t)
	s.RegisterNode(types.RegisterNodeRequest{NodeID: "n1"})
	s.RegisterNode(types.RegisterNodeRequest{NodeID: "n2"})

	sw, err := NewSweeper(s, SweeperConfig{
		Interval:     time.Hour,
		OfflineAfter: 30 * time.Second,
		NodeTimeout:  60 * time.Second,
	})
	require.NoError(t, err)
	defer sw.Stop()

	clock.Advance(45 * time.Second)
	_, err = s.Heartbeat(types.HeartbeatRequest{NodeID: "n2", Status: types.RuntimeStatusIdle})
	require.NoError(t, err)

	sw.RunOnce()
	n1, _ := s.Node("n1")
	n2, _ := s.Node("n2")
	assert.Equal(t, types.NodeStatusOffline, n1.Status)
	assert.Equal(t, types.NodeStatusOnline, n2.Status)

	clock.Advance(20 * time.Second)
	sw.RunOnce()
	_, ok := s.Node("n1")
	assert.False(t, ok)
	_, ok = s.Node("n2")
	assert.True(t, ok)
}

func TestSweeper_StartStop(t *testing.T) {
	sw, err := NewSweeper(NewState(), SweeperConfig{
		Interval:     10 * time.Millisecond,
		OfflineAfter: time.Second,
		NodeTimeout:  time.Second,
	})
	require.NoError(t, err)

	sw.Start()
	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, sw.Stop())
}
