package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/api/rest"
	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

func startHub(t *testing.T) (*Client, *hub.State) {
	t.Helper()

	state := hub.NewState()
	config := rest.DefaultConfig()
	config.Token = "tok"
	config.AccessLog = false
	server := rest.NewServer(state, config)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.App().Listener(ln)
	}()
	t.Cleanup(func() {
		_ = server.ShutdownWithTimeout(time.Second)
	})

	c := NewClient(&Config{
		ServerURL:      "http://" + ln.Addr().String(),
		Token:          "tok",
		RequestTimeout: 2 * time.Second,
	})
	t.Cleanup(c.Close)

	require.Eventually(t, func() bool {
		return c.Health(context.Background()) == nil
	}, 2*time.Second, 20*time.Millisecond)

	return c, state
}

func TestClient_AdminFlow(t *testing.T) {
	c, _ := startHub(t)
	ctx := context.Background()

	_, err := c.NextTask(ctx)
	assert.ErrorIs(t, err, ErrQueueExhausted)

	require.NoError(t, c.AddTask(ctx, &types.CreateTaskRequest{Name: "t1", Image: "img:1"}))
	require.NoError(t, c.AddTask(ctx, &types.CreateTaskRequest{Name: "t2", Image: "img:2"}))

	next, err := c.NextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "none", next.Previous)
	assert.Equal(t, "t1", next.Current)

	list, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.NotNil(t, list.Current)
	assert.Equal(t, "t1", *list.Current)
	assert.Equal(t, []string{"t2"}, list.Pending)

	err = c.AddTask(ctx, &types.CreateTaskRequest{Image: "nameless"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.StatusCode)
}

func TestClient_NodeFlow(t *testing.T) {
	c, state := startHub(t)
	ctx := context.Background()

	state.AddTask(types.Task{Name: "t1", Image: "img:1", Images: map[string]string{"linux/arm64": "img:arm"}})
	_, _, err := state.Advance()
	require.NoError(t, err)

	_, err = c.Heartbeat(ctx, &types.HeartbeatRequest{NodeID: "ghost", Status: types.RuntimeStatusIdle})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	reg, err := c.Register(ctx, &types.RegisterNodeRequest{Hostname: "pi", Architecture: "aarch64", CPUCount: 4})
	require.NoError(t, err)
	require.NotEmpty(t, reg.NodeID)
	require.NotNil(t, reg.CurrentTask)
	assert.Equal(t, "img:arm", reg.CurrentTask.Image)

	cfg, err := c.CurrentTask(ctx, "linux/arm64")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "t1", cfg.TaskName)

	stop, err := c.Heartbeat(ctx, &types.HeartbeatRequest{NodeID: reg.NodeID, Status: types.RuntimeStatusRunning, ActiveContainers: 4})
	require.NoError(t, err)
	assert.False(t, stop)

	require.NoError(t, c.RequestStop(ctx, reg.NodeID))
	stop, err = c.Heartbeat(ctx, &types.HeartbeatRequest{NodeID: reg.NodeID, Status: types.RuntimeStatusRunning, ActiveContainers: 4})
	require.NoError(t, err)
	assert.True(t, stop)

	require.NoError(t, c.ClearStop(ctx, reg.NodeID))
	assert.ErrorIs(t, c.RequestStop(ctx, "ghost"), ErrNodeNotFound)

	nodes, err := c.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 4, nodes[0].ActiveContainers)
}

func TestClient_NoCurrentTask(t *testing.T) {
	c, _ := startHub(t)

	cfg, err := c.CurrentTask(context.Background(), "linux/amd64")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestClient_Unauthorized(t *testing.T) {
	c, _ := startHub(t)
	c.config.Token = "wrong"

	_, err := c.ListTasks(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.StatusCode)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient(&Config{ServerURL: "http://127.0.0.1:1", RequestTimeout: 200 * time.Millisecond})
	defer c.Close()

	assert.Error(t, c.Health(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListNodes(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
