package rest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

const testToken = "secret"

func newTestServer(t *testing.T) (*Server, *hub.State) {
	t.Helper()
	state := hub.NewState()
	config := DefaultConfig()
	config.Token = testToken
	config.AccessLog = false
	return NewServer(state, config), state
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v), "body: %s", data)
}

func TestHealthCheck_NoAuth(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := s.App().Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var errResp types.ErrorResponse
			decode(t, resp, &errResp)
			assert.Equal(t, "unauthorized", errResp.Error)
		})
	}
}

func TestTaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/api/tasks/next", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/api/tasks", types.CreateTaskRequest{
		Name:   "t1",
		Image:  "img:1",
		Images: map[string]string{"linux/arm64": "img:1-arm64"},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/api/tasks", types.CreateTaskRequest{Name: "t2", Image: "img:2"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var list types.TaskListResponse
	decode(t, doRequest(t, s, http.MethodGet, "/api/tasks", nil), &list)
	assert.Nil(t, list.Current)
	assert.Equal(t, []string{"t1", "t2"}, list.Pending)
	assert.Empty(t, list.Completed)

	var next types.NextTaskResponse
	resp = doRequest(t, s, http.MethodPost, "/api/tasks/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &next)
	assert.Equal(t, types.NextTaskResponse{Previous: "none", Current: "t1"}, next)

	resp = doRequest(t, s, http.MethodPost, "/api/tasks/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &next)
	assert.Equal(t, types.NextTaskResponse{Previous: "t1", Current: "t2"}, next)

	resp = doRequest(t, s, http.MethodPost, "/api/tasks/next", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	decode(t, doRequest(t, s, http.MethodGet, "/api/tasks", nil), &list)
	require.NotNil(t, list.Current)
	assert.Equal(t, "t2", *list.Current)
	assert.Equal(t, []string{"t1"}, list.Completed)
}

func TestCreateTask_Validation(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/api/tasks", types.CreateTaskRequest{Image: "img"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTask_RejectsEmptyPlatformImage(t *testing.T) {
	s, state := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/api/tasks", types.CreateTaskRequest{
		Name:   "t1",
		Image:  "img:1",
		Images: map[string]string{"linux/arm64": ""},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body types.ErrorResponse
	decode(t, resp, &body)
	assert.Contains(t, body.Message, "linux/arm64")
	assert.Empty(t, state.ListTasks().Pending)
}

func TestRegisterResolvesPlatform(t *testing.T) {
	s, state := newTestServer(t)
	state.AddTask(types.Task{Name: "t1", Image: "img:1", Images: map[string]string{"linux/arm64": "img:1-arm64"}})
	_, _, err := state.Advance()
	require.NoError(t, err)

	var reg types.RegisterNodeResponse
	resp := doRequest(t, s, http.MethodPost, "/gridnode/register", types.RegisterNodeRequest{
		Hostname: "pi", Architecture: "aarch64", CPUCount: 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &reg)
	assert.NotEmpty(t, reg.NodeID)
	require.NotNil(t, reg.CurrentTask)
	assert.Equal(t, "img:1-arm64", reg.CurrentTask.Image)

	var cfg *types.TaskConfig
	decode(t, doRequest(t, s, http.MethodGet, "/gridnode/task?platform=linux/amd64", nil), &cfg)
	require.NotNil(t, cfg)
	assert.Equal(t, "img:1", cfg.Image)

	decode(t, doRequest(t, s, http.MethodGet, "/gridnode/task", nil), &cfg)
	require.NotNil(t, cfg)
	assert.Equal(t, "img:1", cfg.Image)
}

func TestCurrentTask_Null(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodGet, "/gridnode/task?platform=linux/amd64", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "null", string(body))
}

func TestHeartbeat(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/gridnode/heartbeat", types.HeartbeatRequest{
		NodeID: "n404", Status: types.RuntimeStatusIdle,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var nodes []types.Node
	decode(t, doRequest(t, s, http.MethodGet, "/api/nodes", nil), &nodes)
	assert.Empty(t, nodes)

	resp = doRequest(t, s, http.MethodPost, "/gridnode/register", types.RegisterNodeRequest{
		NodeID: "n1", Hostname: "h1", Architecture: "x86_64", CPUCount: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hb types.HeartbeatResponse
	resp = doRequest(t, s, http.MethodPost, "/gridnode/heartbeat", types.HeartbeatRequest{
		NodeID: "n1", Status: types.RuntimeStatusIdle, ActiveContainers: 0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &hb)
	assert.False(t, hb.StopRequested)

	decode(t, doRequest(t, s, http.MethodGet, "/api/nodes", nil), &nodes)
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0].ID)
	assert.Equal(t, types.NodeStatusOnline, nodes[0].Status)
	assert.Zero(t, nodes[0].ActiveContainers)
	require.NotNil(t, nodes[0].RuntimeStatus)
	assert.Equal(t, types.RuntimeStatusIdle, *nodes[0].RuntimeStatus)
}

func TestHeartbeat_InvalidStatus(t *testing.T) {
	s, state := newTestServer(t)
	state.RegisterNode(types.RegisterNodeRequest{NodeID: "n1"})

	resp := doRequest(t, s, http.MethodPost, "/gridnode/heartbeat", map[string]any{
		"node_id": "n1", "status": "Sleeping", "active_containers": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNodeDrain(t *testing.T) {
	s, state := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/api/nodes/ghost/stop", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	state.RegisterNode(types.RegisterNodeRequest{NodeID: "n1"})

	resp = doRequest(t, s, http.MethodPost, "/api/nodes/n1/stop", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var hb types.HeartbeatResponse
	decode(t, doRequest(t, s, http.MethodPost, "/gridnode/heartbeat", types.HeartbeatRequest{
		NodeID: "n1", Status: types.RuntimeStatusRunning, ActiveContainers: 1,
	}), &hb)
	assert.True(t, hb.StopRequested)

	resp = doRequest(t, s, http.MethodDelete, "/api/nodes/n1/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	decode(t, doRequest(t, s, http.MethodPost, "/gridnode/heartbeat", types.HeartbeatRequest{
		NodeID: "n1", Status: types.RuntimeStatusRunning, ActiveContainers: 1,
	}), &hb)
	assert.False(t, hb.StopRequested)

	var nodes []map[string]any
	decode(t, doRequest(t, s, http.MethodGet, "/api/nodes", nil), &nodes)
	require.Len(t, nodes, 1)
	assert.NotContains(t, nodes[0], "stop_requested")
	assert.NotContains(t, nodes[0], "StopRequested")
}
