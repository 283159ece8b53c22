// Package client is the HTTP client for the hub API, used by gridnodes and by the
// admin commands.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

// ErrNodeNotFound is returned when the hub does not know the node id.
var ErrNodeNotFound = errors.New("node not registered with hub")

// ErrQueueExhausted is returned by NextTask when the hub has no further task.
var ErrQueueExhausted = errors.New("no more tasks available")

// StatusError is a non-success hub response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("hub returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("hub returned %d", e.StatusCode)
}

// Config holds the configuration for the hub client.
type Config struct {
	// ServerURL is the base URL of the hub (e.g., "http://localhost:8080").
	ServerURL string

	// Token is the shared bearer token.
	Token string

	// RequestTimeout bounds every request.
	RequestTimeout time.Duration
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:      "http://localhost:8080",
		RequestTimeout: 10 * time.Second,
	}
}

// Client talks to the hub over HTTP.
type Client struct {
	config  *Config
	baseURL string
	agent   *fiber.Client
}

// NewClient creates a hub client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.ServerURL, "/"),
		agent:   fiber.AcquireClient(),
	}
}

// Close releases the underlying HTTP client.
func (c *Client) Close() {
	fiber.ReleaseClient(c.agent)
}

// Health checks that the hub is reachable.
func (c *Client) Health(ctx context.Context) error {
	statusCode, body, err := c.do(ctx, fiber.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if statusCode != fiber.StatusOK {
		return statusError(statusCode, body)
	}
	return nil
}

// Register registers a node and returns its id and current task.
func (c *Client) Register(ctx context.Context, req *types.RegisterNodeRequest) (*types.RegisterNodeResponse, error) {
	statusCode, body, err := c.do(ctx, fiber.MethodPost, "/gridnode/register", req)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("registration failed: %w", statusError(statusCode, body))
	}

	var resp types.RegisterNodeResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal register response: %w", err)
	}
	return &resp, nil
}

// Heartbeat reports liveness and returns whether the hub asks the node to stop.
// It returns ErrNodeNotFound when the hub no longer knows the node.
func (c *Client) Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (bool, error) {
	statusCode, body, err := c.do(ctx, fiber.MethodPost, "/gridnode/heartbeat", req)
	if err != nil {
		return false, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	if statusCode == fiber.StatusNotFound {
		return false, ErrNodeNotFound
	}
	if statusCode != fiber.StatusOK {
		return false, fmt.Errorf("heartbeat failed: %w", statusError(statusCode, body))
	}

	var resp types.HeartbeatResponse
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &resp); err != nil {
			return false, fmt.Errorf("failed to unmarshal heartbeat response: %w", err)
		}
	}
	return resp.StopRequested, nil
}

// CurrentTask returns the current task resolved for platform, or nil.
func (c *Client) CurrentTask(ctx context.Context, platform string) (*types.TaskConfig, error) {
	path := "/gridnode/task?platform=" + url.QueryEscape(platform)
	statusCode, body, err := c.do(ctx, fiber.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("fetch task failed: %w", statusError(statusCode, body))
	}

	var cfg *types.TaskConfig
	if err := sonic.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return cfg, nil
}

// AddTask appends a task to the hub queue.
func (c *Client) AddTask(ctx context.Context, req *types.CreateTaskRequest) error {
	statusCode, body, err := c.do(ctx, fiber.MethodPost, "/api/tasks", req)
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	if statusCode != fiber.StatusCreated {
		return fmt.Errorf("add task failed: %w", statusError(statusCode, body))
	}
	return nil
}

// ListTasks returns the queue summary.
func (c *Client) ListTasks(ctx context.Context) (*types.TaskListResponse, error) {
	statusCode, body, err := c.do(ctx, fiber.MethodGet, "/api/tasks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("list tasks failed: %w", statusError(statusCode, body))
	}

	var resp types.TaskListResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task list: %w", err)
	}
	return &resp, nil
}

// NextTask advances the hub queue. It returns ErrQueueExhausted when there is
// no further task.
func (c *Client) NextTask(ctx context.Context) (*types.NextTaskResponse, error) {
	statusCode, body, err := c.do(ctx, fiber.MethodPost, "/api/tasks/next", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to advance task: %w", err)
	}
	if statusCode == fiber.StatusBadRequest {
		return nil, ErrQueueExhausted
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("advance task failed: %w", statusError(statusCode, body))
	}

	var resp types.NextTaskResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal next task response: %w", err)
	}
	return &resp, nil
}

// ListNodes returns the registered nodes.
func (c *Client) ListNodes(ctx context.Context) ([]types.Node, error) {
	statusCode, body, err := c.do(ctx, fiber.MethodGet, "/api/nodes", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("list nodes failed: %w", statusError(statusCode, body))
	}

	var nodes []types.Node
	if err := sonic.Unmarshal(body, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node list: %w", err)
	}
	return nodes, nil
}

// RequestStop asks a node to drain.
func (c *Client) RequestStop(ctx context.Context, nodeID string) error {
	return c.nodeStop(ctx, fiber.MethodPost, nodeID)
}

// ClearStop withdraws a drain request.
func (c *Client) ClearStop(ctx context.Context, nodeID string) error {
	return c.nodeStop(ctx, fiber.MethodDelete, nodeID)
}

func (c *Client) nodeStop(ctx context.Context, method, nodeID string) error {
	path := "/api/nodes/" + url.PathEscape(nodeID) + "/stop"
	statusCode, body, err := c.do(ctx, method, path, nil)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", nodeID, err)
	}
	if statusCode == fiber.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if statusCode != fiber.StatusOK && statusCode != fiber.StatusAccepted {
		return fmt.Errorf("update node %s failed: %w", nodeID, statusError(statusCode, body))
	}
	return nil
}

// do sends one request and returns the status code and body.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	timeout := c.config.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	target := c.baseURL + path
	var agent *fiber.Agent
	switch method {
	case fiber.MethodPost:
		agent = c.agent.Post(target)
	case fiber.MethodDelete:
		agent = c.agent.Delete(target)
	default:
		agent = c.agent.Get(target)
	}
	agent.Timeout(timeout)
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.config.Token)

	if payload != nil {
		body, err := sonic.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		agent.Body(body)
		agent.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, nil, errs[0]
	}
	return statusCode, body, nil
}

func statusError(statusCode int, body []byte) error {
	var errResp types.ErrorResponse
	if err := sonic.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &StatusError{StatusCode: statusCode, Message: errResp.Message}
	}
	return &StatusError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}
