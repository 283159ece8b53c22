package types

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Name        string            `json:"name"`
	Image       string            `json:"image,omitempty"`
	Images      map[string]string `json:"images,omitempty"`
	InputRedis  string            `json:"input_redis,omitempty"`
	OutputRedis string            `json:"output_redis,omitempty"`
	InputQueue  string            `json:"input_queue,omitempty"`
	OutputQueue string            `json:"output_queue,omitempty"`
}

// Task converts the request into a queue task.
func (r *CreateTaskRequest) Task() Task {
	return Task{
		Name:        r.Name,
		Image:       r.Image,
		Images:      r.Images,
		InputRedis:  r.InputRedis,
		OutputRedis: r.OutputRedis,
		InputQueue:  r.InputQueue,
		OutputQueue: r.OutputQueue,
	}
}

// TaskListResponse is the body of GET /api/tasks.
type TaskListResponse struct {
	Current   *string  `json:"current"`
	Pending   []string `json:"pending"`
	Completed []string `json:"completed"`
}

// NextTaskResponse is the body of a successful POST /api/tasks/next.
type NextTaskResponse struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// RegisterNodeRequest is the body of POST /gridnode/register.
// An empty NodeID asks the hub to assign one.
type RegisterNodeRequest struct {
	NodeID       string `json:"node_id,omitempty"`
	Hostname     string `json:"hostname"`
	Architecture string `json:"architecture"`
	CPUCount     int    `json:"cpu_count"`
}

// RegisterNodeResponse is the body returned by POST /gridnode/register.
type RegisterNodeResponse struct {
	NodeID      string      `json:"node_id"`
	CurrentTask *TaskConfig `json:"current_task"`
}

// HeartbeatRequest is the body of POST /gridnode/heartbeat.
type HeartbeatRequest struct {
	NodeID           string        `json:"node_id"`
	Status           RuntimeStatus `json:"status"`
	ActiveContainers int           `json:"active_containers"`
}

// HeartbeatResponse carries the hub's stop acknowledgement.
type HeartbeatResponse struct {
	StopRequested bool `json:"stop_requested"`
}

// ErrorResponse is the JSON error body of the hub API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
