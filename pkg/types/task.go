package types

// Task is an immutable batch task appended to the hub queue.
// Tasks are identified by name; duplicate names are allowed and never merged.
type Task struct {
	Name string `json:"name" yaml:"name"`

	// Image is the default image used when no per-platform entry matches.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	// Images maps a platform ("os/arch") to an architecture-specific image.
	Images map[string]string `json:"images,omitempty" yaml:"images,omitempty"`

	InputRedis  string `json:"input_redis,omitempty" yaml:"input_redis,omitempty"`
	OutputRedis string `json:"output_redis,omitempty" yaml:"output_redis,omitempty"`
	InputQueue  string `json:"input_queue,omitempty" yaml:"input_queue,omitempty"`
	OutputQueue string `json:"output_queue,omitempty" yaml:"output_queue,omitempty"`
}

// ImageFor resolves the image for a platform. An exact per-platform entry always
// wins over the default image; ok is false when neither exists.
func (t *Task) ImageFor(platform string) (image string, ok bool) {
	if img, found := t.Images[platform]; found && img != "" {
		return img, true
	}
	if t.Image != "" {
		return t.Image, true
	}
	return "", false
}

// ConfigFor projects the task for a requester's platform. It returns nil when
// no image can be resolved for that platform.
func (t *Task) ConfigFor(platform string) *TaskConfig {
	image, ok := t.ImageFor(platform)
	if !ok {
		return nil
	}
	return &TaskConfig{
		TaskName:    t.Name,
		Image:       image,
		InputRedis:  t.InputRedis,
		OutputRedis: t.OutputRedis,
		InputQueue:  t.InputQueue,
		OutputQueue: t.OutputQueue,
	}
}

// TaskStatus is the status of one queue entry.
type TaskStatus string

const (
	// TaskStatusPending indicates the entry has not been reached yet.
	TaskStatusPending TaskStatus = "Pending"
	// TaskStatusRunning indicates the entry is the current task.
	TaskStatusRunning TaskStatus = "Running"
	// TaskStatusCompleted indicates the queue has advanced past the entry.
	TaskStatusCompleted TaskStatus = "Completed"
)

// TaskConfig is the task as seen by one node: the image is already resolved
// for the node's platform. It is computed on demand and never stored.
type TaskConfig struct {
	TaskName    string `json:"task_name"`
	Image       string `json:"image"`
	InputRedis  string `json:"input_redis,omitempty"`
	OutputRedis string `json:"output_redis,omitempty"`
	InputQueue  string `json:"input_queue,omitempty"`
	OutputQueue string `json:"output_queue,omitempty"`
}

// Name returns the task name, or "" for a nil config.
func (c *TaskConfig) Name() string {
	if c == nil {
		return ""
	}
	return c.TaskName
}
