package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field of a configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors reports whether any error was recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.addError(field, fmt.Sprintf("must be greater than zero, got %s", d))
	}
}

func (v *validator) nonNegative(field string, d time.Duration) {
	if d < 0 {
		v.addError(field, fmt.Sprintf("must not be negative, got %s", d))
	}
}

func (v *validator) result() error {
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Validate checks the hub configuration.
func (c *HubConfig) Validate() error {
	v := &validator{}

	if c.Bind == "" {
		v.addError("bind", "address is required")
	}
	v.positive("node_timeout", c.NodeTimeout)
	v.positive("offline_after", c.OfflineAfter)
	v.positive("cleanup_interval", c.CleanupInterval)
	v.nonNegative("read_timeout", c.ReadTimeout)
	v.nonNegative("write_timeout", c.WriteTimeout)
	if c.OfflineAfter > 0 && c.NodeTimeout > 0 && c.OfflineAfter > c.NodeTimeout {
		v.addError("offline_after", fmt.Sprintf("must not exceed node_timeout (%s > %s)", c.OfflineAfter, c.NodeTimeout))
	}
	if c.Redis.Enabled() && c.Redis.Key == "" {
		v.addError("redis.key", "key is required when redis.url is set")
	}

	return v.result()
}

// Validate checks the node configuration.
func (c *NodeConfig) Validate() error {
	v := &validator{}

	if c.ServerURL == "" {
		v.addError("server_url", "server URL is required")
	} else if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("server_url", "invalid URL, expected scheme://host[:port]")
	}
	if c.Parallelism < 0 {
		v.addError("parallelism", fmt.Sprintf("must not be negative, got %d", c.Parallelism))
	}
	v.positive("heartbeat_interval", c.HeartbeatInterval)
	v.positive("task_poll_interval", c.TaskPollInterval)
	v.nonNegative("stop_timeout", c.StopTimeout)
	v.nonNegative("request_timeout", c.RequestTimeout)
	if c.ContainerMemoryMB < 0 {
		v.addError("container_memory", fmt.Sprintf("must not be negative, got %d", c.ContainerMemoryMB))
	}

	return v.result()
}
