package config

import (
	"os"
	"runtime"
	"time"

	"github.com/Wolido/idm-gridcore/internal/logger"
)

const (
	// DefaultDir is where configuration files live when no path is given.
	DefaultDir = "/etc/idm-gridcore"
	// DefaultHubPath is the default hub configuration file.
	DefaultHubPath = DefaultDir + "/computehub.yaml"
	// DefaultNodePath is the default node configuration file.
	DefaultNodePath = DefaultDir + "/gridnode.yaml"
)

// Tokens shipped in templates. A hub started with one of these logs a warning.
var defaultTokens = []string{"change-me-in-production", "your-secret-token-change-this"}

// HubConfig configures the hub process.
type HubConfig struct {
	Bind            string        `yaml:"bind" env:"GRIDCORE_HUB_BIND"`
	Token           string        `yaml:"token" env:"GRIDCORE_HUB_TOKEN"`
	NodeTimeout     time.Duration `yaml:"node_timeout" env:"GRIDCORE_HUB_NODE_TIMEOUT"`
	OfflineAfter    time.Duration `yaml:"offline_after" env:"GRIDCORE_HUB_OFFLINE_AFTER"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"GRIDCORE_HUB_CLEANUP_INTERVAL"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	Redis           RedisConfig   `yaml:"redis"`
	Log             logger.Config `yaml:"log"`
}

// RedisConfig enables snapshot persistence of the task queue.
type RedisConfig struct {
	URL string `yaml:"url" env:"GRIDCORE_HUB_REDIS_URL"`
	Key string `yaml:"key" env:"GRIDCORE_HUB_REDIS_KEY"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// DefaultHubConfig returns hub defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		Bind:            "0.0.0.0:8080",
		Token:           "change-me-in-production",
		NodeTimeout:     60 * time.Second,
		OfflineAfter:    30 * time.Second,
		CleanupInterval: 30 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		Redis:           RedisConfig{Key: "gridcore:hub:queue"},
		Log:             logger.DefaultConfig(),
	}
}

// UsesDefaultToken reports whether the token is one of the template values.
func (c *HubConfig) UsesDefaultToken() bool {
	for _, t := range defaultTokens {
		if c.Token == t {
			return true
		}
	}
	return false
}

// NodeConfig configures a worker node.
type NodeConfig struct {
	ServerURL         string        `yaml:"server_url" env:"GRIDCORE_NODE_SERVER_URL"`
	Token             string        `yaml:"token" env:"GRIDCORE_NODE_TOKEN"`
	NodeID            string        `yaml:"node_id,omitempty" env:"GRIDCORE_NODE_ID"`
	Hostname          string        `yaml:"hostname" env:"GRIDCORE_NODE_HOSTNAME"`
	Architecture      string        `yaml:"architecture" env:"GRIDCORE_NODE_ARCHITECTURE"`
	Parallelism       int           `yaml:"parallelism" env:"GRIDCORE_NODE_PARALLELISM"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"GRIDCORE_NODE_HEARTBEAT_INTERVAL"`
	TaskPollInterval  time.Duration `yaml:"task_poll_interval" env:"GRIDCORE_NODE_TASK_POLL_INTERVAL"`
	StopTimeout       time.Duration `yaml:"stop_timeout" env:"GRIDCORE_NODE_STOP_TIMEOUT"`
	ContainerMemoryMB int64         `yaml:"container_memory" env:"GRIDCORE_NODE_CONTAINER_MEMORY"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Log               logger.Config `yaml:"log"`
}

// DefaultNodeConfig returns node defaults with host facts filled in.
func DefaultNodeConfig() *NodeConfig {
	hostname, _ := os.Hostname()
	return &NodeConfig{
		ServerURL:         "http://localhost:8080",
		Token:             "your-secret-token",
		Hostname:          hostname,
		Architecture:      HostArchitecture(),
		HeartbeatInterval: 30 * time.Second,
		TaskPollInterval:  10 * time.Second,
		StopTimeout:       10 * time.Second,
		ContainerMemoryMB: 512,
		RequestTimeout:    10 * time.Second,
		Log:               logger.DefaultConfig(),
	}
}

// GetParallelism returns the configured slot count, defaulting to the CPU count.
func (c *NodeConfig) GetParallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return runtime.NumCPU()
}

// HostArchitecture reports the running architecture using uname-style names.
func HostArchitecture() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "arm":
		return "arm"
	default:
		return runtime.GOARCH
	}
}
