package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnsureFile writes template to path when no file exists there yet.
// It reports whether the file was created.
func EnsureFile(path, template string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// SaveNodeID sets node_id in the YAML file at path, keeping the rest of the
// document (comments included) intact.
func SaveNodeID(path, nodeID string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", path)
	}

	setMappingValue(root, "node_id", nodeID)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0o600)
}

func setMappingValue(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].Kind = yaml.ScalarNode
			mapping.Content[i+1].Tag = "!!str"
			mapping.Content[i+1].Value = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

// HubTemplate is written when the hub starts without a configuration file.
const HubTemplate = `# IDM-GridCore ComputeHub configuration

# Listen address
bind: "0.0.0.0:8080"

# Bearer token nodes and admins must present. Change it.
token: "your-secret-token-change-this"

# Nodes silent for longer than offline_after are marked Offline,
# and removed after node_timeout.
offline_after: 30s
node_timeout: 60s
cleanup_interval: 30s

# Optional: persist the task queue to Redis so it survives hub restarts.
# redis:
#   url: "redis://:password@127.0.0.1:6379/0"
#   key: "gridcore:hub:queue"

log:
  level: info
  format: console
  output: stdout
`

// NodeTemplate is written when a node starts without a configuration file.
const NodeTemplate = `# IDM-GridCore GridNode configuration

# ComputeHub address
server_url: "http://localhost:8080"

# Must match the hub token
token: "your-secret-token"

# Assigned by the hub on first start and saved here automatically.
# node_id: ""

# Detected automatically when omitted.
# hostname: "my-node"
# architecture: "x86_64"

# Parallel execution slots (defaults to the CPU count)
# parallelism: 4

heartbeat_interval: 30s
task_poll_interval: 10s

# Grace period for a unit to exit before it is killed
stop_timeout: 10s

# Memory limit per unit in MiB
container_memory: 512

log:
  level: info
  format: console
  output: stdout
`
