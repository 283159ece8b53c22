package types

import "time"

// NodeStatus is the hub's view of node liveness.
type NodeStatus string

const (
	// NodeStatusOnline indicates the node heartbeated recently.
	NodeStatusOnline NodeStatus = "Online"
	// NodeStatusOffline indicates the node missed heartbeats but is not yet removed.
	NodeStatusOffline NodeStatus = "Offline"
)

// RuntimeStatus is what a node reports about its own slots.
type RuntimeStatus string

const (
	// RuntimeStatusRunning indicates at least one unit is active.
	RuntimeStatusRunning RuntimeStatus = "Running"
	// RuntimeStatusIdle indicates no unit is active and no slot has an error.
	RuntimeStatusIdle RuntimeStatus = "Idle"
	// RuntimeStatusError indicates at least one slot recorded an error.
	RuntimeStatusError RuntimeStatus = "Error"
)

// Valid reports whether s is one of the known runtime statuses.
func (s RuntimeStatus) Valid() bool {
	switch s {
	case RuntimeStatusRunning, RuntimeStatusIdle, RuntimeStatusError:
		return true
	}
	return false
}

// Node is the hub's record of a worker node.
type Node struct {
	ID               string         `json:"id"`
	Hostname         string         `json:"hostname"`
	Architecture     string         `json:"architecture"`
	CPUCount         int            `json:"cpu_count"`
	LastSeen         time.Time      `json:"last_seen"`
	Status           NodeStatus     `json:"status"`
	RuntimeStatus    *RuntimeStatus `json:"runtime_status"`
	ActiveContainers int            `json:"active_containers"`

	// StopRequested is an admin drain flag. It is never serialized.
	StopRequested bool `json:"-"`
}

// Platform returns the image platform for the node's architecture.
func (n *Node) Platform() string {
	return PlatformFor(n.Architecture)
}
