package hub

import (
	"fmt"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// NodeRegistry maps node ids to node records.
// It is not safe for concurrent use; State serializes access.
type NodeRegistry struct {
	nodes map[string]*types.Node
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]*types.Node)}
}

// Register stores node, replacing any record with the same id.
func (r *NodeRegistry) Register(node *types.Node) {
	r.nodes[node.ID] = node
}

// Get returns a copy of the node record.
func (r *NodeRegistry) Get(id string) (types.Node, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return types.Node{}, false
	}
	return *n, true
}

// Len returns the number of registered nodes.
func (r *NodeRegistry) Len() int {
	return len(r.nodes)
}

// Heartbeat records a liveness report and returns the node's drain flag.
func (r *NodeRegistry) Heartbeat(id string, status types.RuntimeStatus, active int, now time.Time) (bool, error) {
	n, ok := r.nodes[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}

	n.LastSeen = now
	n.Status = types.NodeStatusOnline
	rs := status
	n.RuntimeStatus = &rs
	n.ActiveContainers = active

	if status == types.RuntimeStatusError {
		logger.Warn("Node reported error status",
			zap.String("node_id", id),
			zap.String("hostname", n.Hostname),
			zap.Int("active_containers", active),
		)
	}

	return n.StopRequested, nil
}

// SetStopRequested sets or clears the drain flag of a node.
func (r *NodeRegistry) SetStopRequested(id string, stop bool) error {
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.StopRequested = stop
	return nil
}

// MarkOffline flags Online nodes whose last heartbeat is older than after.
// It returns the ids it changed.
func (r *NodeRegistry) MarkOffline(after time.Duration, now time.Time) []string {
	var marked []string
	for id, n := range r.nodes {
		if n.Status == types.NodeStatusOnline && now.Sub(n.LastSeen) > after {
			n.Status = types.NodeStatusOffline
			marked = append(marked, id)
		}
	}
	return marked
}

// CleanupOffline removes nodes whose last heartbeat is older than timeout.
// It returns the removed ids.
func (r *NodeRegistry) CleanupOffline(timeout time.Duration, now time.Time) []string {
	var removed []string
	for id, n := range r.nodes {
		if now.Sub(n.LastSeen) > timeout {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(r.nodes, id)
	}
	return removed
}

// List returns copies of all node records ordered by id.
func (r *NodeRegistry) List() []types.Node {
	nodes := slice.Map(maputil.Values(r.nodes), func(_ int, n *types.Node) types.Node {
		return *n
	})
	slice.SortBy(nodes, func(a, b types.Node) bool {
		return a.ID < b.ID
	})
	return nodes
}
