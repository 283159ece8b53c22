package node

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/api/rest/client"
	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// HubClient is the part of the hub API a node uses.
type HubClient interface {
	TaskSource
	Register(ctx context.Context, req *types.RegisterNodeRequest) (*types.RegisterNodeResponse, error)
	Heartbeat(ctx context.Context, req *types.HeartbeatRequest) (bool, error)
}

// Reporter sends periodic heartbeats built from SlotStats and relays a hub stop
// request into the shutdown flag.
type Reporter struct {
	client   HubClient
	register types.RegisterNodeRequest
	stats    *SlotStats
	shutdown *Shutdown
	interval time.Duration
	log      *zap.Logger
}

// NewReporter creates a reporter. register is resent with the same node id if
// the hub has forgotten the node.
func NewReporter(c HubClient, register types.RegisterNodeRequest, stats *SlotStats, shutdown *Shutdown, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Reporter{
		client:   c,
		register: register,
		stats:    stats,
		shutdown: shutdown,
		interval: interval,
		log:      logger.Named("reporter").With(zap.String("node_id", register.NodeID)),
	}
}

// Tick sends one heartbeat.
func (r *Reporter) Tick(ctx context.Context) {
	req := &types.HeartbeatRequest{
		NodeID:           r.register.NodeID,
		Status:           r.stats.Status(),
		ActiveContainers: r.stats.Active(),
	}

	stop, err := r.client.Heartbeat(ctx, req)
	switch {
	case errors.Is(err, client.ErrNodeNotFound):
		r.log.Warn("Hub does not recognize node, registering again")
		if _, err := r.client.Register(ctx, &r.register); err != nil {
			r.log.Warn("Re-registration failed", zap.Error(err))
			return
		}
		r.log.Info("Re-registered with hub")
	case err != nil:
		r.log.Warn("Heartbeat failed", zap.Error(err))
	case stop:
		r.log.Info("Stop requested by hub")
		r.shutdown.Trigger("stop requested by hub")
	default:
		r.log.Debug("Heartbeat sent", zap.String("status", string(req.Status)), zap.Int("active_containers", req.ActiveContainers))
	}
}

// Run sends a heartbeat immediately and then every interval until ctx is done.
// Heartbeats continue while slots drain after shutdown so the hub keeps seeing
// the node.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
