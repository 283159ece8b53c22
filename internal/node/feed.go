package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// TaskSource returns the hub's current task resolved for a platform.
type TaskSource interface {
	CurrentTask(ctx context.Context, platform string) (*types.TaskConfig, error)
}

// Feed polls the hub for the current task and publishes name changes to a
// TaskSignal. Poll failures keep the last known task.
type Feed struct {
	source   TaskSource
	platform string
	interval time.Duration
	signal   *TaskSignal
	log      *zap.Logger

	last string
}

// NewFeed creates a feed publishing to signal. The signal's current value is
// taken as already published.
func NewFeed(source TaskSource, platform string, interval time.Duration, signal *TaskSignal) *Feed {
	if interval <= 0 {
		interval = DefaultTaskPollInterval
	}
	return &Feed{
		source:   source,
		platform: platform,
		interval: interval,
		signal:   signal,
		log:      logger.Named("feed"),
		last:     signal.Load().Name(),
	}
}

// Poll fetches the current task once and reports whether it was published.
func (f *Feed) Poll(ctx context.Context) bool {
	task, err := f.source.CurrentTask(ctx, f.platform)
	if err != nil {
		f.log.Warn("Failed to get task", zap.Error(err))
		return false
	}

	name := task.Name()
	if name == f.last {
		return false
	}

	f.log.Info("Task changed", zap.String("from", displayName(f.last)), zap.String("to", displayName(name)))
	f.last = name
	f.signal.Publish(task)
	return true
}

// Run polls every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Poll(ctx)
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
