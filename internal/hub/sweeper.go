package hub

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/logger"
)

// SweeperConfig controls node staleness handling.
type SweeperConfig struct {
	Interval     time.Duration
	OfflineAfter time.Duration
	NodeTimeout  time.Duration
}

// Sweeper periodically marks silent nodes Offline and removes expired ones.
type Sweeper struct {
	state     *State
	config    SweeperConfig
	scheduler gocron.Scheduler
}

// NewSweeper creates a sweeper for state. It does not start until Start is called.
func NewSweeper(state *State, config SweeperConfig) (*Sweeper, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", config.Interval)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Sweeper{state: state, config: config, scheduler: scheduler}
	_, err = scheduler.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(s.RunOnce),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to schedule node sweep: %w", err)
	}
	return s, nil
}

// Start begins periodic sweeps.
func (s *Sweeper) Start() {
	s.scheduler.Start()
	logger.Info("Node sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("offline_after", s.config.OfflineAfter),
		zap.Duration("node_timeout", s.config.NodeTimeout),
	)
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	marked, removed := s.state.Sweep(s.config.OfflineAfter, s.config.NodeTimeout)
	if marked > 0 || removed > 0 {
		logger.Debug("Node sweep finished", zap.Int("marked_offline", marked), zap.Int("removed", removed))
	}
}
