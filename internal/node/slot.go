package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/internal/container"
	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

// SlotConfig holds the retry, backoff and polling constants of a slot.
type SlotConfig struct {
	PullAttempts    int
	PullRetryDelay  time.Duration
	PullFailureWait time.Duration

	StartAttempts   int
	StartRetryDelay time.Duration

	BackoffStep time.Duration
	BackoffCap  time.Duration

	IdleWait  time.Duration
	LoopPause time.Duration
	WaitPoll  time.Duration

	// StopTimeout is the grace period a unit gets before it is killed.
	StopTimeout time.Duration

	MemoryMB int64
	CPUs     float64
}

// DefaultSlotConfig returns the production constants.
func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		PullAttempts:    3,
		PullRetryDelay:  5 * time.Second,
		PullFailureWait: 30 * time.Second,
		StartAttempts:   3,
		StartRetryDelay: 5 * time.Second,
		BackoffStep:     10 * time.Second,
		BackoffCap:      60 * time.Second,
		IdleWait:        5 * time.Second,
		LoopPause:       100 * time.Millisecond,
		WaitPoll:        100 * time.Millisecond,
		StopTimeout:     10 * time.Second,
		MemoryMB:        512,
		CPUs:            1,
	}
}

// Backoff returns the wait after the given number of consecutive failures:
// BackoffStep per failure, capped at BackoffCap.
func (c SlotConfig) Backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if c.BackoffStep > 0 && time.Duration(failures) > c.BackoffCap/c.BackoffStep {
		return c.BackoffCap
	}
	d := c.BackoffStep * time.Duration(failures)
	if d > c.BackoffCap {
		return c.BackoffCap
	}
	return d
}

// errInterrupted marks a retry loop cut short by a task change or shutdown.
var errInterrupted = errors.New("interrupted")

// outcome is how a running unit ended.
type outcome int

const (
	outcomeExited outcome = iota
	outcomeWaitFailed
	outcomePreempted
)

// Slot keeps one unit of the current task running. All fields below the
// constructor arguments are owned by the goroutine running Run.
type Slot struct {
	index    int
	nodeID   string
	platform string
	config   SlotConfig

	driver   container.Driver
	recv     *Receiver
	shutdown *Shutdown
	stats    *SlotStats
	log      *zap.Logger

	lastTask string
	pulled   bool
	unitID   string
	failures atomic.Int64
}

// NewSlot creates the controller for slot index.
func NewSlot(index int, nodeID, platform string, config SlotConfig, driver container.Driver, signal *TaskSignal, shutdown *Shutdown, stats *SlotStats) *Slot {
	return &Slot{
		index:    index,
		nodeID:   nodeID,
		platform: platform,
		config:   config,
		driver:   driver,
		recv:     signal.Subscribe(),
		shutdown: shutdown,
		stats:    stats,
		log:      logger.Named("slot").With(zap.Int("slot", index)),
	}
}

// Failures returns the consecutive failure count.
func (s *Slot) Failures() int {
	return int(s.failures.Load())
}

// Run drives the slot until shutdown. ctx bounds image pulls and unit starts.
func (s *Slot) Run(ctx context.Context) {
	for {
		if s.shutdown.IsSet() {
			s.log.Info("Stop requested, cleaning up")
			if s.unitID != "" {
				s.stopAndRemove(s.unitID)
				s.unitID = ""
			}
			return
		}

		task := s.recv.Current()
		if task == nil {
			if s.lastTask != "" {
				s.log.Info("No task assigned, waiting", zap.String("previous", s.lastTask))
				s.lastTask = ""
				s.pulled = false
				s.resetFailures()
			}
			s.sleep(s.config.IdleWait)
		} else {
			if task.TaskName != s.lastTask {
				s.log.Info("Starting task",
					zap.String("task", task.TaskName),
					zap.Int("previous_failures", s.Failures()),
				)
				s.lastTask = task.TaskName
				s.pulled = false
				s.resetFailures()
			}
			s.runOnce(ctx, task)
		}

		s.pause(s.config.LoopPause)
	}
}

// runOnce performs one pass of pull, start and wait for task.
func (s *Slot) runOnce(ctx context.Context, task *types.TaskConfig) {
	log := s.log.With(zap.String("task", task.TaskName))

	if !s.pulled {
		if err := s.pullWithRetry(ctx, task.Image); err != nil {
			if errors.Is(err, errInterrupted) {
				log.Info("Image pull interrupted", zap.String("image", task.Image))
				return
			}
			log.Error("Failed to pull image after retries", zap.String("image", task.Image), zap.Error(err))
			s.fail(fmt.Sprintf("image pull failed: %v", err))
			if s.sleep(s.config.PullFailureWait) {
				log.Info("Pull failure wait interrupted")
			}
			return
		}
		s.pulled = true
	}

	id, ok := s.startWithRetry(ctx, task, log)
	if !ok {
		return
	}

	s.unitID = id
	s.stats.IncActive()
	s.stats.ClearError(s.index)

	result, code, err := s.race(id, task.TaskName, log)

	s.stats.DecActive()
	s.unitID = ""

	switch result {
	case outcomePreempted:
		s.resetFailures()
		s.remove(id)

	case outcomeWaitFailed:
		log.Warn("Error waiting for unit", zap.String("unit", id), zap.Error(err))
		s.fail(fmt.Sprintf("wait failed: %v", err))
		s.stopAndRemove(id)
		s.backoff(log)

	case outcomeExited:
		s.remove(id)
		if code != 0 {
			log.Warn("Unit exited with error", zap.Int64("exit_code", code))
			s.fail(fmt.Sprintf("unit exited with code %d", code))
			s.backoff(log)
			return
		}
		log.Info("Unit exited successfully")
		s.resetFailures()
		s.sleep(s.config.IdleWait)
	}
}

func (s *Slot) pullWithRetry(ctx context.Context, image string) error {
	var err error
	for attempt := 1; attempt <= s.config.PullAttempts; attempt++ {
		if err = s.driver.PullImage(ctx, image, s.platform); err == nil {
			return nil
		}
		if attempt < s.config.PullAttempts {
			s.log.Warn("Failed to pull image, retrying",
				zap.String("image", image),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.config.PullAttempts),
				zap.Error(err),
			)
			if s.sleep(s.config.PullRetryDelay) {
				return fmt.Errorf("%w after attempt %d: %v", errInterrupted, attempt, err)
			}
		}
	}
	return err
}

// startWithRetry starts a unit for task. It returns false when every attempt
// failed or a retry wait was interrupted.
func (s *Slot) startWithRetry(ctx context.Context, task *types.TaskConfig, log *zap.Logger) (string, bool) {
	spec := container.UnitSpec{
		Name:     container.UnitName(task.TaskName, s.nodeID, s.index),
		Image:    task.Image,
		Platform: s.platform,
		Env:      s.unitEnv(task),
		Labels: map[string]string{
			"io.gridcore.task": task.TaskName,
			"io.gridcore.node": s.nodeID,
			"io.gridcore.slot": strconv.Itoa(s.index),
		},
		MemoryMB: s.config.MemoryMB,
		CPUs:     s.config.CPUs,
	}

	for attempt := 1; attempt <= s.config.StartAttempts; attempt++ {
		id, err := s.driver.StartUnit(ctx, spec)
		if err == nil {
			log.Info("Unit started", zap.String("unit", spec.Name), zap.String("id", id))
			return id, true
		}

		log.Error("Failed to start unit",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.config.StartAttempts),
			zap.Error(err),
		)
		if attempt < s.config.StartAttempts && s.sleep(s.config.StartRetryDelay) {
			log.Info("Start retry wait interrupted")
			return "", false
		}
	}

	s.fail(fmt.Sprintf("failed to start unit after %d attempts", s.config.StartAttempts))
	s.backoff(log)
	return "", false
}

// race waits for the unit to exit while polling for a task change or
// shutdown, either of which stops the unit.
func (s *Slot) race(id, taskName string, log *zap.Logger) (outcome, int64, error) {
	type waitResult struct {
		code int64
		err  error
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resCh := make(chan waitResult, 1)
	go func() {
		code, err := s.driver.WaitUnit(waitCtx, id)
		resCh <- waitResult{code: code, err: err}
	}()

	poll := time.NewTimer(s.config.WaitPoll)
	defer poll.Stop()

	for {
		select {
		case r := <-resCh:
			if r.err != nil {
				return outcomeWaitFailed, 0, r.err
			}
			return outcomeExited, r.code, nil
		case <-poll.C:
		}

		if s.shutdown.IsSet() {
			log.Info("Shutdown while unit running, stopping unit", zap.Duration("grace", s.config.StopTimeout))
			s.stop(id)
			return outcomePreempted, 0, nil
		}

		if s.recv.HasChanged() {
			if next := s.recv.Current(); next.Name() != taskName {
				log.Info("Task changed, stopping unit",
					zap.String("to", displayName(next.Name())),
					zap.Duration("grace", s.config.StopTimeout),
				)
				s.stop(id)
				return outcomePreempted, 0, nil
			}
		}

		poll.Reset(s.config.WaitPoll)
	}
}

func (s *Slot) unitEnv(task *types.TaskConfig) map[string]string {
	env := map[string]string{
		"TASK_NAME":   task.TaskName,
		"NODE_ID":     s.nodeID,
		"INSTANCE_ID": strconv.Itoa(s.index),
	}
	if task.InputRedis != "" {
		env["INPUT_REDIS_URL"] = task.InputRedis
	}
	if task.OutputRedis != "" {
		env["OUTPUT_REDIS_URL"] = task.OutputRedis
	}
	if task.InputQueue != "" {
		env["INPUT_QUEUE"] = task.InputQueue
	}
	if task.OutputQueue != "" {
		env["OUTPUT_QUEUE"] = task.OutputQueue
	}
	return env
}

func (s *Slot) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StopTimeout+10*time.Second)
	defer cancel()
	if err := s.driver.StopUnit(ctx, id, s.config.StopTimeout); err != nil {
		s.log.Warn("Failed to stop unit", zap.String("unit", id), zap.Error(err))
	}
}

func (s *Slot) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.driver.RemoveUnit(ctx, id); err != nil {
		s.log.Warn("Failed to remove unit", zap.String("unit", id), zap.Error(err))
	}
}

func (s *Slot) stopAndRemove(id string) {
	s.stop(id)
	s.remove(id)
}

func (s *Slot) fail(msg string) {
	s.failures.Add(1)
	s.stats.SetError(s.index, msg)
}

func (s *Slot) resetFailures() {
	s.failures.Store(0)
	s.stats.ClearError(s.index)
}

func (s *Slot) backoff(log *zap.Logger) {
	d := s.config.Backoff(s.Failures())
	log.Warn("Backing off after repeated failures", zap.Duration("backoff", d), zap.Int("failures", s.Failures()))
	if s.sleep(d) {
		log.Info("Backoff interrupted")
	}
}

// sleep waits for d and reports whether a task change or shutdown cut it short.
func (s *Slot) sleep(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return false
	case <-s.recv.Changed():
		return true
	case <-s.shutdown.Done():
		return true
	}
}

// pause waits for d, waking early only on shutdown.
func (s *Slot) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-s.shutdown.Done():
	}
}
