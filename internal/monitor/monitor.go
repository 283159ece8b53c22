// Package monitor reports the progress of a task by comparing the lengths of its
// input and output Redis lists.
package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/duke-git/lancet/v2/formatter"
	"github.com/redis/go-redis/v9"
)

// Lister is the subset of the Redis command set the monitor needs.
type Lister interface {
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Progress is one sample of the queues.
type Progress struct {
	Pending int64
	Done    int64
}

// Total returns pending plus done.
func (p Progress) Total() int64 {
	return p.Pending + p.Done
}

// Percent returns the done share in percent, or 0 when both queues are empty.
func (p Progress) Percent() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total()) * 100
}

// String renders the sample as one status line.
func (p Progress) String() string {
	if p.Total() == 0 {
		return "Waiting for tasks..."
	}
	return fmt.Sprintf("Pending: %10s  |  Done: %10s  |  Progress: %5.1f%%",
		formatter.Comma(p.Pending, ""), formatter.Comma(p.Done, ""), p.Percent())
}

// Config selects the queues to watch.
type Config struct {
	InputQueue  string
	OutputQueue string
	Interval    time.Duration
}

// Monitor samples an input and an output list.
type Monitor struct {
	input  Lister
	output Lister
	config Config
	out    io.Writer
}

// New creates a monitor. input and output may be the same client.
func New(input, output Lister, config Config, out io.Writer) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Monitor{input: input, output: output, config: config, out: out}
}

// Sample reads both list lengths once.
func (m *Monitor) Sample(ctx context.Context) (Progress, error) {
	pending, err := m.input.LLen(ctx, m.config.InputQueue).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("failed to read input queue %s: %w", m.config.InputQueue, err)
	}
	done, err := m.output.LLen(ctx, m.config.OutputQueue).Result()
	if err != nil {
		return Progress{}, fmt.Errorf("failed to read output queue %s: %w", m.config.OutputQueue, err)
	}
	return Progress{Pending: pending, Done: done}, nil
}

// Run prints a status line every interval until ctx is done, then a final line.
func (m *Monitor) Run(ctx context.Context) error {
	initial, err := m.Sample(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Initial state: %s pending, %s done\n\n",
		formatter.Comma(initial.Pending, ""), formatter.Comma(initial.Done, ""))
	fmt.Fprintln(m.out, "Monitoring... (Ctrl+C to stop)")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.final()
		case <-ticker.C:
			p, err := m.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return m.final()
				}
				return err
			}
			fmt.Fprintf(m.out, "\r%s", p)
		}
	}
}

func (m *Monitor) final() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := m.Sample(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "\n\nMonitoring stopped.\nFinal: %s pending, %s done\n",
		formatter.Comma(p.Pending, ""), formatter.Comma(p.Done, ""))
	return nil
}
