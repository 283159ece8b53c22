package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/internal/monitor"
	"github.com/Wolido/idm-gridcore/pkg/types"
)

var (
	monitorInputRedis  string
	monitorOutputRedis string
	monitorInputQueue  string
	monitorOutputQueue string
	monitorInterval    time.Duration
	monitorFromHub     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the input and output queues of a task",
	Long: `Print pending and done counts of a task's Redis queues every interval.
Queue settings come from the hub's current task unless --from-hub=false; flags
fill in whatever the task leaves empty.`,
	Example: `  gridcore monitor
  gridcore monitor --from-hub=false --input-redis redis://localhost:6379 \
      --input-queue test:input --output-queue test:output`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addAdminFlags(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorInputRedis, "input-redis", "redis://127.0.0.1:6379", "input Redis URL")
	monitorCmd.Flags().StringVar(&monitorOutputRedis, "output-redis", "", "output Redis URL (default: input Redis)")
	monitorCmd.Flags().StringVar(&monitorInputQueue, "input-queue", "test:input", "input list key")
	monitorCmd.Flags().StringVar(&monitorOutputQueue, "output-queue", "test:output", "output list key")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "refresh interval")
	monitorCmd.Flags().BoolVar(&monitorFromHub, "from-hub", true, "take queue settings from the hub's current task")
}

// monitorTarget is the resolved set of queues to watch.
type monitorTarget struct {
	InputRedis  string
	OutputRedis string
	InputQueue  string
	OutputQueue string
}

// resolveMonitorTarget overlays the task's queue settings on the flag values.
func resolveMonitorTarget(task *types.TaskConfig, flags monitorTarget) monitorTarget {
	target := flags
	if task != nil {
		if task.InputRedis != "" {
			target.InputRedis = task.InputRedis
		}
		if task.OutputRedis != "" {
			target.OutputRedis = task.OutputRedis
		}
		if task.InputQueue != "" {
			target.InputQueue = task.InputQueue
		}
		if task.OutputQueue != "" {
			target.OutputQueue = task.OutputQueue
		}
	}
	if target.OutputRedis == "" {
		target.OutputRedis = target.InputRedis
	}
	return target
}

func runMonitor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var task *types.TaskConfig
	if monitorFromHub {
		task = currentTaskForMonitor(ctx, cmd)
	}
	target := resolveMonitorTarget(task, monitorTarget{
		InputRedis:  monitorInputRedis,
		OutputRedis: monitorOutputRedis,
		InputQueue:  monitorInputQueue,
		OutputQueue: monitorOutputQueue,
	})

	fmt.Fprintln(out, "IDM-GridCore Queue Monitor")
	fmt.Fprintln(out, "========================================")
	if task != nil {
		fmt.Fprintf(out, "Task: %s\n", task.TaskName)
	}
	fmt.Fprintf(out, "Queues: %s -> %s\n\n", target.InputQueue, target.OutputQueue)

	input, err := hub.NewRedisClient(ctx, target.InputRedis)
	if err != nil {
		return err
	}
	defer input.Close()

	output := input
	if target.OutputRedis != target.InputRedis {
		output, err = hub.NewRedisClient(ctx, target.OutputRedis)
		if err != nil {
			return err
		}
		defer output.Close()
	}

	return newQueueMonitor(input, output, target, out).Run(ctx)
}

func newQueueMonitor(input, output *redis.Client, target monitorTarget, out io.Writer) *monitor.Monitor {
	return monitor.New(input, output, monitor.Config{
		InputQueue:  target.InputQueue,
		OutputQueue: target.OutputQueue,
		Interval:    monitorInterval,
	}, out)
}

// currentTaskForMonitor asks the hub for its current task. Any failure falls
// back to the flag values.
func currentTaskForMonitor(ctx context.Context, cmd *cobra.Command) *types.TaskConfig {
	c, err := newAdminClient(cmd)
	if err != nil {
		return nil
	}
	defer c.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	task, err := c.CurrentTask(reqCtx, types.DefaultPlatform)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hub not reachable (%v), using flag values\n", err)
		return nil
	}
	return task
}
