package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

var (
	taskName        string
	taskImage       string
	taskImages      []string
	taskInputRedis  string
	taskOutputRedis string
	taskInputQueue  string
	taskOutputQueue string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the hub task queue",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a task to the queue",
	Example: `  gridcore task add --name resize --image registry/resize:1.2
  gridcore task add --name resize --image registry/resize:1.2 \
      --images linux/arm64=registry/resize:1.2-arm64 \
      --input-queue resize:in --output-queue resize:out`,
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the current, pending and completed tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Complete the current task and start the next one",
	Args:  cobra.NoArgs,
	RunE:  runTaskNext,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskNextCmd)
	addAdminFlags(taskCmd)

	taskAddCmd.Flags().StringVar(&taskName, "name", "", "task name")
	taskAddCmd.Flags().StringVar(&taskImage, "image", "", "default image")
	taskAddCmd.Flags().StringSliceVar(&taskImages, "images", nil, "per-platform images as platform=image")
	taskAddCmd.Flags().StringVar(&taskInputRedis, "input-redis", "", "input Redis URL passed to the units")
	taskAddCmd.Flags().StringVar(&taskOutputRedis, "output-redis", "", "output Redis URL passed to the units")
	taskAddCmd.Flags().StringVar(&taskInputQueue, "input-queue", "", "input queue name passed to the units")
	taskAddCmd.Flags().StringVar(&taskOutputQueue, "output-queue", "", "output queue name passed to the units")
	_ = taskAddCmd.MarkFlagRequired("name")
}

// parseImages turns platform=image pairs into a map.
func parseImages(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	images := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		platform, image, ok := strings.Cut(pair, "=")
		platform, image = strings.TrimSpace(platform), strings.TrimSpace(image)
		if !ok || platform == "" || image == "" {
			return nil, fmt.Errorf("invalid --images entry %q, want platform=image", pair)
		}
		images[platform] = image
	}
	return images, nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	images, err := parseImages(taskImages)
	if err != nil {
		return err
	}
	if taskImage == "" && len(images) == 0 {
		return fmt.Errorf("either --image or --images is required")
	}

	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	req := &types.CreateTaskRequest{
		Name:        taskName,
		Image:       taskImage,
		Images:      images,
		InputRedis:  taskInputRedis,
		OutputRedis: taskOutputRedis,
		InputQueue:  taskInputQueue,
		OutputQueue: taskOutputQueue,
	}
	if err := c.AddTask(ctx, req); err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s added\n", taskName)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	list, err := c.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	printTaskList(cmd, list)
	return nil
}

func printTaskList(cmd *cobra.Command, list *types.TaskListResponse) {
	out := cmd.OutOrStdout()
	current := "(none)"
	if list.Current != nil {
		current = *list.Current
	}
	fmt.Fprintf(out, "Current:   %s\n", current)
	fmt.Fprintf(out, "Pending:   %s\n", joinOrDash(list.Pending))
	fmt.Fprintf(out, "Completed: %s\n", joinOrDash(list.Completed))
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func runTaskNext(cmd *cobra.Command, args []string) error {
	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	resp, err := c.NextTask(ctx)
	if err != nil {
		return fmt.Errorf("failed to advance queue: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched from %s to %s\n", resp.Previous, resp.Current)
	return nil
}
