package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/api/rest/client"
	"github.com/Wolido/idm-gridcore/internal/config"
	"github.com/Wolido/idm-gridcore/internal/container"
	"github.com/Wolido/idm-gridcore/internal/logger"
	"github.com/Wolido/idm-gridcore/internal/node"
)

const (
	dockerConnectAttempts = 5
	dockerConnectInterval = 5 * time.Second
)

var (
	nodeServerURL   string
	nodeToken       string
	nodeID          string
	nodeParallelism int
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "GridNode commands",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a GridNode",
	Long: `Start a GridNode. The node registers with the hub, follows the current
task and keeps one container running per slot until it is told to stop.`,
	Example: `  # Start with the default configuration file
  gridcore node start

  # Point at another hub and run 8 slots
  gridcore node start --server http://hub:8080 --parallelism 8`,
	RunE: runNodeStart,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeStartCmd)

	nodeStartCmd.Flags().StringVar(&nodeServerURL, "server", "", "hub URL (overrides server_url)")
	nodeStartCmd.Flags().StringVar(&nodeToken, "token", "", "bearer token (overrides token)")
	nodeStartCmd.Flags().StringVar(&nodeID, "id", "", "node ID (overrides node_id)")
	nodeStartCmd.Flags().IntVar(&nodeParallelism, "parallelism", 0, "number of slots (overrides parallelism)")
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	path := configPath(config.DefaultNodePath)
	if stop, err := ensureConfig(cmd, path, config.NodeTemplate); err != nil || stop {
		return err
	}

	overrides := make(map[string]string)
	if cmd.Flags().Changed("server") {
		overrides["server_url"] = nodeServerURL
	}
	if cmd.Flags().Changed("token") {
		overrides["token"] = nodeToken
	}
	if cmd.Flags().Changed("id") {
		overrides["node_id"] = nodeID
	}
	if cmd.Flags().Changed("parallelism") {
		overrides["parallelism"] = strconv.Itoa(nodeParallelism)
	}

	cfg, err := config.LoadNode(path, logOverrides(overrides))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(&cfg.Log)
	defer logger.Sync()

	hubClient := client.NewClient(&client.Config{
		ServerURL:      cfg.ServerURL,
		Token:          cfg.Token,
		RequestTimeout: cfg.RequestTimeout,
	})
	defer hubClient.Close()

	shutdown := node.NewShutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.WatchSignals(ctx, shutdown)

	// Startup steps give up as soon as a signal arrives.
	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	go func() {
		select {
		case <-shutdown.Done():
			cancelStart()
		case <-startCtx.Done():
		}
	}()

	slotCfg := node.DefaultSlotConfig()
	slotCfg.StopTimeout = cfg.StopTimeout
	slotCfg.MemoryMB = cfg.ContainerMemoryMB

	agent := node.NewAgent(node.AgentConfig{
		NodeID:            cfg.NodeID,
		Hostname:          cfg.Hostname,
		Architecture:      cfg.Architecture,
		Parallelism:       cfg.GetParallelism(),
		HeartbeatInterval: cfg.HeartbeatInterval,
		TaskPollInterval:  cfg.TaskPollInterval,
		Slot:              slotCfg,
	}, hubClient, shutdown)

	logger.Info("GridNode starting",
		zap.String("server", cfg.ServerURL),
		zap.String("hostname", cfg.Hostname),
		zap.String("architecture", cfg.Architecture),
		zap.Int("parallelism", cfg.GetParallelism()))

	resp, err := agent.Register(startCtx)
	if err != nil {
		return fmt.Errorf("failed to register with hub: %w", err)
	}
	if cfg.NodeID == "" {
		if err := config.SaveNodeID(path, resp.NodeID); err != nil {
			logger.Warn("Failed to save node ID", zap.String("path", path), zap.Error(err))
		} else {
			logger.Info("Node ID saved", zap.String("node_id", resp.NodeID), zap.String("path", path))
		}
	}

	driver, err := container.ConnectDocker(startCtx, dockerConnectAttempts, dockerConnectInterval)
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := agent.Run(ctx, driver, resp.CurrentTask); err != nil {
		if errors.Is(err, node.ErrSlotsCollapsed) {
			return fmt.Errorf("node stopped abnormally: %w", err)
		}
		return err
	}
	logger.Info("GridNode stopped", zap.String("node_id", agent.NodeID()))
	return nil
}
