package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Wolido/idm-gridcore/api/rest"
	"github.com/Wolido/idm-gridcore/internal/config"
	"github.com/Wolido/idm-gridcore/internal/hub"
	"github.com/Wolido/idm-gridcore/internal/logger"
)

var (
	hubBind      string
	hubToken     string
	hubRedisURL  string
	hubAccessLog bool
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "ComputeHub commands",
}

var hubStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ComputeHub",
	Long: `Start the ComputeHub HTTP service. It holds the task queue and the node
registry in memory and, when redis.url is set, snapshots the queue to Redis.`,
	Example: `  # Start with the default configuration file
  gridcore hub start

  # Override the listen address and token
  gridcore hub start --bind 0.0.0.0:9000 --token s3cret`,
	RunE: runHubStart,
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.AddCommand(hubStartCmd)

	hubStartCmd.Flags().StringVar(&hubBind, "bind", "", "listen address (overrides bind)")
	hubStartCmd.Flags().StringVar(&hubToken, "token", "", "bearer token (overrides token)")
	hubStartCmd.Flags().StringVar(&hubRedisURL, "redis", "", "snapshot store URL (overrides redis.url)")
	hubStartCmd.Flags().BoolVar(&hubAccessLog, "access-log", true, "log every HTTP request")
}

func runHubStart(cmd *cobra.Command, args []string) error {
	path := configPath(config.DefaultHubPath)
	if stop, err := ensureConfig(cmd, path, config.HubTemplate); err != nil || stop {
		return err
	}

	overrides := make(map[string]string)
	if cmd.Flags().Changed("bind") {
		overrides["bind"] = hubBind
	}
	if cmd.Flags().Changed("token") {
		overrides["token"] = hubToken
	}
	if cmd.Flags().Changed("redis") {
		overrides["redis.url"] = hubRedisURL
	}

	cfg, err := config.LoadHub(path, logOverrides(overrides))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(&cfg.Log)
	defer logger.Sync()

	if cfg.Token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if cfg.UsesDefaultToken() {
		logger.Warn("hub token is still the template default, change it before exposing the hub")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []hub.Option
	var writer *hub.SnapshotWriter
	var restored *hub.QueueSnapshot
	if cfg.Redis.Enabled() {
		rdb, err := hub.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		store := hub.NewRedisStore(rdb, cfg.Redis.Key)
		restored, err = store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load queue snapshot: %w", err)
		}
		writer = hub.NewSnapshotWriter(store, 5*time.Second)
		writer.Start()
		defer writer.Stop()
		opts = append(opts, hub.WithPersister(writer))
	}

	state := hub.NewState(opts...)
	if restored != nil {
		if err := state.Restore(restored); err != nil {
			return fmt.Errorf("failed to restore queue snapshot: %w", err)
		}
		logger.Info("task queue restored",
			zap.Int("tasks", len(restored.Entries)),
			zap.Uint64("version", restored.Version))
	}

	sweeper, err := hub.NewSweeper(state, hub.SweeperConfig{
		Interval:     cfg.CleanupInterval,
		OfflineAfter: cfg.OfflineAfter,
		NodeTimeout:  cfg.NodeTimeout,
	})
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := rest.NewServer(state, &rest.Config{
		Address:      cfg.Bind,
		Token:        cfg.Token,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		AccessLog:    hubAccessLog,
	})

	logger.Info("ComputeHub starting",
		zap.String("bind", cfg.Bind),
		zap.Bool("persistence", cfg.Redis.Enabled()),
		zap.Duration("node_timeout", cfg.NodeTimeout))

	if err := server.StartWithContext(ctx); err != nil {
		return fmt.Errorf("hub server: %w", err)
	}
	logger.Info("ComputeHub stopped")
	return nil
}
