package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wolido/idm-gridcore/api/rest/client"
	"github.com/Wolido/idm-gridcore/internal/config"
)

const adminTimeout = 15 * time.Second

var (
	adminServerURL string
	adminToken     string
)

// addAdminFlags registers the hub connection flags on an admin command group.
func addAdminFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&adminServerURL, "server", "", "hub URL (default: server_url from the node config)")
	cmd.PersistentFlags().StringVar(&adminToken, "token", "", "bearer token (default: token from the node config)")
}

// newAdminClient builds a hub client from --server/--token, falling back to
// the node configuration (file given by --config, then environment).
func newAdminClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.LoadNode(cfgFile, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("server") {
		cfg.ServerURL = adminServerURL
	}
	if cmd.Flags().Changed("token") {
		cfg.Token = adminToken
	}
	return client.NewClient(&client.Config{
		ServerURL:      cfg.ServerURL,
		Token:          cfg.Token,
		RequestTimeout: cfg.RequestTimeout,
	}), nil
}

func adminContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, adminTimeout)
}
