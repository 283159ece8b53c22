package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect and drain GridNodes",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	Args:  cobra.NoArgs,
	RunE:  runNodesList,
}

var nodesStopCmd = &cobra.Command{
	Use:   "stop <node-id>",
	Short: "Ask a node to stop after its next heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesStop,
}

var nodesResumeCmd = &cobra.Command{
	Use:   "resume <node-id>",
	Short: "Withdraw a pending stop request",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesResume,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.AddCommand(nodesListCmd, nodesStopCmd, nodesResumeCmd)
	addAdminFlags(nodesCmd)
}

func runNodesList(cmd *cobra.Command, args []string) error {
	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	nodes, err := c.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	printNodes(cmd.OutOrStdout(), nodes, time.Now())
	return nil
}

func printNodes(out io.Writer, nodes []types.Node, now time.Time) {
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No nodes registered")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHOSTNAME\tARCH\tCPUS\tSTATUS\tRUNTIME\tUNITS\tLAST SEEN")
	for _, n := range nodes {
		runtime := "-"
		if n.RuntimeStatus != nil {
			runtime = string(*n.RuntimeStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s ago\n",
			n.ID, n.Hostname, n.Architecture, n.CPUCount, n.Status, runtime,
			n.ActiveContainers, now.Sub(n.LastSeen).Truncate(time.Second))
	}
	w.Flush()
}

func runNodesStop(cmd *cobra.Command, args []string) error {
	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	if err := c.RequestStop(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to request stop: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for node %s\n", args[0])
	return nil
}

func runNodesResume(cmd *cobra.Command, args []string) error {
	c, err := newAdminClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := adminContext(cmd)
	defer cancel()

	if err := c.ClearStop(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to clear stop: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stop request cleared for node %s\n", args[0])
	return nil
}
