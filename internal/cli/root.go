// Package cli implements the gridcore command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Wolido/idm-gridcore/internal/config"
)

const (
	// Version is the current release.
	Version = "0.3.0"
	// Banner is printed by --version.
	Banner = `
   ___      _    _  ___
  / __|_ _ (_)__| |/ __|___ _ _ ___
 | (_ | '_|| / _' | (__/ _ \ '_/ -_)  IDM-GridCore %s
  \___|_|  |_\__,_|\___\___/_| \___|
`
)

var (
	cfgFile string
	debug   bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "gridcore",
	Short: "Distributed batch compute grid",
	Long: `gridcore runs a ComputeHub that holds a sequential task queue and the
GridNodes that pull the current task's image and keep it running on every slot.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd returns the root command (used by tests).
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// configPath returns --config or fallback.
func configPath(fallback string) string {
	if cfgFile != "" {
		return cfgFile
	}
	return fallback
}

// logOverrides maps the global verbosity flags onto config overrides.
func logOverrides(overrides map[string]string) map[string]string {
	if overrides == nil {
		overrides = make(map[string]string)
	}
	switch {
	case debug:
		overrides["log.level"] = "debug"
	case quiet:
		overrides["log.level"] = "warn"
	}
	return overrides
}

// ensureConfig writes a template when path does not exist yet. It reports
// whether the caller should stop so the operator can edit the new file.
func ensureConfig(cmd *cobra.Command, path, template string) (bool, error) {
	created, err := config.EnsureFile(path, template)
	if err != nil {
		return false, err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration at %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "Edit it (at least the token) and start again.")
	}
	return created, nil
}
