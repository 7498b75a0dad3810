package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	noColor    bool
)

// errNotApplied reports a manifest that did not apply without being an
// operational failure of the command itself.
var errNotApplied = errors.New("manifest not applied")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotApplied):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-manifest",
		Short: "Declare and apply host configuration from recipe manifests",
		Long: `froyo-manifest evaluates recipe manifests written in Starlark into a
deduplicated resource graph and applies it on this host.

Features:
  - Recipes with inherited configuration and options
  - Values from YAML, JSON or CUE files
  - Dependency-ordered parallel apply with refresh events
  - Policy gate written in Rego
  - Run history with snapshot diffs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newTypesCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
