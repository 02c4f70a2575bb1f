// Package cmd implements the poma command line interface
package cmd

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

// errSilent signals a failure that was already logged
var errSilent = eris.New("failed")

// NewRootCmd builds the full command tree
func NewRootCmd() *cobra.Command {
	flags := &runFlags{}
	rootCmd := &cobra.Command{
		Use:   "poma [tasks...] [key=value...]",
		Short: "Asset pipeline for static front-end projects",
		Long: `poma builds a static site from its src folder into dist: it compiles styles, bundles scripts,
injects references into HTML documents and minifies everything for production.

Without a subcommand, the given tasks are run (see "poma run").`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, args, flags)
		},
	}

	rootCmd.PersistentFlags().StringP("dir", "C", "", "project directory (defaults to the closest parent containing poma.toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "print debug messages")
	addRunFlags(rootCmd, flags)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRelpathCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newMkdirCmd())

	return rootCmd
}

// Execute runs the command line and exits with a non-zero status on failure
func Execute() {
	// shell commands in task scripts call back into this binary for rm, mv and mkdir
	if self, err := os.Executable(); err == nil {
		buildsys.HelperBinary = self
	}

	err := NewRootCmd().Execute()
	if err != nil {
		if err != errSilent {
			fmt.Fprintln(os.Stderr, "Error:", eris.ToString(err, os.Getenv(DebugEnv) != ""))
		}
		os.Exit(1)
	}
}
