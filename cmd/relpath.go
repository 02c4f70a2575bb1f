package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poma-prs/poma-static-project/pkg/relpath"
)

func newRelpathCmd() *cobra.Command {
	var (
		depth   string
		tempDir string
	)

	cmd := &cobra.Command{
		Use:   "relpath <asset> <document> <source root>",
		Short: "Print the reference an injected asset gets inside a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := relpath.ParseDepth(depth)
			if err != nil {
				return err
			}

			r := relpath.Relativizer{
				SourceRoot: args[2],
				TempDir:    tempDir,
				Depth:      mode,
			}

			result, err := r.Relativize(args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&depth, "depth", "single", "parent escapes for nested documents (single or exact)")
	cmd.Flags().StringVar(&tempDir, "temp", "", "name of the temp directory (defaults to the first hidden directory)")

	return cmd
}
