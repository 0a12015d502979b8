package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSweepCmd creates the sweep command.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep",
		Long:  "End stuck analyses and delete non-favorite meals older than the retention period.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			runCtx, stop := commandContext(cmd)
			defer stop()

			result := ctx.App.Sweeper.RunOnce(runCtx)
			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swept: %d deleted, %d timed out, %d errors\n",
				result.Deleted, result.Expired, result.Errors)
			return nil
		},
	}
}
