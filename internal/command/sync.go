package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull analyses completed since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			runCtx, stop := commandContext(cmd)
			defer stop()

			result, err := ctx.App.Foreground(runCtx)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced since %s: %d fetched, %d applied, %d ignored, %d invalid (next from %s)\n",
				result.Since.Format("2006-01-02 15:04:05"), result.Fetched, result.Applied, result.Ignored, result.Invalid,
				result.Checkpoint.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
