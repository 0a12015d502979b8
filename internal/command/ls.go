package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List meals, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, _ := cmd.Flags().GetInt("offset")
			limit, _ := cmd.Flags().GetInt("limit")
			if offset < 0 || limit <= 0 {
				return writeCommandError(cmd, fmt.Errorf("--offset must be >= 0 and --limit > 0"))
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			records, err := ctx.App.Store.Window(cmd.Context(), offset, limit)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			views := ctx.App.Overlay.View(records)

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No meals")
				return nil
			}
			now := time.Now()
			for _, view := range views {
				if view.Record != nil {
					fmt.Fprintln(out, formatRecord(*view.Record, now))
					continue
				}
				if view.Optimistic != nil {
					fmt.Fprintln(out, formatOptimistic(*view.Optimistic, now))
				}
			}
			return nil
		},
	}

	cmd.Flags().Int("offset", 0, "skip this many meals")
	cmd.Flags().Int("limit", 20, "maximum number of meals")
	return cmd
}
