package command

import (
	"fmt"

	"github.com/adamavenir/mealsync/internal/app"
	"github.com/adamavenir/mealsync/internal/types"
	"github.com/spf13/cobra"
)

// NewListenCmd creates the listen command.
func NewListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run push sync and retention until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			runCtx, stop := commandContext(cmd)
			defer stop()

			sub := ctx.App.Broker.Subscribe()
			defer sub.Close()
			go printChanges(cmd, ctx, sub.C)

			if ctx.App.Push == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "No MEALSYNC_PUSH_URL set, running retention only")
			}
			if err := ctx.App.Run(runCtx, app.RunOptions{MetricsAddr: metricsAddr}); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func printChanges(cmd *cobra.Command, ctx *CommandContext, changes <-chan types.Change) {
	out := cmd.OutOrStdout()
	for change := range changes {
		if ctx.JSONMode {
			_ = writeJSON(out, change)
			continue
		}
		fmt.Fprintf(out, "%s %s %s\n", metaStyle.Render(string(change.Source)), change.Kind, change.MealID)
	}
}
