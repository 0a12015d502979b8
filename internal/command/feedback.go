package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewFeedbackCmd creates the feedback command.
func NewFeedbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <meal-id> <text...>",
		Short: "Correct an analysis and request a new one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mealID, err := parseMealID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			text := strings.Join(args[1:], " ")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			runCtx, stop := commandContext(cmd)
			defer stop()

			if err := ctx.App.Uploads.Feedback(runCtx, mealID, text); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"meal_id": mealID, "status": "analyzing"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Feedback sent for %s, re-analyzing\n", mealID)
			return nil
		},
	}
}
