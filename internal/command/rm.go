package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <meal-id>",
		Short: "Delete a meal and its photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mealID, err := parseMealID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if err := ctx.App.Uploads.Delete(cmd.Context(), mealID); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"meal_id": mealID, "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", mealID)
			return nil
		},
	}
}
