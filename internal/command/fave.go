package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewFavoriteCmd creates the favorite command.
func NewFavoriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorite <meal-id>",
		Aliases: []string{"fave"},
		Short:   "Mark a meal as favorite so retention keeps it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, _ := cmd.Flags().GetBool("off")
			mealID, err := parseMealID(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if err := ctx.App.Store.SetFavorite(cmd.Context(), mealID, !off); err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"meal_id": mealID, "favorite": !off})
			}
			if off {
				fmt.Fprintf(cmd.OutOrStdout(), "Unfavorited %s\n", mealID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Favorited %s\n", mealID)
			}
			return nil
		},
	}

	cmd.Flags().Bool("off", false, "remove the favorite mark")
	return cmd
}
