package command

import (
	"fmt"

	"github.com/adamavenir/mealsync/internal/core"
	"github.com/spf13/cobra"
)

// NewBMRCmd creates the bmr command.
func NewBMRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bmr",
		Short: "Estimate basal metabolic rate",
		Long:  "Estimate kcal/day with Mifflin-St Jeor. Put the result in MEALSYNC_BMR to get a daily target.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sex, _ := cmd.Flags().GetString("sex")
			weight, _ := cmd.Flags().GetFloat64("weight")
			height, _ := cmd.Flags().GetFloat64("height")
			age, _ := cmd.Flags().GetInt("age")
			jsonMode, _ := cmd.Flags().GetBool("json")

			bmr, err := core.EstimateBMR(sex, weight, height, age)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"bmr": bmr})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.0f kcal/day\n", bmr)
			return nil
		},
	}

	cmd.Flags().String("sex", "", "male or female")
	cmd.Flags().Float64("weight", 0, "weight in kg")
	cmd.Flags().Float64("height", 0, "height in cm")
	cmd.Flags().Int("age", 0, "age in years")
	return cmd
}
