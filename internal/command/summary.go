package command

import (
	"fmt"
	"time"

	"github.com/adamavenir/mealsync/internal/core"
	"github.com/spf13/cobra"
)

// NewTodayCmd creates the today command.
func NewTodayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Summarize today's meals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			records, err := ctx.App.Store.Since(cmd.Context(), core.StartOfDay(time.Now()))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			summary := core.Summarize(records, ctx.App.Config.BMR)

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatSummary(summary))
			return nil
		},
	}
}

// NewWeekCmd creates the week command.
func NewWeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "week",
		Short: "Show calories per day for the current week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			now := time.Now()
			records, err := ctx.App.Store.Since(cmd.Context(), core.StartOfWeek(now))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			buckets := core.WeekBuckets(records, now)

			if ctx.JSONMode {
				return writeJSON(cmd.OutOrStdout(), buckets)
			}
			out := cmd.OutOrStdout()
			for _, bucket := range buckets {
				line := fmt.Sprintf("%s %6.0f kcal  %d meals", bucket.Day.Format("Mon 02 Jan"), bucket.Calories, bucket.Meals)
				if bucket.Day.Equal(core.StartOfDay(now)) {
					line = headerStyle.Render(line)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
