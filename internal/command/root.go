package command

import (
	"os"

	"github.com/adamavenir/mealsync/internal/config"
	"github.com/spf13/cobra"
)

const AppName = "mealctl"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "mealctl - operate the local meal log",
		Long:          "mealctl inspects and drives the local meal store: uploads, sync, retention and summaries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("data-dir", "", "data directory (overrides MEALSYNC_DATA_DIR)")
	cmd.PersistentFlags().String("env-file", ".env", "env file loaded before reading the environment")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewListCmd(),
		NewTodayCmd(),
		NewWeekCmd(),
		NewSyncCmd(),
		NewSweepCmd(),
		NewListenCmd(),
		NewUploadCmd(),
		NewFeedbackCmd(),
		NewFavoriteCmd(),
		NewRmCmd(),
		NewBMRCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(config.Version).Execute()
}
