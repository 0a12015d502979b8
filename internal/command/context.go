package command

import (
	"github.com/adamavenir/mealsync/internal/app"
	"github.com/adamavenir/mealsync/internal/config"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	App      *app.App
	JSONMode bool
}

// GetContext loads configuration and opens the app for a command.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	envFile, _ := cmd.Flags().GetString("env-file")
	jsonMode, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(config.Options{EnvFile: envFile, DataDir: dataDir})
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg, cmd.ErrOrStderr())

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &CommandContext{App: a, JSONMode: jsonMode}, nil
}

// Close releases the app.
func (c *CommandContext) Close() {
	_ = c.App.Close()
}
