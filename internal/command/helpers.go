package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamavenir/mealsync/internal/core"
	"github.com/spf13/cobra"
)

// commandContext returns the command's context, cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func parseMealID(arg string) (string, error) {
	return core.NormalizeMealID(arg)
}
