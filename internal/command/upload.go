package command

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adamavenir/mealsync/internal/app"
	"github.com/adamavenir/mealsync/internal/types"
	"github.com/adamavenir/mealsync/internal/upload"
	"github.com/spf13/cobra"
)

// NewUploadCmd creates the upload command.
func NewUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <photo>",
		Short: "Upload a meal photo for analysis",
		Long:  "Upload a meal photo. Interrupting before the server accepts it cancels the upload.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			await, _ := cmd.Flags().GetBool("await")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			source, err := filepath.Abs(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if !ctx.App.Online() {
				return writeCommandError(cmd, fmt.Errorf("upload: %w", app.ErrOffline))
			}

			runCtx, stop := commandContext(cmd)
			defer stop()

			handle, err := ctx.App.Uploads.Start(context.WithoutCancel(runCtx), source)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			result, err := handle.Wait(runCtx)
			if runCtx.Err() != nil {
				handle.Cancel()
				result, err = handle.Wait(context.Background())
			}
			if result.Outcome == upload.OutcomeFailed {
				if printErr := printUploadResult(cmd, ctx, result); printErr != nil {
					return printErr
				}
				return err
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if result.Outcome != upload.OutcomeAnalyzing || !await {
				return printUploadResult(cmd, ctx, result)
			}

			record, err := awaitAnalysis(runCtx, ctx, result.MealID, timeout)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			result.Record = record
			return printUploadResult(cmd, ctx, result)
		},
	}

	cmd.Flags().Bool("await", false, "wait for the analysis result")
	cmd.Flags().Duration("timeout", 0, "how long --await waits (default MEALSYNC_ANALYSIS_TIMEOUT)")
	return cmd
}

// awaitAnalysis keeps a result source running while waiting: the push
// channel when configured, otherwise periodic pull-syncs.
func awaitAnalysis(ctx context.Context, cmdCtx *CommandContext, mealID string, timeout time.Duration) (*types.MealRecord, error) {
	a := cmdCtx.App
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Push != nil {
		go func() {
			_ = a.Push.Run(feedCtx)
		}()
	} else {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-feedCtx.Done():
					return
				case <-ticker.C:
					_, _ = a.Foreground(feedCtx)
				}
			}
		}()
	}

	return a.Uploads.AwaitAnalysis(ctx, mealID, timeout)
}

func printUploadResult(cmd *cobra.Command, ctx *CommandContext, result upload.Result) error {
	if ctx.JSONMode {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	out := cmd.OutOrStdout()
	switch result.Outcome {
	case upload.OutcomeCancelled:
		fmt.Fprintf(out, "Upload cancelled (%s)\n", result.MealID)
	case upload.OutcomeFailed:
		reason := "upload failed"
		if entry, ok := ctx.App.Overlay.Get(result.MealID); ok && entry.ErrorMessage != nil {
			reason = *entry.ErrorMessage
		}
		fmt.Fprintf(out, "%s %s\n", errorStyle.Render("Upload failed:"), reason)
	default:
		if result.Record != nil {
			fmt.Fprintln(out, formatRecord(*result.Record, time.Now()))
			return nil
		}
		fmt.Fprintf(out, "Uploaded %s, %s\n", result.MealID, renderStatus(types.StatusAnalyzing))
	}
	return nil
}
