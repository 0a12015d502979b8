package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/mealsync/internal/app"
	"github.com/adamavenir/mealsync/internal/mealapi"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	switch {
	case errors.Is(err, app.ErrOffline):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: point MEALSYNC_API_URL at the meal API")
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: list meals with: mealctl list")
	case isAuthError(err):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: check MEALSYNC_TOKEN")
	case isSchemaError(err):
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: the database schema looks out of date; remove meals.db to start over")
	}

	return err
}

func isAuthError(err error) bool {
	var apiErr *mealapi.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 401 || apiErr.Status == 403
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
