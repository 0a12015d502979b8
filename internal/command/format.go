package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adamavenir/mealsync/internal/core"
	"github.com/adamavenir/mealsync/internal/types"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	uploadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	analyzingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	completeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	favoriteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
)

func writeJSON(w io.Writer, value any) error {
	return json.NewEncoder(w).Encode(value)
}

func renderStatus(status types.Status) string {
	label := string(status)
	switch status {
	case types.StatusUploading:
		return uploadingStyle.Render(label)
	case types.StatusAnalyzing:
		return analyzingStyle.Render(label)
	case types.StatusComplete:
		return completeStyle.Render(label)
	case types.StatusError:
		return errorStyle.Render(label)
	}
	return label
}

func formatRelative(ts, now int64) string {
	secondsAgo := now - ts
	if secondsAgo < 0 {
		return "just now"
	}
	if secondsAgo < 60 {
		return fmt.Sprintf("%ds ago", secondsAgo)
	}
	minutesAgo := secondsAgo / 60
	if minutesAgo < 60 {
		return fmt.Sprintf("%dm ago", minutesAgo)
	}
	hoursAgo := minutesAgo / 60
	if hoursAgo < 24 {
		return fmt.Sprintf("%dh ago", hoursAgo)
	}
	daysAgo := hoursAgo / 24
	if daysAgo < 7 {
		return fmt.Sprintf("%dd ago", daysAgo)
	}
	weeksAgo := daysAgo / 7
	return fmt.Sprintf("%dw ago", weeksAgo)
}

func mealName(record types.MealRecord) string {
	if record.LastAnalysis != nil && strings.TrimSpace(record.LastAnalysis.MealName) != "" {
		return record.LastAnalysis.MealName
	}
	return "(unnamed)"
}

func formatRecord(record types.MealRecord, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d ", record.ID)
	if id := record.MealIDValue(); id != "" {
		b.WriteString(metaStyle.Render(id) + " ")
	}
	b.WriteString(renderStatus(record.Status))
	if record.Favorite {
		b.WriteString(" " + favoriteStyle.Render("*"))
	}
	switch record.Status {
	case types.StatusComplete:
		fmt.Fprintf(&b, " %s %.0f kcal", mealName(record), core.MealCalories(record))
	case types.StatusError:
		if record.ErrorMessage != nil {
			b.WriteString(" " + errorStyle.Render(*record.ErrorMessage))
		}
	}
	b.WriteString(" " + metaStyle.Render(formatRelative(record.CreatedAt, now.Unix())))
	return b.String()
}

func formatOptimistic(entry types.OptimisticMeal, now time.Time) string {
	var b strings.Builder
	b.WriteString(metaStyle.Render(entry.MealID) + " ")
	b.WriteString(renderStatus(entry.Status))
	if entry.ErrorMessage != nil {
		b.WriteString(" " + errorStyle.Render(*entry.ErrorMessage))
	}
	b.WriteString(" " + metaStyle.Render(formatRelative(entry.StartedAt.Unix(), now.Unix())))
	return b.String()
}

func formatSummary(summary core.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.0f kcal\n", headerStyle.Render("Calories:"), summary.Calories)
	fmt.Fprintf(&b, "  carbs %.1fg  protein %.1fg  fat %.1fg\n",
		summary.Macros.Carbs, summary.Macros.Proteins, summary.Macros.Fats)
	fmt.Fprintf(&b, "  %d meals", summary.Meals)
	if summary.Pending > 0 {
		fmt.Fprintf(&b, ", %s", analyzingStyle.Render(fmt.Sprintf("%d analyzing", summary.Pending)))
	}
	if summary.Failed > 0 {
		fmt.Fprintf(&b, ", %s", errorStyle.Render(fmt.Sprintf("%d failed", summary.Failed)))
	}
	b.WriteString("\n")
	if summary.Target > 0 {
		fmt.Fprintf(&b, "  %.0f of %.0f kcal remaining\n", summary.Remaining, summary.Target)
	}
	return b.String()
}
