package command

import (
	"strings"
	"testing"
	"time"

	"github.com/adamavenir/mealsync/internal/types"
)

func TestFormatRelative(t *testing.T) {
	cases := []struct {
		ago  int64
		want string
	}{
		{-5, "just now"},
		{30, "30s ago"},
		{5 * 60, "5m ago"},
		{3 * 3600, "3h ago"},
		{2 * 86400, "2d ago"},
		{21 * 86400, "3w ago"},
	}
	for _, tc := range cases {
		if got := formatRelative(1_000_000-tc.ago, 1_000_000); got != tc.want {
			t.Fatalf("formatRelative(%d ago) = %q, want %q", tc.ago, got, tc.want)
		}
	}
}

func TestFormatRecordShowsCaloriesAndErrors(t *testing.T) {
	now := time.Unix(10_000, 0)
	mealID := "m1"
	complete := types.MealRecord{
		ID:        7,
		MealID:    &mealID,
		Status:    types.StatusComplete,
		Favorite:  true,
		CreatedAt: now.Unix() - 120,
		LastAnalysis: &types.Analysis{
			MealName:    "Eggs",
			Ingredients: []types.Ingredient{{Name: "egg", Proteins: 6, Fats: 5}},
		},
	}
	line := formatRecord(complete, now)
	for _, want := range []string{"#7", "m1", "Eggs", "69 kcal", "2m ago"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}

	message := "analysis timed out"
	failed := types.MealRecord{ID: 8, Status: types.StatusError, ErrorMessage: &message, CreatedAt: now.Unix()}
	if line := formatRecord(failed, now); !strings.Contains(line, message) {
		t.Fatalf("expected error message in %q", line)
	}
}

func TestFormatSummaryTarget(t *testing.T) {
	out := formatSummary(summaryFixture())
	if !strings.Contains(out, "1500 of 1800 kcal remaining") {
		t.Fatalf("expected remaining line, got %q", out)
	}
	if !strings.Contains(out, "1 analyzing") {
		t.Fatalf("expected pending count, got %q", out)
	}
}
