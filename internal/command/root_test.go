package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/adamavenir/mealsync/internal/app"
	"github.com/adamavenir/mealsync/internal/config"
	"github.com/adamavenir/mealsync/internal/core"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/types"
	"github.com/spf13/cobra"
)

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// seedApp opens an app on a fresh data dir and hands it to fn before the
// command under test reopens the same directory.
func seedApp(t *testing.T, fn func(a *app.App)) string {
	t.Helper()
	t.Setenv("MEALSYNC_API_URL", "")
	t.Setenv("MEALSYNC_PUSH_URL", "")
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{DataDir: dir})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()
	if fn != nil {
		fn(a)
	}
	return dir
}

func insertComplete(t *testing.T, a *app.App, mealID string, carbs float64) {
	t.Helper()
	ctx := context.Background()
	id := mealID
	if _, err := a.Store.Insert(ctx, types.NewMeal{MealID: &id, ImageURI: "/p/" + mealID, Status: types.StatusAnalyzing}); err != nil {
		t.Fatalf("insert meal: %v", err)
	}
	applied, err := a.Store.ApplyAnalysis(ctx, types.Analysis{
		MealID:      mealID,
		MealName:    "Porridge",
		Ingredients: []types.Ingredient{{Name: "oats", Carbs: carbs}},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil || !applied {
		t.Fatalf("apply analysis: applied=%v err=%v", applied, err)
	}
}

func TestRootCommandVersion(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd, "--version")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(output, "mealctl version test") {
		t.Fatalf("expected version output, got %q", output)
	}
}

func TestRootCommandHelp(t *testing.T) {
	cmd := NewRootCmd("test")

	output, err := executeCommand(cmd)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !strings.Contains(output, "local meal store") {
		t.Fatalf("expected help output, got %q", output)
	}
}

func TestListJSON(t *testing.T) {
	first := core.NewMealID()
	second := core.NewMealID()
	dir := seedApp(t, func(a *app.App) {
		insertComplete(t, a, first, 10)
		insertComplete(t, a, second, 20)
	})

	output, err := executeCommand(NewRootCmd("test"), "list", "--data-dir", dir, "--json", "--limit", "1")
	if err != nil {
		t.Fatalf("list: %v (%s)", err, output)
	}
	var views []types.MealView
	if err := json.Unmarshal([]byte(output), &views); err != nil {
		t.Fatalf("decode list: %v (%s)", err, output)
	}
	if len(views) != 1 || views[0].Record == nil {
		t.Fatalf("expected a single durable meal, got %+v", views)
	}
}

func TestTodaySummarizesCalories(t *testing.T) {
	dir := seedApp(t, func(a *app.App) {
		insertComplete(t, a, core.NewMealID(), 3)
		insertComplete(t, a, core.NewMealID(), 5)
	})

	output, err := executeCommand(NewRootCmd("test"), "today", "--data-dir", dir, "--json")
	if err != nil {
		t.Fatalf("today: %v (%s)", err, output)
	}
	var summary core.Summary
	if err := json.Unmarshal([]byte(output), &summary); err != nil {
		t.Fatalf("decode summary: %v (%s)", err, output)
	}
	if summary.Meals != 2 || summary.Calories != 32 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestWeekPrintsSevenDays(t *testing.T) {
	dir := seedApp(t, func(a *app.App) {
		insertComplete(t, a, core.NewMealID(), 3)
	})

	output, err := executeCommand(NewRootCmd("test"), "week", "--data-dir", dir, "--json")
	if err != nil {
		t.Fatalf("week: %v (%s)", err, output)
	}
	var buckets []core.DayBucket
	if err := json.Unmarshal([]byte(output), &buckets); err != nil {
		t.Fatalf("decode buckets: %v (%s)", err, output)
	}
	if len(buckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(buckets))
	}
	total := 0
	for _, bucket := range buckets {
		total += bucket.Meals
	}
	if total != 1 {
		t.Fatalf("expected one meal this week, got %d", total)
	}
}

func TestFavoriteAndRemove(t *testing.T) {
	mealID := core.NewMealID()
	dir := seedApp(t, func(a *app.App) {
		insertComplete(t, a, mealID, 1)
	})

	if output, err := executeCommand(NewRootCmd("test"), "favorite", mealID, "--data-dir", dir); err != nil {
		t.Fatalf("favorite: %v (%s)", err, output)
	}
	if output, err := executeCommand(NewRootCmd("test"), "rm", mealID, "--data-dir", dir); err != nil {
		t.Fatalf("rm: %v (%s)", err, output)
	}

	cfg, err := config.Load(config.Options{DataDir: dir})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("reopen app: %v", err)
	}
	defer a.Close()
	if _, err := a.Store.GetByMealID(context.Background(), mealID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected meal removed, got %v", err)
	}
}

func TestFavoriteUnknownMeal(t *testing.T) {
	dir := seedApp(t, nil)

	output, err := executeCommand(NewRootCmd("test"), "favorite", core.NewMealID(), "--data-dir", dir)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(output, "Hint:") {
		t.Fatalf("expected a hint, got %q", output)
	}
}

func TestSyncRequiresAPI(t *testing.T) {
	dir := seedApp(t, nil)

	_, err := executeCommand(NewRootCmd("test"), "sync", "--data-dir", dir)
	if !errors.Is(err, app.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}

func TestRejectsMalformedMealID(t *testing.T) {
	if _, err := executeCommand(NewRootCmd("test"), "rm", "not-a-uuid", "--data-dir", t.TempDir()); err == nil {
		t.Fatal("expected error for malformed meal id")
	}
}

func TestBMR(t *testing.T) {
	output, err := executeCommand(NewRootCmd("test"), "bmr", "--sex", "male", "--weight", "70", "--height", "175", "--age", "30")
	if err != nil {
		t.Fatalf("bmr: %v", err)
	}
	if !strings.Contains(output, "1649 kcal/day") {
		t.Fatalf("unexpected output %q", output)
	}
}
