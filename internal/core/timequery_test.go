package core

import (
	"testing"
	"time"

	"github.com/adamavenir/mealsync/internal/types"
)

func TestStartOfWeekIsMonday(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 15, 30, 0, 0, time.UTC)
	start := StartOfWeek(sunday)
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("expected %v, got %v", want, start)
	}
	if !StartOfWeek(want).Equal(want) {
		t.Fatalf("monday should map to itself")
	}
}

func TestWeekBuckets(t *testing.T) {
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	lettuce := &types.Analysis{Ingredients: []types.Ingredient{{Carbs: 2, Proteins: 1}}}
	records := []types.MealRecord{
		{Status: types.StatusComplete, CreatedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC).Unix(), LastAnalysis: lettuce},
		{Status: types.StatusComplete, CreatedAt: time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC).Unix(), LastAnalysis: lettuce},
		{Status: types.StatusAnalyzing, CreatedAt: time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC).Unix()},
		{Status: types.StatusComplete, CreatedAt: time.Date(2023, 12, 31, 10, 0, 0, 0, time.UTC).Unix(), LastAnalysis: lettuce},
	}

	buckets := WeekBuckets(records, now)
	if len(buckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(buckets))
	}
	if buckets[0].Meals != 1 || buckets[0].Calories != 12 {
		t.Fatalf("unexpected monday bucket: %+v", buckets[0])
	}
	if buckets[2].Meals != 2 || buckets[2].Calories != 12 {
		t.Fatalf("unexpected wednesday bucket: %+v", buckets[2])
	}
}
