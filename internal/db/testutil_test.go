package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/adamavenir/mealsync/internal/types"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path+dsnPragmas)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func requireSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
}

func insertAnalyzing(t *testing.T, db *sql.DB, mealID string, createdAt int64) int64 {
	t.Helper()
	id, err := InsertMeal(context.Background(), db, types.NewMeal{
		MealID:    strPtr(mealID),
		ImageURI:  "/photos/" + mealID + ".jpg",
		CreatedAt: createdAt,
		Status:    types.StatusAnalyzing,
	})
	if err != nil {
		t.Fatalf("insert meal %s: %v", mealID, err)
	}
	return id
}

func saladAnalysis(mealID, timestamp string) types.Analysis {
	return types.Analysis{
		MealID:      mealID,
		MealName:    "Salad",
		Ingredients: []types.Ingredient{{Name: "Lettuce", Carbs: 2, Proteins: 1, Fats: 0}},
		Timestamp:   timestamp,
	}
}

func strPtr(value string) *string {
	return &value
}

func statusPtr(value types.Status) *types.Status {
	return &value
}
