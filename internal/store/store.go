package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamavenir/mealsync/internal/db"
	"github.com/adamavenir/mealsync/internal/events"
	"github.com/adamavenir/mealsync/internal/types"
)

var (
	// ErrNotFound is returned when no row matches the requested meal.
	ErrNotFound = errors.New("meal not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the meal record store. Every write is a single statement, so
// readers never observe a partially written row.
type Store struct {
	conn   *sql.DB
	broker *events.Broker
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store over an open database. broker may be nil.
func New(conn *sql.DB, broker *events.Broker, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conn:   conn,
		broker: broker,
		logger: logger.With(slog.String("component", "meal_store")),
		now:    time.Now,
	}
}

// Open opens the database at path and wraps it in a store.
func Open(path string, broker *events.Broker, logger *slog.Logger) (*Store, error) {
	conn, err := db.OpenDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("open meal database: %w", err)
	}
	return New(conn, broker, logger), nil
}

// SetClock overrides the time source used for analyzing timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Subscribe registers for change notifications. It returns nil when the
// store has no broker.
func (s *Store) Subscribe() *events.Subscription {
	if s.broker == nil {
		return nil
	}
	return s.broker.Subscribe()
}

func (s *Store) publish(kind types.ChangeKind, mealID string, id int64) {
	s.broker.Publish(types.Change{Source: types.SourceStore, Kind: kind, MealID: mealID, ID: id})
}

// Insert writes a new analyzing row and returns it. A row with the same
// meal_id is updated in place rather than duplicated.
func (s *Store) Insert(ctx context.Context, meal types.NewMeal) (*types.MealRecord, error) {
	if meal.CreatedAt == 0 {
		meal.CreatedAt = s.now().Unix()
	}
	id, err := db.InsertMeal(ctx, s.conn, meal)
	if err != nil {
		return nil, fmt.Errorf("insert meal: %w", err)
	}
	record, err := db.GetMeal(ctx, s.conn, id)
	if err != nil {
		return nil, fmt.Errorf("read inserted meal: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("read inserted meal %d: %w", id, ErrNotFound)
	}
	s.publish(types.ChangeInserted, record.MealIDValue(), record.ID)
	return record, nil
}

// UpsertByMealID applies patch to the row with mealID. It is the generic
// partial update used for user edits; zero rows matched is not an error.
func (s *Store) UpsertByMealID(ctx context.Context, mealID string, patch types.MealPatch) (int64, error) {
	count, err := db.UpsertByMealID(ctx, s.conn, mealID, patch, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("update meal %s: %w", mealID, err)
	}
	if count > 0 {
		s.publish(types.ChangeUpdated, mealID, 0)
	}
	return count, nil
}

// ApplyAnalysis completes the row named by analysis.MealID. It reports
// false when the row is unknown or already holds a newer result.
func (s *Store) ApplyAnalysis(ctx context.Context, analysis types.Analysis) (bool, error) {
	applied, err := db.ApplyAnalysis(ctx, s.conn, analysis)
	if err != nil {
		return false, fmt.Errorf("apply analysis %s: %w", analysis.MealID, err)
	}
	if applied {
		s.publish(types.ChangeUpdated, analysis.MealID, 0)
	}
	return applied, nil
}

// ApplyFailure fails a pending row.
func (s *Store) ApplyFailure(ctx context.Context, mealID, message string) (bool, error) {
	applied, err := db.ApplyFailure(ctx, s.conn, mealID, message)
	if err != nil {
		return false, fmt.Errorf("apply failure %s: %w", mealID, err)
	}
	if applied {
		s.publish(types.ChangeUpdated, mealID, 0)
	}
	return applied, nil
}

// BeginReanalysis snapshots a complete or failed row and flips it to
// analyzing. The snapshot restores the row if the request that triggered
// the re-analysis fails.
func (s *Store) BeginReanalysis(ctx context.Context, mealID string) (types.MealSnapshot, error) {
	record, err := s.GetByMealID(ctx, mealID)
	if err != nil {
		return types.MealSnapshot{}, err
	}
	if !types.CanTransition(record.Status, types.StatusAnalyzing) {
		return types.MealSnapshot{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, types.StatusAnalyzing)
	}
	snap := types.MealSnapshot{
		MealID:       mealID,
		Status:       record.Status,
		LastAnalysis: record.LastAnalysis,
		ErrorMessage: record.ErrorMessage,
	}

	ok, err := db.MarkAnalyzing(ctx, s.conn, mealID, s.now().Unix())
	if err != nil {
		return types.MealSnapshot{}, fmt.Errorf("mark analyzing %s: %w", mealID, err)
	}
	if !ok {
		// Row changed or vanished between the read and the write.
		return types.MealSnapshot{}, fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, mealID, record.Status)
	}
	s.publish(types.ChangeUpdated, mealID, record.ID)
	return snap, nil
}

// Restore writes a snapshot back onto a row that is still analyzing. It
// returns ErrInvalidTransition when the row is gone or has moved on.
func (s *Store) Restore(ctx context.Context, snap types.MealSnapshot) error {
	ok, err := db.RestoreSnapshot(ctx, s.conn, snap)
	if err != nil {
		return fmt.Errorf("restore meal %s: %w", snap.MealID, err)
	}
	if !ok {
		return fmt.Errorf("restore meal %s: %w", snap.MealID, ErrInvalidTransition)
	}
	s.publish(types.ChangeUpdated, snap.MealID, 0)
	return nil
}

// SetFavorite toggles the favorite flag of a meal.
func (s *Store) SetFavorite(ctx context.Context, mealID string, favorite bool) error {
	count, err := s.UpsertByMealID(ctx, mealID, types.MealPatch{Favorite: &favorite})
	if err != nil {
		return fmt.Errorf("set favorite %s: %w", mealID, err)
	}
	if count == 0 {
		return fmt.Errorf("set favorite %s: %w", mealID, ErrNotFound)
	}
	return nil
}

// DeleteByID removes a row by surrogate id. The photo is the caller's to delete.
func (s *Store) DeleteByID(ctx context.Context, id int64) (bool, error) {
	record, err := db.GetMeal(ctx, s.conn, id)
	if err != nil {
		return false, fmt.Errorf("read meal %d: %w", id, err)
	}
	ok, err := db.DeleteMealByID(ctx, s.conn, id)
	if err != nil {
		return false, fmt.Errorf("delete meal %d: %w", id, err)
	}
	if ok {
		mealID := ""
		if record != nil {
			mealID = record.MealIDValue()
		}
		s.publish(types.ChangeDeleted, mealID, id)
	}
	return ok, nil
}

// DeleteExpired removes record unless it was favorited since it was read.
// It reports false when the row was kept or is already gone.
func (s *Store) DeleteExpired(ctx context.Context, record types.MealRecord, cutoff time.Time) (bool, error) {
	ok, err := db.DeleteExpiredMeal(ctx, s.conn, record.ID, cutoff.Unix())
	if err != nil {
		return false, fmt.Errorf("delete expired meal %d: %w", record.ID, err)
	}
	if ok {
		s.publish(types.ChangeDeleted, record.MealIDValue(), record.ID)
	}
	return ok, nil
}

// DeleteByMealID removes a row by meal id. The photo is the caller's to delete.
func (s *Store) DeleteByMealID(ctx context.Context, mealID string) (bool, error) {
	ok, err := db.DeleteMealByMealID(ctx, s.conn, mealID)
	if err != nil {
		return false, fmt.Errorf("delete meal %s: %w", mealID, err)
	}
	if ok {
		s.publish(types.ChangeDeleted, mealID, 0)
	}
	return ok, nil
}

// Get returns a meal by surrogate id.
func (s *Store) Get(ctx context.Context, id int64) (*types.MealRecord, error) {
	record, err := db.GetMeal(ctx, s.conn, id)
	if err != nil {
		return nil, fmt.Errorf("get meal %d: %w", id, err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// GetByMealID returns a meal by meal id.
func (s *Store) GetByMealID(ctx context.Context, mealID string) (*types.MealRecord, error) {
	record, err := db.GetMealByMealID(ctx, s.conn, mealID)
	if err != nil {
		return nil, fmt.Errorf("get meal %s: %w", mealID, err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// Window returns a page of meals, newest first.
func (s *Store) Window(ctx context.Context, offset, count int) ([]types.MealRecord, error) {
	records, err := db.GetMealsWindow(ctx, s.conn, offset, count)
	if err != nil {
		return nil, fmt.Errorf("query meal window: %w", err)
	}
	return records, nil
}

// Since returns meals created at or after since, newest first.
func (s *Store) Since(ctx context.Context, since time.Time) ([]types.MealRecord, error) {
	records, err := db.GetMealsSince(ctx, s.conn, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("query meals since %s: %w", since.Format(time.RFC3339), err)
	}
	return records, nil
}

// Expired returns non-favorite meals created before cutoff.
func (s *Store) Expired(ctx context.Context, cutoff time.Time) ([]types.MealRecord, error) {
	records, err := db.GetExpiredMeals(ctx, s.conn, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query expired meals: %w", err)
	}
	return records, nil
}

// StaleAnalyzing returns rows that have been analyzing since before cutoff.
func (s *Store) StaleAnalyzing(ctx context.Context, cutoff time.Time) ([]types.MealRecord, error) {
	records, err := db.GetStaleAnalyzing(ctx, s.conn, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("query stale analyzing meals: %w", err)
	}
	return records, nil
}

// ExpireAnalyzing ends a stale analysis on record. It reports false when the
// row moved on since it was read.
func (s *Store) ExpireAnalyzing(ctx context.Context, record types.MealRecord, cutoff time.Time, message string) (bool, error) {
	ok, err := db.ExpireAnalyzing(ctx, s.conn, record.ID, cutoff.Unix(), message)
	if err != nil {
		return false, fmt.Errorf("expire analyzing meal %d: %w", record.ID, err)
	}
	if ok {
		s.publish(types.ChangeUpdated, record.MealIDValue(), record.ID)
	}
	return ok, nil
}
