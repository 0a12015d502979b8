package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/mealsync/internal/types"
)

var (
	// ErrInvalidStatus is returned when a status cannot be stored durably.
	ErrInvalidStatus = errors.New("invalid meal status")
	// ErrInvalidPatch is returned when a patch would break the status/payload invariants.
	ErrInvalidPatch = errors.New("invalid meal patch")
	// ErrInvalidAnalysis is returned when an analysis has no usable timestamp.
	ErrInvalidAnalysis = errors.New("invalid analysis")
)

// UnreadableAnalysisMessage is surfaced for rows whose stored analysis cannot be parsed.
const UnreadableAnalysisMessage = "stored analysis could not be read"

const mealColumns = `id, meal_id, image_uri, favorite, status, created_at, last_analysis, error_message, analyzing_since`

// InsertMeal inserts a new meal row and returns its id. A row that already
// carries the same meal_id is updated in place instead; its status and
// created_at are kept.
func InsertMeal(ctx context.Context, db DBTX, meal types.NewMeal) (int64, error) {
	status := meal.Status
	if status == "" {
		status = types.StatusAnalyzing
	}
	if status != types.StatusAnalyzing {
		return 0, fmt.Errorf("%w: new rows start as %s, got %q", ErrInvalidStatus, types.StatusAnalyzing, status)
	}
	if strings.TrimSpace(meal.ImageURI) == "" {
		return 0, fmt.Errorf("image uri is required")
	}

	var mealID any
	if meal.MealID != nil {
		mealID = *meal.MealID
	}

	row := db.QueryRowContext(ctx, `
		INSERT INTO meals (meal_id, image_uri, favorite, status, created_at, analyzing_since)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(meal_id) DO UPDATE SET
		  image_uri = excluded.image_uri
		RETURNING id
	`, mealID, meal.ImageURI, string(status), meal.CreatedAt, meal.CreatedAt)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertByMealID applies a partial update to the row with mealID as one
// statement. It returns the number of rows changed; zero means no row matched.
func UpsertByMealID(ctx context.Context, db DBTX, mealID string, patch types.MealPatch, now int64) (int64, error) {
	if patch.LastAnalysis != nil && patch.LastAnalysis.MealID == "" {
		analysis := *patch.LastAnalysis
		analysis.MealID = mealID
		patch.LastAnalysis = &analysis
	}
	sets, args, err := patchAssignments(patch, now)
	if err != nil {
		return 0, err
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, mealID)
	result, err := db.ExecContext(ctx,
		fmt.Sprintf("UPDATE meals SET %s WHERE meal_id = ?", strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func patchAssignments(patch types.MealPatch, now int64) ([]string, []any, error) {
	var sets []string
	var args []any

	if patch.Status == nil && (patch.LastAnalysis != nil || patch.ErrorMessage != nil) {
		return nil, nil, fmt.Errorf("%w: analysis and error message require a status", ErrInvalidPatch)
	}

	if patch.Status != nil {
		switch *patch.Status {
		case types.StatusComplete:
			if patch.LastAnalysis == nil || patch.ErrorMessage != nil {
				return nil, nil, fmt.Errorf("%w: complete requires an analysis and no error", ErrInvalidPatch)
			}
			raw, ts, err := encodeAnalysis(*patch.LastAnalysis)
			if err != nil {
				return nil, nil, err
			}
			sets = append(sets, "status = ?", "last_analysis = ?", "analysis_ts = ?", "error_message = NULL", "analyzing_since = NULL")
			args = append(args, string(types.StatusComplete), raw, ts)
		case types.StatusError:
			if patch.ErrorMessage == nil || patch.LastAnalysis != nil {
				return nil, nil, fmt.Errorf("%w: error requires a message and no analysis", ErrInvalidPatch)
			}
			sets = append(sets, "status = ?", "error_message = ?", "last_analysis = NULL", "analysis_ts = NULL", "analyzing_since = NULL")
			args = append(args, string(types.StatusError), *patch.ErrorMessage)
		case types.StatusAnalyzing:
			if patch.ErrorMessage != nil {
				return nil, nil, fmt.Errorf("%w: analyzing carries no error", ErrInvalidPatch)
			}
			sets = append(sets, "status = ?", "error_message = NULL", "analyzing_since = COALESCE(analyzing_since, ?)")
			args = append(args, string(types.StatusAnalyzing), now)
			if patch.LastAnalysis != nil {
				raw, ts, err := encodeAnalysis(*patch.LastAnalysis)
				if err != nil {
					return nil, nil, err
				}
				sets = append(sets, "last_analysis = ?", "analysis_ts = ?")
				args = append(args, raw, ts)
			}
		default:
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
		}
	}

	if patch.Favorite != nil {
		sets = append(sets, "favorite = ?")
		args = append(args, boolToInt(*patch.Favorite))
	}
	return sets, args, nil
}

// ApplyAnalysis marks the row complete with analysis. It is a no-op when no
// row matches or when the row already holds an analysis at least as new,
// including while a re-analysis of that analysis is pending.
func ApplyAnalysis(ctx context.Context, db DBTX, analysis types.Analysis) (bool, error) {
	raw, ts, err := encodeAnalysis(analysis)
	if err != nil {
		return false, err
	}
	result, err := db.ExecContext(ctx, `
		UPDATE meals SET
		  status = 'complete',
		  last_analysis = ?,
		  analysis_ts = ?,
		  error_message = NULL,
		  analyzing_since = NULL
		WHERE meal_id = ?
		  AND (analysis_ts IS NULL OR analysis_ts < ?)
	`, raw, ts, analysis.MealID, ts)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// ApplyFailure marks an analyzing or failed row as failed. Complete rows are
// left alone.
func ApplyFailure(ctx context.Context, db DBTX, mealID, message string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE meals SET
		  status = 'error',
		  error_message = ?,
		  last_analysis = NULL,
		  analysis_ts = NULL,
		  analyzing_since = NULL
		WHERE meal_id = ? AND status IN ('analyzing', 'error')
	`, message, mealID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// MarkAnalyzing flips a complete or failed row back to analyzing for a
// re-analysis. The previous analysis, if any, is kept until replaced.
func MarkAnalyzing(ctx context.Context, db DBTX, mealID string, now int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE meals SET
		  status = 'analyzing',
		  error_message = NULL,
		  analyzing_since = ?
		WHERE meal_id = ? AND status IN ('complete', 'error')
	`, now, mealID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// RestoreSnapshot writes back the analysis state captured in snap. Only a
// row still analyzing is restored; one that already received a new result
// is left alone.
func RestoreSnapshot(ctx context.Context, db DBTX, snap types.MealSnapshot) (bool, error) {
	var raw, ts, errMsg any
	switch snap.Status {
	case types.StatusComplete:
		if snap.LastAnalysis == nil || snap.ErrorMessage != nil {
			return false, fmt.Errorf("%w: complete snapshot requires an analysis", ErrInvalidPatch)
		}
	case types.StatusError:
		if snap.ErrorMessage == nil || snap.LastAnalysis != nil {
			return false, fmt.Errorf("%w: error snapshot requires a message", ErrInvalidPatch)
		}
		errMsg = *snap.ErrorMessage
	default:
		return false, fmt.Errorf("%w: cannot restore %q", ErrInvalidStatus, snap.Status)
	}
	if snap.LastAnalysis != nil {
		data, err := json.Marshal(snap.LastAnalysis)
		if err != nil {
			return false, err
		}
		raw = string(data)
		if parsed, err := snap.LastAnalysis.ParsedTimestamp(); err == nil {
			ts = parsed.Unix()
		}
	}

	result, err := db.ExecContext(ctx, `
		UPDATE meals SET
		  status = ?,
		  last_analysis = ?,
		  analysis_ts = ?,
		  error_message = ?,
		  analyzing_since = NULL
		WHERE meal_id = ? AND status = 'analyzing'
	`, string(snap.Status), raw, ts, errMsg, snap.MealID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// ExpireAnalyzing ends an analysis that has been pending since before
// cutoff. Rows that still hold a previous analysis return to complete, the
// rest fail with message.
func ExpireAnalyzing(ctx context.Context, db DBTX, id int64, cutoff int64, message string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE meals SET
		  status = CASE WHEN last_analysis IS NOT NULL THEN 'complete' ELSE 'error' END,
		  error_message = CASE WHEN last_analysis IS NOT NULL THEN NULL ELSE ? END,
		  analyzing_since = NULL
		WHERE id = ? AND status = 'analyzing' AND analyzing_since < ?
	`, message, id, cutoff)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// DeleteMealByID removes a row by surrogate id. The photo is left to the caller.
func DeleteMealByID(ctx context.Context, db DBTX, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM meals WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// DeleteExpiredMeal removes a row only while it is still a non-favorite
// created before cutoff (unix seconds).
func DeleteExpiredMeal(ctx context.Context, db DBTX, id, cutoff int64) (bool, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM meals WHERE id = ? AND favorite = 0 AND created_at < ?", id, cutoff)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// DeleteMealByMealID removes a row by meal id. The photo is left to the caller.
func DeleteMealByMealID(ctx context.Context, db DBTX, mealID string) (bool, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM meals WHERE meal_id = ?", mealID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// GetMeal returns a meal by surrogate id.
func GetMeal(ctx context.Context, db DBTX, id int64) (*types.MealRecord, error) {
	row := db.QueryRowContext(ctx, "SELECT "+mealColumns+" FROM meals WHERE id = ?", id)
	return scanOptionalMeal(row)
}

// GetMealByMealID returns a meal by meal id.
func GetMealByMealID(ctx context.Context, db DBTX, mealID string) (*types.MealRecord, error) {
	row := db.QueryRowContext(ctx, "SELECT "+mealColumns+" FROM meals WHERE meal_id = ?", mealID)
	return scanOptionalMeal(row)
}

// GetMealsWindow returns a page of meals, newest first. count <= 0 returns
// every row after offset.
func GetMealsWindow(ctx context.Context, db DBTX, offset, count int) ([]types.MealRecord, error) {
	if offset < 0 {
		offset = 0
	}
	limit := count
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+mealColumns+` FROM meals
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanMeals(rows)
}

// GetMealsSince returns meals created at or after since (unix seconds), newest first.
func GetMealsSince(ctx context.Context, db DBTX, since int64) ([]types.MealRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+mealColumns+` FROM meals
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, since)
	if err != nil {
		return nil, err
	}
	return scanMeals(rows)
}

// GetExpiredMeals returns non-favorite meals created before cutoff, oldest first.
func GetExpiredMeals(ctx context.Context, db DBTX, cutoff int64) ([]types.MealRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+mealColumns+` FROM meals
		WHERE favorite = 0 AND created_at < ?
		ORDER BY created_at, id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return scanMeals(rows)
}

// GetStaleAnalyzing returns meals that have been analyzing since before cutoff.
func GetStaleAnalyzing(ctx context.Context, db DBTX, cutoff int64) ([]types.MealRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+mealColumns+` FROM meals
		WHERE status = 'analyzing' AND analyzing_since < ?
		ORDER BY analyzing_since, id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return scanMeals(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOptionalMeal(row *sql.Row) (*types.MealRecord, error) {
	record, err := scanMeal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func scanMeals(rows *sql.Rows) ([]types.MealRecord, error) {
	defer rows.Close()

	meals := []types.MealRecord{}
	for rows.Next() {
		record, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		meals = append(meals, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meals, nil
}

func scanMeal(scanner rowScanner) (types.MealRecord, error) {
	var (
		record       types.MealRecord
		mealID       sql.NullString
		favorite     int64
		status       string
		lastAnalysis sql.NullString
		errorMessage sql.NullString
		since        sql.NullInt64
	)
	if err := scanner.Scan(&record.ID, &mealID, &record.ImageURI, &favorite, &status, &record.CreatedAt, &lastAnalysis, &errorMessage, &since); err != nil {
		return types.MealRecord{}, err
	}
	if mealID.Valid {
		record.MealID = &mealID.String
	}
	record.Favorite = favorite != 0
	record.Status = types.Status(status)
	if errorMessage.Valid {
		record.ErrorMessage = &errorMessage.String
	}
	if lastAnalysis.Valid {
		var analysis types.Analysis
		if err := json.Unmarshal([]byte(lastAnalysis.String), &analysis); err != nil {
			degradeUnreadable(&record)
		} else {
			record.LastAnalysis = &analysis
		}
	}
	if since.Valid && record.Status == types.StatusAnalyzing {
		record.AnalyzingSince = &since.Int64
	}
	return record, nil
}

func degradeUnreadable(record *types.MealRecord) {
	message := UnreadableAnalysisMessage
	record.Status = types.StatusError
	record.LastAnalysis = nil
	record.ErrorMessage = &message
}

func encodeAnalysis(analysis types.Analysis) (string, int64, error) {
	if strings.TrimSpace(analysis.MealID) == "" {
		return "", 0, fmt.Errorf("%w: missing meal id", ErrInvalidAnalysis)
	}
	parsed, err := analysis.ParsedTimestamp()
	if err != nil {
		return "", 0, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidAnalysis, analysis.Timestamp, err)
	}
	if analysis.Ingredients == nil {
		analysis.Ingredients = []types.Ingredient{}
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return "", 0, err
	}
	return string(data), parsed.Unix(), nil
}

func affected(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
