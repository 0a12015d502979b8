package db

import (
	"context"
	"database/sql"
	"errors"
)

// ConfigLastSyncAt holds the RFC 3339 time of the last successful pull-sync.
const ConfigLastSyncAt = "last_sync_at"

// GetConfig returns a config value, or "" when unset.
func GetConfig(ctx context.Context, db DBTX, key string) (string, error) {
	row := db.QueryRowContext(ctx, "SELECT value FROM meal_config WHERE key = ?", key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetConfig sets a config value.
func SetConfig(ctx context.Context, db DBTX, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO meal_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
