package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamavenir/mealsync/internal/db"
)

// LastSyncAt returns the pull-sync checkpoint, or the unix epoch when no
// sync has completed yet.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, error) {
	value, err := db.GetConfig(ctx, s.conn, db.ConfigLastSyncAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync checkpoint: %w", err)
	}
	if value == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		s.logger.Warn("unreadable sync checkpoint, syncing from epoch", slog.String("value", value))
		return time.Unix(0, 0).UTC(), nil
	}
	return parsed, nil
}

// SetLastSyncAt stores the pull-sync checkpoint.
func (s *Store) SetLastSyncAt(ctx context.Context, at time.Time) error {
	if err := db.SetConfig(ctx, s.conn, db.ConfigLastSyncAt, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write sync checkpoint: %w", err)
	}
	return nil
}
