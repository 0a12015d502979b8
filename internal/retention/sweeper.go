// Package retention bounds local storage.
//
// Each sweep runs two phases:
//  1. Rows stuck in analyzing for longer than the stale window are ended,
//     falling back to their previous analysis when one exists.
//  2. Non-favorite rows older than the retention window are removed. The
//     photo is moved aside first and the row is deleted only if it is still
//     an unfavorited expired meal; otherwise the photo is put back.
//
// The sweeper runs once at start and then on a fixed interval. Stale
// analyses are also checked on their own, shorter interval.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adamavenir/mealsync/internal/blobstore"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/types"
)

const (
	// DefaultRetention is how long non-favorite meals are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultInterval is the time between sweeps.
	DefaultInterval = 24 * time.Hour
	// DefaultStaleAfter is how long a row may stay analyzing.
	DefaultStaleAfter = 15 * time.Minute
	// DefaultStaleInterval is the time between stale analysis checks.
	DefaultStaleInterval = 5 * time.Minute
	// TimedOutMessage is stored on rows whose analysis never arrived.
	TimedOutMessage = "analysis timed out"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealsync_sweep_runs_total",
		Help: "Retention sweeps run",
	})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealsync_sweep_deleted_total",
		Help: "Meals removed by retention",
	})
	sweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealsync_sweep_expired_total",
		Help: "Stale analyzing meals ended by the sweeper",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mealsync_sweep_errors_total",
		Help: "Per-meal errors during sweeps",
	})
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mealsync_sweep_duration_seconds",
		Help:    "Duration of retention sweeps",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// BlobRemover removes stored photos in two steps. Detach returns "" for a
// photo that is already gone; Delete treats a missing photo as success.
type BlobRemover interface {
	Detach(uri string) (string, error)
	Reattach(detached, uri string) error
	Delete(uri string) error
}

// Options configures the sweeper. Zero values pick the defaults.
type Options struct {
	Retention     time.Duration
	Interval      time.Duration
	StaleAfter    time.Duration
	StaleInterval time.Duration
}

// SweepResult reports one sweep.
type SweepResult struct {
	Expired  int           `json:"expired"`
	Deleted  int           `json:"deleted"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Sweeper removes aged meals and ends stuck analyses.
type Sweeper struct {
	store  *store.Store
	blobs  BlobRemover
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper.
func New(st *store.Store, blobs BlobRemover, opts Options, logger *slog.Logger) *Sweeper {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.StaleInterval <= 0 {
		opts.StaleInterval = DefaultStaleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  st,
		blobs:  blobs,
		opts:   opts,
		logger: logger.With(slog.String("component", "retention")),
		now:    time.Now,
	}
}

// Start runs the sweeper in the background until Stop or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		_ = s.Run(sweepCtx)
	}()

	s.logger.Info("retention sweeper started",
		slog.String("interval", s.opts.Interval.String()),
		slog.String("stale_interval", s.opts.StaleInterval.String()),
		slog.String("retention", s.opts.Retention.String()),
	)
}

// Stop halts a sweeper started with Start and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("retention sweeper stopped")
}

// Run sweeps immediately and then on every interval until ctx ends. Stale
// analyses are checked on the stale interval in between.
func (s *Sweeper) Run(ctx context.Context) error {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	staleTicker := time.NewTicker(s.opts.StaleInterval)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-staleTicker.C:
			s.ExpireStale(ctx)
		}
	}
}

// ExpireStale ends analyses that have been pending past the stale window and
// returns how many it ended.
func (s *Sweeper) ExpireStale(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired, errs := s.expireStale(ctx, s.now())
	sweepExpiredTotal.Add(float64(expired))
	sweepErrorsTotal.Add(float64(errs))
	if expired > 0 || errs > 0 {
		s.logger.Info("stale analysis check finished",
			slog.Int("expired", expired),
			slog.Int("errors", errs),
		)
	}
	return expired
}

// RunOnce performs one sweep. Concurrent calls run one after another.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := s.now()
	result := &SweepResult{}

	expired, expireErrors := s.expireStale(ctx, now)
	result.Expired = expired
	deleted, deleteErrors := s.deleteExpired(ctx, now)
	result.Deleted = deleted
	result.Errors = expireErrors + deleteErrors
	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepDeletedTotal.Add(float64(result.Deleted))
	sweepExpiredTotal.Add(float64(result.Expired))
	sweepErrorsTotal.Add(float64(result.Errors))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("retention sweep finished",
		slog.Int("expired", result.Expired),
		slog.Int("deleted", result.Deleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

func (s *Sweeper) expireStale(ctx context.Context, now time.Time) (expired, errs int) {
	cutoff := now.Add(-s.opts.StaleAfter)
	records, err := s.store.StaleAnalyzing(ctx, cutoff)
	if err != nil {
		s.logger.Error("list stale analyzing meals", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, record := range records {
		ok, err := s.store.ExpireAnalyzing(ctx, record, cutoff, TimedOutMessage)
		if err != nil {
			s.logger.Error("expire analyzing meal",
				slog.Int64("id", record.ID),
				slog.String("meal_id", record.MealIDValue()),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		if ok {
			s.logger.Debug("analysis timed out", slog.String("meal_id", record.MealIDValue()))
			expired++
		}
	}
	return expired, errs
}

func (s *Sweeper) deleteExpired(ctx context.Context, now time.Time) (deleted, errs int) {
	cutoff := now.Add(-s.opts.Retention)
	records, err := s.store.Expired(ctx, cutoff)
	if err != nil {
		s.logger.Error("list expired meals", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return deleted, errs
		}

		detached, err := s.blobs.Detach(record.ImageURI)
		if err != nil {
			if !errors.Is(err, blobstore.ErrOutsideStore) {
				s.logger.Error("detach meal photo",
					slog.Int64("id", record.ID),
					slog.String("image_uri", record.ImageURI),
					slog.String("error", err.Error()),
				)
				errs++
				continue
			}
			s.logger.Warn("meal photo is not managed by the photo store, keeping it",
				slog.Int64("id", record.ID),
				slog.String("image_uri", record.ImageURI),
			)
		}

		ok, err := s.store.DeleteExpired(ctx, record, cutoff)
		if err != nil {
			s.logger.Error("delete meal row",
				slog.Int64("id", record.ID),
				slog.String("error", err.Error()),
			)
			errs++
			if !s.reattach(record, detached) {
				errs++
			}
			continue
		}
		if !ok {
			// Favorited or removed while the photo was detached.
			if !s.settle(ctx, record, detached) {
				errs++
			}
			continue
		}

		if detached != "" {
			if err := s.blobs.Delete(detached); err != nil {
				s.logger.Warn("left detached photo behind",
					slog.Int64("id", record.ID),
					slog.String("path", detached),
					slog.String("error", err.Error()),
				)
			}
		}
		s.logger.Debug("meal removed by retention",
			slog.Int64("id", record.ID),
			slog.String("meal_id", record.MealIDValue()),
		)
		deleted++
	}
	return deleted, errs
}

// settle puts a detached photo back when its row survived the sweep and
// drops it when the row is gone.
func (s *Sweeper) settle(ctx context.Context, record types.MealRecord, detached string) bool {
	if detached == "" {
		return true
	}
	if _, err := s.store.Get(ctx, record.ID); errors.Is(err, store.ErrNotFound) {
		if err := s.blobs.Delete(detached); err != nil {
			s.logger.Warn("left detached photo behind",
				slog.Int64("id", record.ID),
				slog.String("path", detached),
				slog.String("error", err.Error()),
			)
		}
		return true
	}
	s.logger.Debug("meal kept by retention", slog.String("meal_id", record.MealIDValue()))
	return s.reattach(record, detached)
}

func (s *Sweeper) reattach(record types.MealRecord, detached string) bool {
	if detached == "" {
		return true
	}
	if err := s.blobs.Reattach(detached, record.ImageURI); err != nil {
		s.logger.Error("reattach meal photo",
			slog.Int64("id", record.ID),
			slog.String("image_uri", record.ImageURI),
			slog.String("path", detached),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
