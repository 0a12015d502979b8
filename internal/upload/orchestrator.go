package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adamavenir/mealsync/internal/blobstore"
	"github.com/adamavenir/mealsync/internal/core"
	"github.com/adamavenir/mealsync/internal/mealapi"
	"github.com/adamavenir/mealsync/internal/overlay"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/types"
)

// ErrAnalysisTimeout is returned when an analysis does not arrive in time.
var ErrAnalysisTimeout = errors.New("timed out waiting for analysis")

// DefaultAnalysisTimeout bounds AwaitAnalysis when no timeout is given.
const DefaultAnalysisTimeout = 2 * time.Minute

// API is the part of the meal API the orchestrator calls.
type API interface {
	Upload(ctx context.Context, req mealapi.UploadRequest) error
	Feedback(ctx context.Context, req mealapi.FeedbackRequest) error
}

// BlobStore persists and removes meal photos.
type BlobStore interface {
	Persist(ctx context.Context, sourceURI, mealID string) (string, error)
	ReadAll(uri string) ([]byte, error)
	Delete(uri string) error
}

// Options configures the orchestrator.
type Options struct {
	AnalysisTimeout time.Duration
	// PollInterval is how often AwaitAnalysis re-reads the row when no
	// change notification arrives.
	PollInterval time.Duration
}

// Orchestrator drives uploads from the optimistic entry to the durable row.
type Orchestrator struct {
	store   *store.Store
	overlay *overlay.Overlay
	blobs   BlobStore
	api     API
	opts    Options
	logger  *slog.Logger
	newID   func() string

	mu       sync.Mutex
	inflight map[string]*Upload
}

// New creates an orchestrator.
func New(st *store.Store, ov *overlay.Overlay, blobs BlobStore, api API, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		overlay:  ov,
		blobs:    blobs,
		api:      api,
		opts:     opts,
		logger:   logger.With(slog.String("component", "upload")),
		newID:    core.NewMealID,
		inflight: make(map[string]*Upload),
	}
}

// Start creates the optimistic entry for the photo at sourceURI and begins
// uploading it in the background. The returned handle reports the outcome
// and can cancel the attempt.
func (o *Orchestrator) Start(ctx context.Context, sourceURI string) (*Upload, error) {
	if strings.TrimSpace(sourceURI) == "" {
		return nil, fmt.Errorf("photo uri is required")
	}
	mealID := o.newID()
	o.overlay.Put(mealID, sourceURI)

	uploadCtx, cancel := context.WithCancel(ctx)
	u := newUpload(mealID, sourceURI, cancel)

	o.mu.Lock()
	o.inflight[mealID] = u
	o.mu.Unlock()

	go o.run(uploadCtx, u, sourceURI)
	return u, nil
}

// Cancel cancels the in-flight upload for mealID. It reports whether one
// was found.
func (o *Orchestrator) Cancel(mealID string) bool {
	o.mu.Lock()
	u, ok := o.inflight[mealID]
	o.mu.Unlock()
	if ok {
		u.Cancel()
	}
	return ok
}

func (o *Orchestrator) run(ctx context.Context, u *Upload, sourceURI string) {
	defer func() {
		o.mu.Lock()
		delete(o.inflight, u.MealID)
		o.mu.Unlock()
	}()
	logger := o.logger.With(slog.String("meal_id", u.MealID))

	stored, err := o.blobs.Persist(ctx, sourceURI, u.MealID)
	if err != nil {
		if u.isCancelled() {
			o.discard(u, "")
			return
		}
		o.fail(u, "", fmt.Errorf("persist photo: %w", err))
		return
	}
	o.overlay.SetImage(u.MealID, stored)

	data, err := o.blobs.ReadAll(stored)
	if err != nil {
		o.fail(u, stored, fmt.Errorf("read photo: %w", err))
		return
	}

	err = o.api.Upload(ctx, mealapi.UploadRequest{
		MealID: u.MealID,
		B64Img: base64.StdEncoding.EncodeToString(data),
	})
	// A cancel that lands after the server accepted the photo still counts
	// as cancelled; pull-sync ignores meals without a row.
	if u.isCancelled() {
		o.discard(u, stored)
		return
	}
	if err != nil {
		o.fail(u, stored, err)
		return
	}

	mealID := u.MealID
	record, err := o.store.Insert(ctx, types.NewMeal{
		MealID:   &mealID,
		ImageURI: stored,
		Status:   types.StatusAnalyzing,
	})
	if err != nil {
		if u.isCancelled() {
			o.discard(u, stored)
			return
		}
		o.fail(u, stored, fmt.Errorf("save meal: %w", err))
		return
	}
	o.overlay.Remove(u.MealID)
	logger.Info("meal uploaded", slog.Int64("id", record.ID))
	u.finish(Result{MealID: u.MealID, Outcome: OutcomeAnalyzing, Record: record}, nil)
}

// fail keeps the optimistic entry as failed, pointing back at the source
// photo, and drops the persisted copy.
func (o *Orchestrator) fail(u *Upload, stored string, err error) {
	if entry, ok := o.overlay.Get(u.MealID); ok && stored != "" && entry.ImageURI == stored {
		o.overlay.SetImage(u.MealID, u.sourceURI)
	}
	o.overlay.Fail(u.MealID, FailureReason(err))
	o.removeBlob(u.MealID, stored)
	o.logger.Warn("meal upload failed", slog.String("meal_id", u.MealID), slog.Any("error", err))
	u.finish(Result{MealID: u.MealID, Outcome: OutcomeFailed}, err)
}

func (o *Orchestrator) discard(u *Upload, stored string) {
	o.overlay.Remove(u.MealID)
	o.removeBlob(u.MealID, stored)
	o.logger.Info("meal upload cancelled", slog.String("meal_id", u.MealID))
	u.finish(Result{MealID: u.MealID, Outcome: OutcomeCancelled}, nil)
}

func (o *Orchestrator) removeBlob(mealID, stored string) {
	if stored == "" {
		return
	}
	if err := o.blobs.Delete(stored); err != nil {
		o.logger.Warn("remove meal photo", slog.String("meal_id", mealID), slog.Any("error", err))
	}
}

// FailureReason returns the message shown for a failed upload.
func FailureReason(err error) string {
	var apiErr *mealapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason()
	}
	if err == nil {
		return "upload failed"
	}
	return err.Error()
}

// Feedback re-submits a complete or failed meal with user feedback. The row
// flips to analyzing right away and is rolled back if the request fails.
func (o *Orchestrator) Feedback(ctx context.Context, mealID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("feedback text is required")
	}
	snap, err := o.store.BeginReanalysis(ctx, mealID)
	if err != nil {
		return err
	}

	if err := o.api.Feedback(ctx, mealapi.FeedbackRequest{MealID: mealID, Feedback: text}); err != nil {
		if restoreErr := o.store.Restore(context.WithoutCancel(ctx), snap); restoreErr != nil {
			if errors.Is(restoreErr, store.ErrInvalidTransition) {
				o.logger.Info("meal moved on before feedback rollback", slog.String("meal_id", mealID))
			} else {
				return errors.Join(fmt.Errorf("submit feedback: %w", err), restoreErr)
			}
		}
		return fmt.Errorf("submit feedback: %w", err)
	}
	o.logger.Info("feedback submitted", slog.String("meal_id", mealID))
	return nil
}

// Delete removes a meal on user request: the photo first, then the row.
// An in-flight upload for the meal is cancelled instead.
func (o *Orchestrator) Delete(ctx context.Context, mealID string) error {
	if o.Cancel(mealID) {
		return nil
	}
	removedOverlay := o.overlay.Remove(mealID)

	record, err := o.store.GetByMealID(ctx, mealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && removedOverlay {
			return nil
		}
		return err
	}
	if err := o.blobs.Delete(record.ImageURI); err != nil {
		if !errors.Is(err, blobstore.ErrOutsideStore) {
			return fmt.Errorf("delete meal photo: %w", err)
		}
		o.logger.Warn("meal photo is not managed by the photo store, keeping it",
			slog.String("meal_id", mealID),
			slog.String("image_uri", record.ImageURI),
		)
	}
	if _, err := o.store.DeleteByID(ctx, record.ID); err != nil {
		return err
	}
	o.logger.Info("meal deleted", slog.String("meal_id", mealID))
	return nil
}

// AwaitAnalysis blocks until the meal leaves analyzing and returns it. A
// timeout <= 0 uses the configured default.
func (o *Orchestrator) AwaitAnalysis(ctx context.Context, mealID string, timeout time.Duration) (*types.MealRecord, error) {
	if timeout <= 0 {
		timeout = o.opts.AnalysisTimeout
	}
	var changes <-chan types.Change
	if sub := o.store.Subscribe(); sub != nil {
		defer sub.Close()
		changes = sub.C
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		record, err := o.store.GetByMealID(ctx, mealID)
		if err != nil {
			return nil, err
		}
		if record.Status != types.StatusAnalyzing {
			return record, nil
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return record, fmt.Errorf("%w: %s", ErrAnalysisTimeout, mealID)
			case <-ticker.C:
				break wait
			case change, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				if change.MealID == mealID {
					break wait
				}
			}
		}
	}
}
