package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/mealsync/internal/blobstore"
	"github.com/adamavenir/mealsync/internal/events"
	"github.com/adamavenir/mealsync/internal/mealapi"
	"github.com/adamavenir/mealsync/internal/overlay"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/types"
)

type fakeAPI struct {
	mu          sync.Mutex
	uploads     []mealapi.UploadRequest
	feedback    []mealapi.FeedbackRequest
	uploadErr   error
	feedbackErr error
	block       chan struct{}
	started     chan struct{}
	onUpload    func()
}

func (f *fakeAPI) Upload(ctx context.Context, req mealapi.UploadRequest) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	hook := f.onUpload
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		hook()
	}
	return f.uploadErr
}

func (f *fakeAPI) Feedback(ctx context.Context, req mealapi.FeedbackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, req)
	return f.feedbackErr
}

type fixture struct {
	store   *store.Store
	overlay *overlay.Overlay
	blobs   *blobstore.Store
	api     *fakeAPI
	orch    *Orchestrator
	source  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := events.NewBroker()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "meals.db"), broker, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	blobs, err := blobstore.New(filepath.Join(dir, "photos"))
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}
	source := filepath.Join(dir, "camera.jpg")
	if err := os.WriteFile(source, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	ov := overlay.New(broker)
	api := &fakeAPI{}
	orch := New(st, ov, blobs, api, Options{PollInterval: 10 * time.Millisecond}, logger)
	orch.newID = func() string { return "m1" }
	return &fixture{store: st, overlay: ov, blobs: blobs, api: api, orch: orch, source: source}
}

func (f *fixture) photoCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.blobs.Dir())
	if err != nil {
		t.Fatalf("read photo dir: %v", err)
	}
	return len(entries)
}

func waitResult(t *testing.T, u *Upload) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := u.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("upload did not finish")
	}
	return result, err
}

func TestUploadPromotesToDurableRow(t *testing.T) {
	f := newFixture(t)

	u, err := f.orch.Start(context.Background(), f.source)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if entry, ok := f.overlay.Get("m1"); ok && entry.Status != types.StatusUploading {
		t.Fatalf("optimistic entry must start uploading, got %s", entry.Status)
	}

	result, err := waitResult(t, u)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result.Outcome != OutcomeAnalyzing || result.Record == nil || result.Record.Status != types.StatusAnalyzing {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !f.blobs.Exists(result.Record.ImageURI) {
		t.Fatalf("expected persisted photo at %s", result.Record.ImageURI)
	}
	if f.overlay.Len() != 0 {
		t.Fatal("expected overlay entry cleared after promotion")
	}

	if len(f.api.uploads) != 1 || f.api.uploads[0].MealID != "m1" {
		t.Fatalf("unexpected uploads: %+v", f.api.uploads)
	}
	decoded, err := base64.StdEncoding.DecodeString(f.api.uploads[0].B64Img)
	if err != nil || string(decoded) != "pixels" {
		t.Fatalf("unexpected image payload %q: %v", decoded, err)
	}
}

func TestUploadFailureKeepsFailedEntry(t *testing.T) {
	f := newFixture(t)
	f.api.uploadErr = &mealapi.APIError{Status: 413, Message: "image too large"}

	u, _ := f.orch.Start(context.Background(), f.source)
	result, err := waitResult(t, u)
	var apiErr *mealapi.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}

	entry, ok := f.overlay.Get("m1")
	if !ok || entry.Status != types.StatusError || entry.ErrorMessage == nil || *entry.ErrorMessage != "image too large" {
		t.Fatalf("unexpected overlay entry: %+v", entry)
	}
	if entry.ImageURI != f.source {
		t.Fatalf("failed entry must point at the source photo, got %s", entry.ImageURI)
	}
	if _, err := f.store.GetByMealID(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed upload must not create a row: %v", err)
	}
	if n := f.photoCount(t); n != 0 {
		t.Fatalf("expected persisted copy removed, found %d photos", n)
	}
}

func TestCancelIsIdempotentAndNotAnError(t *testing.T) {
	f := newFixture(t)
	f.api.block = make(chan struct{})
	f.api.started = make(chan struct{})
	defer close(f.api.block)

	u, _ := f.orch.Start(context.Background(), f.source)
	<-f.api.started
	u.Cancel()
	u.Cancel()
	f.orch.Cancel("m1")

	result, err := waitResult(t, u)
	if err != nil {
		t.Fatalf("cancel must not surface an error: %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", result.Outcome)
	}
	if _, ok := f.overlay.Get("m1"); ok {
		t.Fatal("cancel must discard the optimistic entry")
	}
	if n := f.photoCount(t); n != 0 {
		t.Fatalf("expected persisted copy removed, found %d photos", n)
	}
	u.Cancel()
}

func TestCancelAfterServerAcceptedDiscardsLocally(t *testing.T) {
	f := newFixture(t)
	f.api.onUpload = func() { f.orch.Cancel("m1") }

	u, _ := f.orch.Start(context.Background(), f.source)
	result, err := waitResult(t, u)
	if err != nil || result.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v err=%v", result, err)
	}
	if _, err := f.store.GetByMealID(context.Background(), "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancelled upload must not create a row: %v", err)
	}
	applied, err := f.store.ApplyAnalysis(context.Background(), types.Analysis{MealID: "m1", Timestamp: "2024-01-01T00:00:00Z"})
	if err != nil || applied {
		t.Fatalf("late analysis for discarded meal must be a no-op: applied=%v err=%v", applied, err)
	}
}

func seedComplete(t *testing.T, f *fixture) *types.MealRecord {
	t.Helper()
	ctx := context.Background()
	mealID := "m1"
	if _, err := f.store.Insert(ctx, types.NewMeal{MealID: &mealID, ImageURI: f.source}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := f.store.ApplyAnalysis(ctx, types.Analysis{
		MealID:      mealID,
		MealName:    "Salad",
		Ingredients: []types.Ingredient{{Name: "Lettuce", Carbs: 2, Proteins: 1}},
		Timestamp:   "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	record, err := f.store.GetByMealID(ctx, mealID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return record
}

func TestFeedbackFailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := seedComplete(t, f)
	f.api.feedbackErr = errors.New("network unreachable")

	if err := f.orch.Feedback(ctx, "m1", "that was quinoa"); err == nil {
		t.Fatal("expected feedback error")
	}
	after, err := f.store.GetByMealID(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("row not restored:\n%+v\n%+v", before, after)
	}
}

func TestFeedbackSuccessLeavesRowAnalyzing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedComplete(t, f)

	if err := f.orch.Feedback(ctx, "m1", "  add dressing "); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	record, _ := f.store.GetByMealID(ctx, "m1")
	if record.Status != types.StatusAnalyzing || record.LastAnalysis == nil {
		t.Fatalf("expected analyzing with previous analysis kept: %+v", record)
	}
	if len(f.api.feedback) != 1 || f.api.feedback[0].Feedback != "add dressing" {
		t.Fatalf("unexpected feedback requests: %+v", f.api.feedback)
	}

	if err := f.orch.Feedback(ctx, "m1", "again"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while analyzing, got %v", err)
	}
	if err := f.orch.Feedback(ctx, "m1", " "); err == nil {
		t.Fatal("expected error for empty feedback")
	}
}

func TestDeleteRemovesPhotoAndRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, _ := f.orch.Start(ctx, f.source)
	result, err := waitResult(t, u)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := f.orch.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.blobs.Exists(result.Record.ImageURI) {
		t.Fatal("expected photo removed")
	}
	if _, err := f.store.GetByMealID(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected row removed: %v", err)
	}
	if err := f.orch.Delete(ctx, "m1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestAwaitAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mealID := "m1"
	if _, err := f.store.Insert(ctx, types.NewMeal{MealID: &mealID, ImageURI: f.source}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := f.orch.AwaitAnalysis(ctx, mealID, 30*time.Millisecond); !errors.Is(err, ErrAnalysisTimeout) {
		t.Fatalf("expected ErrAnalysisTimeout, got %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.store.ApplyAnalysis(context.Background(), types.Analysis{MealID: mealID, MealName: "Soup", Timestamp: "2024-01-01T00:00:00Z"})
	}()
	record, err := f.orch.AwaitAnalysis(ctx, mealID, 2*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if record.Status != types.StatusComplete || record.LastAnalysis.MealName != "Soup" {
		t.Fatalf("unexpected record: %+v", record)
	}
}
