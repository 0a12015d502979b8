package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/adamavenir/mealsync/internal/db"
	"github.com/adamavenir/mealsync/internal/mealapi"
	"github.com/adamavenir/mealsync/internal/overlay"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/types"
)

// ErrInvalidMessage is returned for push messages that cannot be applied.
var ErrInvalidMessage = errors.New("invalid push message")

// DefaultFailureMessage is stored when a failure event carries no reason.
const DefaultFailureMessage = "analysis failed"

// Syncer fetches analyses completed since a checkpoint.
type Syncer interface {
	Sync(ctx context.Context, since time.Time) (mealapi.SyncResponse, error)
}

// DefaultSyncOverlap is how far the checkpoint trails the newest server
// timestamp seen in a pass.
const DefaultSyncOverlap = time.Minute

// Options tunes the reconciler.
type Options struct {
	DedupeSize int
	DedupeTTL  time.Duration
	// SyncOverlap re-fetches the tail of the previous window so results the
	// server commits slightly out of order are not skipped.
	SyncOverlap time.Duration
}

// Reconciler merges push messages and pull-sync results into the store.
type Reconciler struct {
	store   *store.Store
	syncer  Syncer
	overlay *overlay.Overlay
	// recent maps an applied message to the unix second it was applied.
	recent  *expirable.LRU[string, int64]
	overlap time.Duration
	logger  *slog.Logger

	syncMu sync.Mutex
}

// SyncResult reports one pull-sync pass.
type SyncResult struct {
	Since      time.Time     `json:"since"`
	Checkpoint time.Time     `json:"checkpoint"`
	Fetched    int           `json:"fetched"`
	Applied    int           `json:"applied"`
	Ignored    int           `json:"ignored"`
	Invalid    int           `json:"invalid"`
	Duration   time.Duration `json:"duration"`
}

// New creates a reconciler. ov may be nil.
func New(st *store.Store, syncer Syncer, ov *overlay.Overlay, logger *slog.Logger, opts Options) *Reconciler {
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = 512
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = 10 * time.Minute
	}
	if opts.SyncOverlap < 0 {
		opts.SyncOverlap = 0
	} else if opts.SyncOverlap == 0 {
		opts.SyncOverlap = DefaultSyncOverlap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   st,
		syncer:  syncer,
		overlay: ov,
		recent:  expirable.NewLRU[string, int64](opts.DedupeSize, nil, opts.DedupeTTL),
		overlap: opts.SyncOverlap,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

// ApplyPush applies one push message. It reports whether the store changed;
// messages for unknown meals, replays and stale results are no-ops.
func (r *Reconciler) ApplyPush(ctx context.Context, msg types.PushMessage) (bool, error) {
	event := string(msg.Event)
	if strings.TrimSpace(msg.MealID) == "" {
		pushTotal.WithLabelValues(event, "invalid").Inc()
		return false, fmt.Errorf("%w: missing meal_id", ErrInvalidMessage)
	}

	key, err := dedupeKey(msg)
	if err != nil {
		return false, err
	}
	if appliedAt, ok := r.recent.Get(key); ok {
		if !r.resubmittedSince(ctx, msg.MealID, appliedAt) {
			pushTotal.WithLabelValues(event, "duplicate").Inc()
			r.logger.Debug("duplicate push message", slog.String("meal_id", msg.MealID), slog.String("event", event))
			return false, nil
		}
		// Same payload, new attempt: the server produced the same result again.
		r.recent.Remove(key)
	}

	var applied bool
	switch msg.Event {
	case types.EventAnalysisComplete:
		if msg.Data == nil {
			pushTotal.WithLabelValues(event, "invalid").Inc()
			return false, fmt.Errorf("%w: %s without data", ErrInvalidMessage, msg.Event)
		}
		analysis := types.Analysis{
			MealID:      msg.MealID,
			MealName:    msg.Data.MealName,
			Ingredients: msg.Data.Ingredients,
			Timestamp:   msg.Data.Timestamp,
		}
		applied, err = r.store.ApplyAnalysis(ctx, analysis)
		if errors.Is(err, db.ErrInvalidAnalysis) {
			pushTotal.WithLabelValues(event, "invalid").Inc()
			return false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	case types.EventAnalysisFailed:
		message := DefaultFailureMessage
		if msg.Error != nil && strings.TrimSpace(*msg.Error) != "" {
			message = *msg.Error
		}
		applied, err = r.store.ApplyFailure(ctx, msg.MealID, message)
	default:
		pushTotal.WithLabelValues(event, "invalid").Inc()
		return false, fmt.Errorf("%w: unknown event %q", ErrInvalidMessage, msg.Event)
	}
	if err != nil {
		pushTotal.WithLabelValues(event, "error").Inc()
		return false, err
	}

	if !applied {
		pushTotal.WithLabelValues(event, "ignored").Inc()
		r.logger.Debug("push message matched no pending row", slog.String("meal_id", msg.MealID), slog.String("event", event))
		return false, nil
	}

	r.recent.Add(key, r.store.Now().Unix())
	if r.overlay != nil {
		r.overlay.Remove(msg.MealID)
	}
	pushTotal.WithLabelValues(event, "applied").Inc()
	r.logger.Info("push message applied", slog.String("meal_id", msg.MealID), slog.String("event", event))
	return true, nil
}

// HandlePush adapts ApplyPush to the push client's handler signature.
func (r *Reconciler) HandlePush(ctx context.Context, msg types.PushMessage) error {
	_, err := r.ApplyPush(ctx, msg)
	return err
}

// resubmittedSince reports whether the meal is analyzing again after a
// re-analysis that began at or after appliedAt.
func (r *Reconciler) resubmittedSince(ctx context.Context, mealID string, appliedAt int64) bool {
	record, err := r.store.GetByMealID(ctx, mealID)
	if err != nil {
		return false
	}
	return record.Status == types.StatusAnalyzing &&
		record.AnalyzingSince != nil &&
		*record.AnalyzingSince >= appliedAt
}

func dedupeKey(msg types.PushMessage) (string, error) {
	payload, err := json.Marshal(struct {
		Data  *types.PushData `json:"data,omitempty"`
		Error *string         `json:"error,omitempty"`
	}{msg.Data, msg.Error})
	if err != nil {
		return "", fmt.Errorf("digest push message: %w", err)
	}
	sum := sha256.Sum256(payload)
	return msg.MealID + "|" + string(msg.Event) + "|" + hex.EncodeToString(sum[:8]), nil
}

// PullSync fetches analyses since the stored checkpoint and applies them.
// The checkpoint only moves when every entry has been handled, so an
// interrupted pass fetches the same window again. It follows the newest
// server timestamp in the window less the overlap, never the local clock,
// and stays put when the window holds no valid entry. Passes never run
// concurrently.
func (r *Reconciler) PullSync(ctx context.Context) (*SyncResult, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	begin := time.Now()
	result := &SyncResult{}
	defer func() {
		result.Duration = time.Since(begin)
		syncDuration.Observe(result.Duration.Seconds())
	}()

	since, err := r.store.LastSyncAt(ctx)
	if err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	result.Since = since

	resp, err := r.syncer.Sync(ctx, since)
	if err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("fetch analyses since %s: %w", since.Format(time.RFC3339), err)
	}
	result.Fetched = len(resp.Analyses)

	var newest time.Time
	for _, analysis := range resp.Analyses {
		if strings.TrimSpace(analysis.MealID) == "" {
			result.Invalid++
			syncEntriesTotal.WithLabelValues("invalid").Inc()
			r.logger.Warn("skipping sync entry without meal_id")
			continue
		}
		applied, err := r.store.ApplyAnalysis(ctx, analysis)
		if err != nil {
			if errors.Is(err, db.ErrInvalidAnalysis) {
				result.Invalid++
				syncEntriesTotal.WithLabelValues("invalid").Inc()
				r.logger.Warn("skipping invalid sync entry", slog.String("meal_id", analysis.MealID), slog.Any("error", err))
				continue
			}
			syncRunsTotal.WithLabelValues("error").Inc()
			return result, fmt.Errorf("apply sync entry %s: %w", analysis.MealID, err)
		}
		if ts, err := analysis.ParsedTimestamp(); err == nil && ts.After(newest) {
			newest = ts
		}
		if applied {
			result.Applied++
			syncEntriesTotal.WithLabelValues("applied").Inc()
			if r.overlay != nil {
				r.overlay.Remove(analysis.MealID)
			}
		} else {
			result.Ignored++
			syncEntriesTotal.WithLabelValues("ignored").Inc()
		}
	}

	checkpoint := since
	if next := newest.Add(-r.overlap); !newest.IsZero() && next.After(since) {
		checkpoint = next
	}
	result.Checkpoint = checkpoint
	if err := r.store.SetLastSyncAt(ctx, checkpoint); err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	syncRunsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("pull-sync complete",
		slog.Time("since", since),
		slog.Time("checkpoint", checkpoint),
		slog.Int("fetched", result.Fetched),
		slog.Int("applied", result.Applied),
		slog.Int("ignored", result.Ignored),
		slog.Int("invalid", result.Invalid),
	)
	return result, nil
}

// HandleReconnect runs a pull-sync pass after the push channel reopens.
// Failures are logged, the next reconnect or foreground retries.
func (r *Reconciler) HandleReconnect(ctx context.Context) {
	if _, err := r.PullSync(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("pull-sync after reconnect failed", slog.Any("error", err))
	}
}
