package upload

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/adamavenir/mealsync/internal/types"
)

// Outcome is how an upload attempt ended.
type Outcome string

const (
	// OutcomeAnalyzing means the photo was accepted and a durable row exists.
	OutcomeAnalyzing Outcome = "analyzing"
	// OutcomeFailed means the attempt failed; the optimistic entry shows why.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the user cancelled; it is not an error.
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the outcome of one upload attempt.
type Result struct {
	MealID  string            `json:"meal_id"`
	Outcome Outcome           `json:"outcome"`
	Record  *types.MealRecord `json:"record,omitempty"`
}

// Upload is a handle on one in-flight upload.
type Upload struct {
	MealID string

	sourceURI string
	cancel    context.CancelFunc
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
	result    Result
	err       error
}

func newUpload(mealID, sourceURI string, cancel context.CancelFunc) *Upload {
	return &Upload{MealID: mealID, sourceURI: sourceURI, cancel: cancel, done: make(chan struct{})}
}

// Cancel aborts the upload. Only the first call has an effect, and calls
// after the upload finished change nothing.
func (u *Upload) Cancel() {
	u.once.Do(func() {
		select {
		case <-u.done:
			return
		default:
		}
		u.cancelled.Store(true)
		u.cancel()
	})
}

func (u *Upload) isCancelled() bool {
	return u.cancelled.Load()
}

// Done is closed once the outcome is known.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the upload finishes or ctx ends. Cancellation yields
// OutcomeCancelled with a nil error.
func (u *Upload) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{MealID: u.MealID}, ctx.Err()
	case <-u.done:
		return u.result, u.err
	}
}

func (u *Upload) finish(result Result, err error) {
	u.result = result
	u.err = err
	u.cancel()
	close(u.done)
}
