package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/adamavenir/mealsync/internal/events"
	"github.com/adamavenir/mealsync/internal/types"
)

// Overlay holds optimistic meals that have no durable row yet.
type Overlay struct {
	mu      sync.RWMutex
	entries map[string]types.OptimisticMeal
	broker  *events.Broker
	now     func() time.Time
}

// New creates an empty overlay. broker may be nil.
func New(broker *events.Broker) *Overlay {
	return &Overlay{
		entries: make(map[string]types.OptimisticMeal),
		broker:  broker,
		now:     time.Now,
	}
}

// Put records a new uploading entry and returns it. An existing entry for
// mealID is replaced.
func (o *Overlay) Put(mealID, imageURI string) types.OptimisticMeal {
	entry := types.OptimisticMeal{
		MealID:    mealID,
		ImageURI:  imageURI,
		Status:    types.StatusUploading,
		StartedAt: o.now(),
	}

	o.mu.Lock()
	_, existed := o.entries[mealID]
	o.entries[mealID] = entry
	o.mu.Unlock()

	kind := types.ChangeInserted
	if existed {
		kind = types.ChangeUpdated
	}
	o.publish(kind, mealID)
	return entry
}

// SetImage updates the photo reference of an entry, typically once the
// photo has been persisted.
func (o *Overlay) SetImage(mealID, imageURI string) bool {
	o.mu.Lock()
	entry, ok := o.entries[mealID]
	if ok {
		entry.ImageURI = imageURI
		o.entries[mealID] = entry
	}
	o.mu.Unlock()

	if ok {
		o.publish(types.ChangeUpdated, mealID)
	}
	return ok
}

// Get returns the entry for mealID.
func (o *Overlay) Get(mealID string) (types.OptimisticMeal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.entries[mealID]
	return entry, ok
}

// Fail marks an entry as failed with message. Failed entries stay visible
// until removed; they are never promoted.
func (o *Overlay) Fail(mealID, message string) bool {
	o.mu.Lock()
	entry, ok := o.entries[mealID]
	if ok {
		entry.Status = types.StatusError
		entry.ErrorMessage = &message
		o.entries[mealID] = entry
	}
	o.mu.Unlock()

	if ok {
		o.publish(types.ChangeUpdated, mealID)
	}
	return ok
}

// Remove drops the entry for mealID.
func (o *Overlay) Remove(mealID string) bool {
	o.mu.Lock()
	_, ok := o.entries[mealID]
	delete(o.entries, mealID)
	o.mu.Unlock()

	if ok {
		o.publish(types.ChangeDeleted, mealID)
	}
	return ok
}

// List returns all entries, newest first.
func (o *Overlay) List() []types.OptimisticMeal {
	o.mu.RLock()
	list := make([]types.OptimisticMeal, 0, len(o.entries))
	for _, entry := range o.entries {
		list = append(list, entry)
	}
	o.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].MealID > list[j].MealID
		}
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	return list
}

// Len returns the number of entries.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

func (o *Overlay) publish(kind types.ChangeKind, mealID string) {
	o.broker.Publish(types.Change{Source: types.SourceOverlay, Kind: kind, MealID: mealID})
}
