package overlay

import (
	"testing"
	"time"

	"github.com/adamavenir/mealsync/internal/events"
	"github.com/adamavenir/mealsync/internal/types"
)

func newTestOverlay(t *testing.T) (*Overlay, *events.Subscription) {
	t.Helper()
	broker := events.NewBroker()
	sub := broker.Subscribe()
	t.Cleanup(sub.Close)

	o := New(broker)
	tick := time.Unix(1000, 0)
	o.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return o, sub
}

func TestPutFailRemove(t *testing.T) {
	o, sub := newTestOverlay(t)

	entry := o.Put("m1", "file:///tmp/a.jpg")
	if entry.Status != types.StatusUploading {
		t.Fatalf("expected uploading, got %s", entry.Status)
	}
	if change := <-sub.C; change.Kind != types.ChangeInserted || change.Source != types.SourceOverlay {
		t.Fatalf("unexpected change: %+v", change)
	}

	if !o.Fail("m1", "network down") {
		t.Fatal("expected fail to find entry")
	}
	got, ok := o.Get("m1")
	if !ok || got.Status != types.StatusError || got.ErrorMessage == nil || *got.ErrorMessage != "network down" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if !o.Remove("m1") {
		t.Fatal("expected remove to find entry")
	}
	if o.Remove("m1") {
		t.Fatal("second remove must report false")
	}
	if o.Fail("m1", "late") {
		t.Fatal("fail on removed entry must report false")
	}
	if o.Len() != 0 {
		t.Fatalf("expected empty overlay, got %d", o.Len())
	}
}

func TestListNewestFirst(t *testing.T) {
	o, _ := newTestOverlay(t)
	o.Put("first", "a")
	o.Put("second", "b")
	o.Put("third", "c")

	list := o.List()
	if len(list) != 3 || list[0].MealID != "third" || list[2].MealID != "first" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestMergeDurableRowWins(t *testing.T) {
	o, _ := newTestOverlay(t)
	o.Put("m1", "a")
	o.Put("m2", "b")

	mealID := "m1"
	durable := []types.MealRecord{
		{ID: 1, MealID: &mealID, Status: types.StatusAnalyzing, CreatedAt: 2000},
		{ID: 2, Status: types.StatusComplete, CreatedAt: 1000},
	}
	views := o.View(durable)
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	if views[0].MealID != "m2" || views[0].Optimistic == nil {
		t.Fatalf("expected optimistic m2 first, got %+v", views[0])
	}
	if views[1].MealID != "m1" || views[1].Record == nil || views[1].Optimistic != nil {
		t.Fatalf("expected durable m1 to replace its optimistic entry, got %+v", views[1])
	}
	if views[2].Record == nil || views[2].Record.ID != 2 {
		t.Fatalf("expected anonymous durable row last, got %+v", views[2])
	}
}
