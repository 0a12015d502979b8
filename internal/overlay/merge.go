package overlay

import "github.com/adamavenir/mealsync/internal/types"

// Merge builds the pending-or-real list. Optimistic entries come first in
// the order given unless a durable row with the same meal_id exists, in
// which case the durable row wins. Durable rows follow in the order given.
func Merge(optimistic []types.OptimisticMeal, durable []types.MealRecord) []types.MealView {
	known := make(map[string]struct{}, len(durable))
	for _, record := range durable {
		if record.MealID != nil {
			known[*record.MealID] = struct{}{}
		}
	}

	views := make([]types.MealView, 0, len(optimistic)+len(durable))
	for i := range optimistic {
		entry := optimistic[i]
		if _, ok := known[entry.MealID]; ok {
			continue
		}
		views = append(views, types.MealView{MealID: entry.MealID, Optimistic: &entry})
	}
	for i := range durable {
		record := durable[i]
		views = append(views, types.MealView{MealID: record.MealIDValue(), Record: &record})
	}
	return views
}

// View merges the overlay's current entries with durable.
func (o *Overlay) View(durable []types.MealRecord) []types.MealView {
	return Merge(o.List(), durable)
}
