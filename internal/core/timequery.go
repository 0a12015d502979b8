package core

import (
	"time"

	"github.com/adamavenir/mealsync/internal/types"
)

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns local midnight of the Monday of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DayBucket groups meals created on one local day.
type DayBucket struct {
	Day      time.Time `json:"day"`
	Calories float64   `json:"calories"`
	Meals    int       `json:"meals"`
}

// WeekBuckets splits meals created during the week containing now into
// seven daily buckets, Monday first. Meals outside that week are ignored.
func WeekBuckets(records []types.MealRecord, now time.Time) []DayBucket {
	start := StartOfWeek(now)
	buckets := make([]DayBucket, 7)
	for i := range buckets {
		buckets[i].Day = start.AddDate(0, 0, i)
	}
	for _, record := range records {
		day := StartOfDay(time.Unix(record.CreatedAt, 0).In(now.Location()))
		for i := range buckets {
			if buckets[i].Day.Equal(day) {
				buckets[i].Meals++
				buckets[i].Calories += MealCalories(record)
				break
			}
		}
	}
	return buckets
}
