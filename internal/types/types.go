package types

import "time"

// Status is the analysis state of a meal.
type Status string

const (
	// StatusUploading exists only for optimistic entries, never durably.
	StatusUploading Status = "uploading"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// Durable reports whether the status may be stored in the meal table.
func (s Status) Durable() bool {
	switch s {
	case StatusAnalyzing, StatusComplete, StatusError:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusUploading: {StatusAnalyzing, StatusError},
	StatusAnalyzing: {StatusComplete, StatusError},
	StatusComplete:  {StatusAnalyzing},
	StatusError:     {StatusAnalyzing},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ingredient is one component of an analysed meal, in grams.
type Ingredient struct {
	Name     string  `json:"name"`
	Carbs    float64 `json:"carbs"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
}

// Analysis is the server-provided result stored as last_analysis.
type Analysis struct {
	MealID      string       `json:"meal_id"`
	MealName    string       `json:"meal_name"`
	Ingredients []Ingredient `json:"ingredients"`
	Timestamp   string       `json:"timestamp"`
}

// ParsedTimestamp parses the analysis timestamp as RFC 3339.
func (a Analysis) ParsedTimestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, a.Timestamp)
}

// MealRecord is one durable meal row.
type MealRecord struct {
	ID           int64     `json:"id"`
	MealID       *string   `json:"meal_id,omitempty"`
	ImageURI     string    `json:"image_uri"`
	Favorite     bool      `json:"favorite"`
	Status       Status    `json:"status"`
	CreatedAt    int64     `json:"created_at"`
	LastAnalysis *Analysis `json:"last_analysis,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	// AnalyzingSince is when the current analysis attempt began (unix seconds).
	AnalyzingSince *int64 `json:"analyzing_since,omitempty"`
}

// MealIDValue returns the meal id or an empty string for anonymous rows.
func (m MealRecord) MealIDValue() string {
	if m.MealID == nil {
		return ""
	}
	return *m.MealID
}

// NewMeal holds the fields for inserting a meal row.
type NewMeal struct {
	MealID    *string
	ImageURI  string
	CreatedAt int64
	Status    Status
}

// MealPatch is a partial update applied by meal_id. Nil fields are left alone.
type MealPatch struct {
	Status       *Status
	LastAnalysis *Analysis
	ErrorMessage *string
	Favorite     *bool
}

// MealSnapshot captures the analysis state of a row so it can be restored
// after a failed optimistic change.
type MealSnapshot struct {
	MealID       string
	Status       Status
	LastAnalysis *Analysis
	ErrorMessage *string
}

// OptimisticMeal is an in-memory entry shown before a durable row exists.
type OptimisticMeal struct {
	MealID       string    `json:"meal_id"`
	ImageURI     string    `json:"image_uri"`
	Status       Status    `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// MealView is one entry of the merged pending-or-real list.
type MealView struct {
	MealID     string          `json:"meal_id"`
	Optimistic *OptimisticMeal `json:"optimistic,omitempty"`
	Record     *MealRecord     `json:"record,omitempty"`
}

// PushEvent is the event name carried by push messages.
type PushEvent string

const (
	EventAnalysisComplete PushEvent = "analysis_complete"
	EventAnalysisFailed   PushEvent = "analysis_failed"
)

// PushData is the analysis payload of a completion message.
type PushData struct {
	MealName    string       `json:"meal_name"`
	Ingredients []Ingredient `json:"ingredients"`
	Timestamp   string       `json:"timestamp"`
}

// PushMessage is one decoded message from the push channel.
type PushMessage struct {
	MealID string    `json:"meal_id"`
	Event  PushEvent `json:"event"`
	Data   *PushData `json:"data,omitempty"`
	Error  *string   `json:"error,omitempty"`
}

// ChangeSource identifies which layer produced a change.
type ChangeSource string

const (
	SourceStore   ChangeSource = "store"
	SourceOverlay ChangeSource = "overlay"
)

// ChangeKind describes what happened to a meal.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is delivered to subscribers when meal state changes.
type Change struct {
	Source ChangeSource `json:"source"`
	Kind   ChangeKind   `json:"kind"`
	MealID string       `json:"meal_id,omitempty"`
	ID     int64        `json:"id,omitempty"`
}
