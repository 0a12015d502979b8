package core

import "github.com/adamavenir/mealsync/internal/types"

// Energy per gram of each macronutrient, in kcal.
const (
	KcalPerGramCarbs   = 4
	KcalPerGramProtein = 4
	KcalPerGramFat     = 9
)

// Macros aggregates grams of each macronutrient.
type Macros struct {
	Carbs    float64 `json:"carbs"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
}

// Calories derives kcal from the macro totals.
func (m Macros) Calories() float64 {
	return m.Carbs*KcalPerGramCarbs + m.Proteins*KcalPerGramProtein + m.Fats*KcalPerGramFat
}

// Add returns the sum of two macro totals.
func (m Macros) Add(other Macros) Macros {
	return Macros{
		Carbs:    m.Carbs + other.Carbs,
		Proteins: m.Proteins + other.Proteins,
		Fats:     m.Fats + other.Fats,
	}
}

// IngredientCalories derives kcal for a single ingredient.
func IngredientCalories(ing types.Ingredient) float64 {
	return MacrosOf([]types.Ingredient{ing}).Calories()
}

// MacrosOf totals the ingredients of a meal.
func MacrosOf(ingredients []types.Ingredient) Macros {
	var total Macros
	for _, ing := range ingredients {
		total = total.Add(Macros{Carbs: ing.Carbs, Proteins: ing.Proteins, Fats: ing.Fats})
	}
	return total
}

// AnalysisMacros totals an analysis. A nil analysis contributes nothing.
func AnalysisMacros(analysis *types.Analysis) Macros {
	if analysis == nil {
		return Macros{}
	}
	return MacrosOf(analysis.Ingredients)
}

// MealCalories derives kcal for a meal record, zero unless it is complete.
func MealCalories(record types.MealRecord) float64 {
	if record.Status != types.StatusComplete {
		return 0
	}
	return AnalysisMacros(record.LastAnalysis).Calories()
}

// Summary totals a set of meals against an energy target.
type Summary struct {
	Meals     int     `json:"meals"`
	Pending   int     `json:"pending"`
	Failed    int     `json:"failed"`
	Macros    Macros  `json:"macros"`
	Calories  float64 `json:"calories"`
	Target    float64 `json:"target,omitempty"`
	Remaining float64 `json:"remaining,omitempty"`
}

// Summarize totals complete meals. bmr is the daily energy estimate in kcal;
// zero means unknown and leaves Target and Remaining unset.
func Summarize(records []types.MealRecord, bmr float64) Summary {
	summary := Summary{Meals: len(records)}
	for _, record := range records {
		switch record.Status {
		case types.StatusComplete:
			summary.Macros = summary.Macros.Add(AnalysisMacros(record.LastAnalysis))
		case types.StatusAnalyzing:
			summary.Pending++
		case types.StatusError:
			summary.Failed++
		}
	}
	summary.Calories = summary.Macros.Calories()
	if bmr > 0 {
		summary.Target = bmr
		summary.Remaining = bmr - summary.Calories
	}
	return summary
}
