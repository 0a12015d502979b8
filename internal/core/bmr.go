package core

import (
	"errors"
	"strings"
)

// EstimateBMR estimates basal metabolic rate in kcal/day with the
// Mifflin-St Jeor equation. sex is "male" or "female".
func EstimateBMR(sex string, weightKg, heightCm float64, age int) (float64, error) {
	if weightKg <= 0 || heightCm <= 0 || age <= 0 {
		return 0, errors.New("weight, height and age must be positive")
	}
	if heightCm < 50 || heightCm > 250 || weightKg < 10 || weightKg > 400 || age > 120 {
		return 0, errors.New("weight/height/age out of plausible range")
	}

	base := 10*weightKg + 6.25*heightCm - 5*float64(age)
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "male", "m":
		return base + 5, nil
	case "female", "f":
		return base - 161, nil
	default:
		return 0, errors.New("sex must be male or female")
	}
}
