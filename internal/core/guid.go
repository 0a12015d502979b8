package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewMealID returns a fresh client-generated meal id.
func NewMealID() string {
	return uuid.NewString()
}

// NormalizeMealID validates a meal id and returns its canonical form.
func NormalizeMealID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("meal id cannot be empty")
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid meal id %q: %w", value, err)
	}
	return parsed.String(), nil
}
