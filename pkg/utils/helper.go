package utils

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// ParseInt converts string to int with default value
func ParseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	if result < 1 {
		return defaultValue
	}

	return result
}

// ParseTime accepts RFC3339 timestamps or plain dates (2006-01-02).
// An empty value yields defaultValue.
func ParseTime(value string, defaultValue time.Time) (time.Time, error) {
	if value == "" {
		return defaultValue, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339 or YYYY-MM-DD", value)
	}
	return t, nil
}

// GenerateBookingReference creates a human readable booking reference.
func GenerateBookingReference(now time.Time) string {
	// Format: TRIP-YYYYMMDD-HHMMSS-RANDOM
	datePart := now.Format("20060102")
	timePart := now.Format("150405")
	randomPart := fmt.Sprintf("%04d", rand.Intn(10000))

	return fmt.Sprintf("TRIP-%s-%s-%s", datePart, timePart, randomPart)
}
