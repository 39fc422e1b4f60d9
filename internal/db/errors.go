package db

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUserNotFound is returned when a user row does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrRuleNotFound is returned when a rule row does not exist.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrCommandNotFound is returned when a command row does not exist.
	ErrCommandNotFound = errors.New("command not found")
	// ErrUserExists is returned when a user name or API key is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInsufficientCredits is returned when a compare-and-decrement finds no credit to take.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStatusChanged is returned when a guarded status update finds the row in another state.
	ErrStatusChanged = errors.New("command status changed concurrently")
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if containsIgnoreCase(errStr, "FOREIGN KEY") {
		return false
	}
	return containsIgnoreCase(errStr, "UNIQUE constraint failed")
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
