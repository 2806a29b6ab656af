package incidents

import (
	"strings"
	"time"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD value as a UTC calendar date.
// An empty value resolves to the UTC date of now.
func ParseDay(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if len(value) != len(DateLayout) {
		return time.Time{}, ErrInvalidDate
	}
	day, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day, nil
}

// DayRange returns the inclusive bounds [D 00:00:00.000Z, D 23:59:59.999Z].
// Each bound is built from the calendar fields so neither depends on the other.
func DayRange(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	return start, end
}
