// Package quarter maps calendar dates onto calendar quarters.
package quarter

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var labelPattern = regexp.MustCompile(`^(\d{4})\s*-?\s*[Qq]([1-4])$`)

// ParseLabel resolves a "2024-Q1" style token to the quarter start date in UTC.
// "2024Q1", "2024-q1" and "2024 Q1" are accepted too.
func ParseLabel(label string) (time.Time, error) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid quarter label %q", label)
	}
	year, _ := strconv.Atoi(m[1])
	n, _ := strconv.Atoi(m[2])
	return time.Date(year, time.Month(3*(n-1)+1), 1, 0, 0, 0, 0, time.UTC), nil
}

// Of returns the quarter of year (1-4) containing t.
func Of(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// Start returns the first day of the quarter containing t.
func Start(t time.Time) time.Time {
	return time.Date(t.Year(), time.Month(3*(Of(t)-1)+1), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first day of the last month of the quarter containing t.
func End(t time.Time) time.Time {
	return Start(t).AddDate(0, 2, 0)
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Months returns the three month starts of the quarter containing t.
func Months(t time.Time) [3]time.Time {
	s := Start(t)
	return [3]time.Time{s, s.AddDate(0, 1, 0), s.AddDate(0, 2, 0)}
}

// Label formats the quarter containing t as "2024-Q1".
func Label(t time.Time) string {
	return fmt.Sprintf("%d-Q%d", t.Year(), Of(t))
}
