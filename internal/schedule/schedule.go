// Package schedule decides whether an installed app is inside its display
// window at a given local time. It handles the legacy weekday-set filter as
// well as custom daily/weekly/monthly/yearly recurrence rules.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/tronbyt/server/internal/database"
)

// parseClock parses "HH:MM" into minutes since midnight. ok is false for
// missing or malformed values so the caller can apply its default.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// InClockWindow reports whether the time of day of now falls inside
// [start, end], both inclusive. A start later than the end means the window
// wraps past midnight. Missing values default to 00:00 and 23:59.
func InClockWindow(startStr, endStr string, now time.Time) bool {
	start, ok := parseClock(startStr)
	if !ok {
		start = 0
	}
	end, ok := parseClock(endStr)
	if !ok {
		end = 23*60 + 59
	}

	nowMin := now.Hour()*60 + now.Minute()
	if start <= end {
		return nowMin >= start && nowMin <= end
	}
	// Overnight wrap
	return nowMin >= start || nowMin <= end
}

// IsActive reports whether the app may be displayed at the given time.
// now must already be localized to the device timezone.
func IsActive(app *database.App, now time.Time) bool {
	if !InClockWindow(app.StartTime, app.EndTime, now) {
		return false
	}
	if app.UseCustomRecurrence {
		return recurrenceActive(app, now)
	}
	return dayAllowed(app.Days, now.Weekday())
}

// dayAllowed applies the legacy weekday-name filter; an empty set means
// every day
func dayAllowed(days []string, weekday time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	name := strings.ToLower(weekday.String())
	for _, d := range days {
		if strings.ToLower(d) == name {
			return true
		}
	}
	return false
}

// dateOnly truncates a time to midnight in its own location
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekStart returns the Monday midnight beginning the week containing t
func weekStart(t time.Time) time.Time {
	d := dateOnly(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func recurrenceActive(app *database.App, now time.Time) bool {
	if app.RecurrenceStart == nil {
		return false
	}
	start := dateOnly(app.RecurrenceStart.In(now.Location()))
	today := dateOnly(now)

	if today.Before(start) {
		return false
	}
	if app.RecurrenceEnd != nil && today.After(dateOnly(app.RecurrenceEnd.In(now.Location()))) {
		return false
	}

	interval := app.RecurrenceInterval
	if interval < 1 {
		interval = 1
	}

	switch app.RecurrenceType {
	case "daily":
		days := int(today.Sub(start).Hours() / 24)
		return days%interval == 0

	case "weekly":
		if !patternHasWeekday(app.RecurrencePattern, now.Weekday()) {
			return false
		}
		weeks := int(weekStart(today).Sub(weekStart(start)).Hours() / (24 * 7))
		return weeks%interval == 0

	case "monthly":
		months := (today.Year()-start.Year())*12 + int(today.Month()) - int(start.Month())
		if months%interval != 0 {
			return false
		}
		if dom, ok := patternInt(app.RecurrencePattern, "day_of_month"); ok {
			return today.Day() == dom
		}
		if token, ok := patternString(app.RecurrencePattern, "day_of_week"); ok {
			return matchesMonthlyWeekday(token, today)
		}
		// No pattern: anchor to the start date's day of month
		return today.Day() == start.Day()

	case "yearly":
		if today.Month() != start.Month() || today.Day() != start.Day() {
			return false
		}
		return (today.Year()-start.Year())%interval == 0
	}

	return false
}

// matchesMonthlyWeekday evaluates tokens like "first_monday" or
// "last_friday" against a date
func matchesMonthlyWeekday(token string, today time.Time) bool {
	parts := strings.SplitN(strings.ToLower(token), "_", 2)
	if len(parts) != 2 {
		return false
	}
	ordinal, weekdayName := parts[0], parts[1]

	var weekday time.Weekday
	found := false
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.ToLower(wd.String()) == weekdayName {
			weekday = wd
			found = true
			break
		}
	}
	if !found || today.Weekday() != weekday {
		return false
	}

	if ordinal == "last" {
		// Last occurrence: no same weekday later in this month
		return today.AddDate(0, 0, 7).Month() != today.Month()
	}

	nth := map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5}[ordinal]
	if nth == 0 {
		return false
	}
	return (today.Day()-1)/7+1 == nth
}

// Pattern accessors tolerate the loosely typed JSON map storage

func patternInt(pattern map[string]interface{}, key string) (int, bool) {
	v, ok := pattern[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func patternString(pattern map[string]interface{}, key string) (string, bool) {
	v, ok := pattern[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func patternHasWeekday(pattern map[string]interface{}, weekday time.Weekday) bool {
	v, ok := pattern["weekdays"]
	if !ok {
		return false
	}
	list, ok := v.([]interface{})
	if !ok {
		return false
	}
	name := strings.ToLower(weekday.String())
	for _, item := range list {
		if s, ok := item.(string); ok && strings.ToLower(s) == name {
			return true
		}
	}
	return false
}
