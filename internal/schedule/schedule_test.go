package schedule

import (
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tronbyt/server/internal/database"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", value)
	if err != nil {
		t.Fatalf("bad test date %q: %v", value, err)
	}
	return parsed
}

func TestInClockWindow(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		now   string
		want  bool
	}{
		{"inside simple window", "08:00", "17:00", "2026-03-02 12:00", true},
		{"before simple window", "08:00", "17:00", "2026-03-02 07:59", false},
		{"after simple window", "08:00", "17:00", "2026-03-02 17:01", false},
		{"start boundary inclusive", "08:00", "17:00", "2026-03-02 08:00", true},
		{"end boundary inclusive", "08:00", "17:00", "2026-03-02 17:00", true},
		{"end boundary with seconds", "00:00", "23:59", "2026-03-02 23:59", true},
		{"overnight late evening", "22:00", "06:00", "2026-03-02 23:30", true},
		{"overnight early morning", "22:00", "06:00", "2026-03-02 05:00", true},
		{"overnight midday excluded", "22:00", "06:00", "2026-03-02 12:00", false},
		{"missing start defaults to midnight", "", "17:00", "2026-03-02 00:00", true},
		{"missing end defaults to 23:59", "08:00", "", "2026-03-02 23:59", true},
		{"malformed values pass everything", "banana", "25:99", "2026-03-02 12:00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := mustDate(t, tt.now)
			if got := InClockWindow(tt.start, tt.end, now); got != tt.want {
				t.Errorf("InClockWindow(%q, %q, %s) = %v, want %v", tt.start, tt.end, tt.now, got, tt.want)
			}
		})
	}
}

func TestIsActiveLegacyDays(t *testing.T) {
	app := &database.App{
		Days: datatypes.JSONSlice[string]{"monday", "wednesday"},
	}

	monday := mustDate(t, "2026-03-02 12:00")
	if !IsActive(app, monday) {
		t.Error("expected active on monday")
	}

	tuesday := mustDate(t, "2026-03-03 12:00")
	if IsActive(app, tuesday) {
		t.Error("expected inactive on tuesday")
	}

	app.Days = nil
	if !IsActive(app, tuesday) {
		t.Error("empty day set should allow every day")
	}
}

func TestIsActiveDailyRecurrence(t *testing.T) {
	start := mustDate(t, "2026-03-02 00:00")
	app := &database.App{
		UseCustomRecurrence: true,
		RecurrenceType:      "daily",
		RecurrenceInterval:  3,
		RecurrenceStart:     &start,
	}

	if !IsActive(app, mustDate(t, "2026-03-02 10:00")) {
		t.Error("expected active on start date")
	}
	if IsActive(app, mustDate(t, "2026-03-03 10:00")) {
		t.Error("expected inactive one day after start")
	}
	if !IsActive(app, mustDate(t, "2026-03-05 10:00")) {
		t.Error("expected active three days after start")
	}
	if IsActive(app, mustDate(t, "2026-03-01 10:00")) {
		t.Error("expected inactive before start date")
	}
}

func TestIsActiveWeeklyRecurrence(t *testing.T) {
	start := mustDate(t, "2026-03-02 00:00") // a Monday
	app := &database.App{
		UseCustomRecurrence: true,
		RecurrenceType:      "weekly",
		RecurrenceInterval:  2,
		RecurrenceStart:     &start,
		RecurrencePattern: datatypes.JSONMap{
			"weekdays": []interface{}{"monday", "friday"},
		},
	}

	if !IsActive(app, mustDate(t, "2026-03-02 10:00")) {
		t.Error("expected active on start monday")
	}
	if !IsActive(app, mustDate(t, "2026-03-06 10:00")) {
		t.Error("expected active on friday of the start week")
	}
	if IsActive(app, mustDate(t, "2026-03-09 10:00")) {
		t.Error("expected inactive on monday of an off week")
	}
	if !IsActive(app, mustDate(t, "2026-03-16 10:00")) {
		t.Error("expected active on monday two weeks after start")
	}
	if IsActive(app, mustDate(t, "2026-03-17 10:00")) {
		t.Error("expected inactive on a weekday outside the pattern")
	}
}

func TestIsActiveMonthlyRecurrence(t *testing.T) {
	start := mustDate(t, "2026-01-15 00:00")

	t.Run("day of month", func(t *testing.T) {
		app := &database.App{
			UseCustomRecurrence: true,
			RecurrenceType:      "monthly",
			RecurrenceInterval:  1,
			RecurrenceStart:     &start,
			RecurrencePattern:   datatypes.JSONMap{"day_of_month": float64(15)},
		}
		if !IsActive(app, mustDate(t, "2026-02-15 10:00")) {
			t.Error("expected active on the 15th")
		}
		if IsActive(app, mustDate(t, "2026-02-16 10:00")) {
			t.Error("expected inactive on the 16th")
		}
	})

	t.Run("interval skips months", func(t *testing.T) {
		app := &database.App{
			UseCustomRecurrence: true,
			RecurrenceType:      "monthly",
			RecurrenceInterval:  2,
			RecurrenceStart:     &start,
			RecurrencePattern:   datatypes.JSONMap{"day_of_month": float64(15)},
		}
		if IsActive(app, mustDate(t, "2026-02-15 10:00")) {
			t.Error("expected inactive in an off month")
		}
		if !IsActive(app, mustDate(t, "2026-03-15 10:00")) {
			t.Error("expected active two months after start")
		}
	})

	t.Run("first monday token", func(t *testing.T) {
		app := &database.App{
			UseCustomRecurrence: true,
			RecurrenceType:      "monthly",
			RecurrenceInterval:  1,
			RecurrenceStart:     &start,
			RecurrencePattern:   datatypes.JSONMap{"day_of_week": "first_monday"},
		}
		if !IsActive(app, mustDate(t, "2026-03-02 10:00")) {
			t.Error("expected active on the first monday of march")
		}
		if IsActive(app, mustDate(t, "2026-03-09 10:00")) {
			t.Error("expected inactive on the second monday")
		}
	})

	t.Run("last friday token", func(t *testing.T) {
		app := &database.App{
			UseCustomRecurrence: true,
			RecurrenceType:      "monthly",
			RecurrenceInterval:  1,
			RecurrenceStart:     &start,
			RecurrencePattern:   datatypes.JSONMap{"day_of_week": "last_friday"},
		}
		if !IsActive(app, mustDate(t, "2026-03-27 10:00")) {
			t.Error("expected active on the last friday of march")
		}
		if IsActive(app, mustDate(t, "2026-03-20 10:00")) {
			t.Error("expected inactive on an earlier friday")
		}
	})
}

func TestIsActiveYearlyRecurrence(t *testing.T) {
	start := mustDate(t, "2024-07-04 00:00")
	app := &database.App{
		UseCustomRecurrence: true,
		RecurrenceType:      "yearly",
		RecurrenceInterval:  2,
		RecurrenceStart:     &start,
	}

	if !IsActive(app, mustDate(t, "2026-07-04 10:00")) {
		t.Error("expected active two years after start")
	}
	if IsActive(app, mustDate(t, "2025-07-04 10:00")) {
		t.Error("expected inactive in an off year")
	}
	if IsActive(app, mustDate(t, "2026-07-05 10:00")) {
		t.Error("expected inactive on a different date")
	}
}

func TestIsActiveRecurrenceBounds(t *testing.T) {
	start := mustDate(t, "2026-03-01 00:00")
	end := mustDate(t, "2026-03-10 00:00")
	app := &database.App{
		UseCustomRecurrence: true,
		RecurrenceType:      "daily",
		RecurrenceInterval:  1,
		RecurrenceStart:     &start,
		RecurrenceEnd:       &end,
	}

	if !IsActive(app, mustDate(t, "2026-03-10 10:00")) {
		t.Error("expected active on the end date itself")
	}
	if IsActive(app, mustDate(t, "2026-03-11 10:00")) {
		t.Error("expected inactive past the end date")
	}

	app.RecurrenceStart = nil
	if IsActive(app, mustDate(t, "2026-03-05 10:00")) {
		t.Error("recurrence without a start date should never match")
	}
}

func TestIsActiveCombinesWindowAndRecurrence(t *testing.T) {
	start := mustDate(t, "2026-03-02 00:00")
	app := &database.App{
		StartTime:           "08:00",
		EndTime:             "17:00",
		UseCustomRecurrence: true,
		RecurrenceType:      "daily",
		RecurrenceInterval:  1,
		RecurrenceStart:     &start,
	}

	if !IsActive(app, mustDate(t, "2026-03-02 12:00")) {
		t.Error("expected active inside window on a matching day")
	}
	if IsActive(app, mustDate(t, "2026-03-02 18:00")) {
		t.Error("expected inactive outside the clock window")
	}
}
