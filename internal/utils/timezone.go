package utils

import (
	"fmt"
	"sync"
	"time"
)

// locations caches loaded IANA zones. The scheduler localizes the clock on
// every frame computation, so repeated LoadLocation calls add up.
var locations sync.Map

func loadLocation(timezone string) (*time.Location, error) {
	if cached, ok := locations.Load(timezone); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	locations.Store(timezone, loc)
	return loc, nil
}

// IsValidTimezone reports whether timezone names a zone in the IANA database.
func IsValidTimezone(timezone string) bool {
	if timezone == "" {
		return false
	}
	_, err := loadLocation(timezone)
	return err == nil
}

// ConvertTimeToTimezone localizes t into the device's configured timezone.
// An empty timezone means UTC, which is also what new devices default to.
func ConvertTimeToTimezone(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		return t.UTC(), nil
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return t.In(loc), nil
}
