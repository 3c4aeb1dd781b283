package syncer

import (
	"fmt"
	"time"

	"github.com/JakeFAU/healthsync/internal/source"
)

// Yesterday returns midnight of the day before now, in now's location.
func Yesterday(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, now.Location())
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(source.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", value, err)
	}
	return day, nil
}
