package scheduler

import (
	"fmt"
	"time"
)

// ParseClock parses "HH:MM" (24h) into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler: bad time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRun returns the next wall-clock hour:minute in loc strictly after now:
// today if it is still ahead, otherwise tomorrow.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)

	today := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if local.Before(today) {
		return today
	}
	return time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
