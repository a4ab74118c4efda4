// Package outreach runs the two lead jobs: the paced nightly send and the
// morning bounce verification.
package outreach

import (
	"fmt"
	"time"

	"github.com/shineum/outreach-mailer/internal/email"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24-hour).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Settings is the immutable job configuration shared by the scheduler,
// reconciler and runner.
type Settings struct {
	Location  *time.Location
	Curfew    Clock
	Pacing    time.Duration
	From      string
	Templates *Templates
	Query     email.SearchQuery
	Admins    []string
}

// HardStop returns the next occurrence of curfew in loc strictly after now.
func HardStop(now time.Time, curfew Clock, loc *time.Location) time.Time {
	local := now.In(loc)
	stop := time.Date(local.Year(), local.Month(), local.Day(), curfew.Hour, curfew.Minute, 0, 0, loc)
	if !stop.After(local) {
		stop = time.Date(local.Year(), local.Month(), local.Day()+1, curfew.Hour, curfew.Minute, 0, 0, loc)
	}
	return stop
}
