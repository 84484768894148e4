package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

const hourlySpec = "@hourly"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Hourly wakes at minute zero of every hour, strictly after the given time.
func Hourly() cron.Schedule {
	s, err := parser.Parse(hourlySpec)
	if err != nil {
		// constant expression
		panic(err)
	}
	return s
}

// UntilNext returns how long to wait from now until s fires next, evaluated in
// UTC. It never returns a negative duration; 0 means "do not sleep".
func UntilNext(s cron.Schedule, now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	next := s.Next(now.UTC())
	if next.IsZero() {
		return 0
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
