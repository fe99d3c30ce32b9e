package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule returns the next activation strictly after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

type every struct {
	interval time.Duration
}

// Every runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &every{interval: d}
}

func (s *every) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

// Daily runs at hour:minute UTC each day.
func Daily(hour, minute int) Schedule {
	return &daily{hour: hour, minute: minute, loc: time.UTC}
}

func (s *daily) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weekly struct {
	day          time.Weekday
	hour, minute int
	loc          *time.Location
}

// Weekly runs on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weekly{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weekly) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse builds a Schedule from a five-field cron expression or a
// descriptor such as "@hourly" or "@every 5m".
func Parse(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// Cron is like Parse but panics on an invalid expression.
func Cron(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}
