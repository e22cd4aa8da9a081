package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	cronlib "github.com/robfig/cron/v3"
)

// DailySchedule is a validated "minute hour * * *" cron expression bound to a timezone.
type DailySchedule struct {
	Minute   int
	Hour     int
	Location *time.Location

	spec cronlib.Schedule
}

// ParseDailySchedule accepts only daily fixed-time patterns. Anything else
// (steps, lists, ranges, names, non-wildcard day/month/weekday) is rejected
// with ErrUnsupportedCron. An empty timezone means UTC.
func ParseDailySchedule(expr, timezone string) (*DailySchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
	}
	for _, f := range fields[2:] {
		if f != "*" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedCron, expr)
		}
	}

	minute, err := fixedField(fields[0], 59)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: minute %v", ErrUnsupportedCron, expr, err)
	}
	hour, err := fixedField(fields[1], 23)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: hour %v", ErrUnsupportedCron, expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}

	spec, err := cronlib.ParseStandard(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedCron, expr, err)
	}

	return &DailySchedule{Minute: minute, Hour: hour, Location: loc, spec: spec}, nil
}

// Next returns the first fire time strictly after t.
func (s *DailySchedule) Next(t time.Time) time.Time {
	// the parsed spec has no location of its own, so it follows the input's
	return s.spec.Next(t.In(s.Location))
}

func fixedField(f string, max int) (int, error) {
	for _, r := range f {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a fixed number", f)
		}
	}
	v, err := strconv.Atoi(f)
	if err != nil {
		return 0, err
	}
	if v > max {
		return 0, fmt.Errorf("%d out of range 0-%d", v, max)
	}
	return v, nil
}
