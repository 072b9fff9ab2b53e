package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when a cron expression or timezone cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses a standard 5-field cron expression evaluated in tz
// (IANA name, empty means UTC).
func ParseSchedule(cronExpr, tz string) (cron.Schedule, *time.Location, error) {
	loc := time.UTC

	if tz != "" {
		var err error

		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, tz, err)
		}
	}

	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cron %q: %w", ErrInvalidSchedule, cronExpr, err)
	}

	return schedule, loc, nil
}

// NextFireTime is the pure (cron, timezone, now) -> next fire time function.
func NextFireTime(cronExpr, tz string, now time.Time) (time.Time, error) {
	schedule, loc, err := ParseSchedule(cronExpr, tz)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(now.In(loc)).UTC(), nil
}
