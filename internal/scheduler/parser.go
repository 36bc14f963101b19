package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field form: minute, hour, day of month,
// month, day of week. Names (MON, JAN) are allowed; descriptors (@daily) are not.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule, nil
}

// NextRun computes the fire instant strictly after the reference time.
// The zero time means the expression never fires again.
func NextRun(schedule cron.Schedule, after time.Time) time.Time {
	return schedule.Next(after)
}
