package scheduler

import "errors"

var (
	// ErrInvalidCron is returned when a cron expression fails to parse
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrNotRegistered is returned when rescheduling an id the trigger engine does not know
	ErrNotRegistered = errors.New("schedule not registered")
)
