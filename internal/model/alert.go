package model

import "time"

// Alert represents a failure alert raised for a schedule
type Alert struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	Message    string    `json:"message"`
	Failures   int       `json:"failures"`
	RaisedAt   time.Time `json:"raised_at"`
}
