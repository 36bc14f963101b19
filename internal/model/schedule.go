package model

import (
	"encoding/json"
	"time"
)

// ScheduleStatus represents the lifecycle state of a schedule
type ScheduleStatus string

const (
	ScheduleStatusActive ScheduleStatus = "active"
	ScheduleStatusPaused ScheduleStatus = "paused"
	ScheduleStatusError  ScheduleStatus = "error"
)

// Schedule represents a persisted recurring or on-demand job definition
type Schedule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	CronExpression string          `json:"cron_expression"`
	ExecutorName   string          `json:"executor_name"`
	ExecutorInput  json.RawMessage `json:"executor_input,omitempty"`
	Status         ScheduleStatus  `json:"status"`
	RunCount       int64           `json:"run_count"`

	// Timeout bounds a single execution attempt. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}
